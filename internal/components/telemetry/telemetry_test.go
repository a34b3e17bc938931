package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type recorder struct {
	ids []string
}

func (r *recorder) ReportBroken(id string, params ...any)  { r.ids = append(r.ids, "broken "+id) }
func (r *recorder) ReportWarning(id string, params ...any) { r.ids = append(r.ids, "warning "+id) }
func (r *recorder) ReportDebug(msg string, params ...any)  { r.ids = append(r.ids, "debug "+msg) }
func (r *recorder) ReportCount(id string, count int64)     { r.ids = append(r.ids, "count "+id) }

func TestScopedAPI(t *testing.T) {
	inner := &recorder{}
	tel := NewScopedAPI("tracker", NewScopedAPI("app", inner))

	tel.ReportBroken("persist", errors.New("disk full"))
	tel.ReportWarning("fetch-failed")
	tel.ReportDebug("cache hit")
	tel.ReportCount("waitlist-size", 3)

	require.Equal(t, []string{
		"broken app: tracker: persist",
		"warning app: tracker: fetch-failed",
		"debug app: tracker: cache hit",
		"count app: tracker: waitlist-size",
	}, inner.ids)
}

func TestKV(t *testing.T) {
	require.Equal(t, "flight=100", KV{Key: "flight", Value: "100"}.String())
}

func TestMeteredAPI(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	inner := &recorder{}
	tel := NewMeteredAPI(inner)
	tel.ReportWarning("challenge.resolve")
	tel.ReportWarning("challenge.resolve")
	tel.ReportBroken("tracker.persist")
	tel.ReportCount("engine.waitlist-size", 7)
	tel.ReportDebug("ignored by metrics")

	require.Len(t, inner.ids, 5)

	var collected metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &collected))

	byName := map[string]metricdata.Aggregation{}
	for _, scope := range collected.ScopeMetrics {
		for _, m := range scope.Metrics {
			byName[m.Name] = m.Data
		}
	}

	failures, ok := byName["report_failures"].(metricdata.Sum[int64])
	require.True(t, ok)
	total := int64(0)
	for _, point := range failures.DataPoints {
		total += point.Value
	}
	require.Equal(t, int64(3), total)
	require.Len(t, failures.DataPoints, 2)

	counts, ok := byName["report_count"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, counts.DataPoints, 1)
	require.Equal(t, int64(7), counts.DataPoints[0].Value)
}
