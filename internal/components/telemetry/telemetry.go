// Package telemetry is how every component reports failures, debug output
// and counts without depending on a concrete logger.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// API is implemented by SlogAPI in production and by a recorder in tests.
type API interface {
	// ReportBroken reports a component that is broken and needs attention.
	//
	// id names the component, not the line that failed: a failed navigation
	// inside the browser fetcher is "fetcher.fetch" with the error as a param.
	// ids are lowercase, words in a component joined by underscores, a method
	// of a component joined by a dash ("tracker.get-or-fetch").
	ReportBroken(id string, params ...any)

	// ReportWarning reports something expected to happen occasionally, like a
	// challenge that was not passed, that is still worth looking at in bulk.
	ReportWarning(id string, params ...any)

	ReportDebug(msg string, params ...any)

	// ReportCount is a point-in-time value such as a waitlist length, values
	// are not meant to be summed.
	ReportCount(id string, count int64)
}

// KV is a named param, it renders as "key=value" instead of a positional param.
type KV struct {
	Key   string
	Value any
}

func (kv KV) String() string {
	return fmt.Sprintf("%s=%v", kv.Key, kv.Value)
}

// ScopedAPI prefixes every id with a namespace, "session: launch".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scope(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scope(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scope(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scope(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scope(id), count)
}

// MeteredAPI forwards to inner and additionally exports counts as an otel
// gauge and failures as an otel counter, both labeled by id. Without an otel
// meter provider installed these are no-ops.
type MeteredAPI struct {
	inner    API
	counts   metric.Int64Gauge
	failures metric.Int64Counter

	mu  sync.Mutex
	ids map[string]attribute.Set
}

func NewMeteredAPI(inner API) *MeteredAPI {
	meter := otel.Meter("upgradewatch/telemetry")
	counts, _ := meter.Int64Gauge("report_count")
	failures, _ := meter.Int64Counter("report_failures")
	return &MeteredAPI{
		inner:    inner,
		counts:   counts,
		failures: failures,
		ids:      map[string]attribute.Set{},
	}
}

func (m *MeteredAPI) attrs(id, severity string) metric.MeasurementOption {
	key := severity + "|" + id
	m.mu.Lock()
	set, ok := m.ids[key]
	if !ok {
		set = attribute.NewSet(
			attribute.String("id", id),
			attribute.String("severity", severity),
		)
		m.ids[key] = set
	}
	m.mu.Unlock()
	return metric.WithAttributeSet(set)
}

func (m *MeteredAPI) ReportBroken(id string, params ...any) {
	m.failures.Add(context.Background(), 1, m.attrs(id, "broken"))
	m.inner.ReportBroken(id, params...)
}

func (m *MeteredAPI) ReportWarning(id string, params ...any) {
	m.failures.Add(context.Background(), 1, m.attrs(id, "warning"))
	m.inner.ReportWarning(id, params...)
}

func (m *MeteredAPI) ReportDebug(msg string, params ...any) {
	m.inner.ReportDebug(msg, params...)
}

func (m *MeteredAPI) ReportCount(id string, count int64) {
	m.counts.Record(context.Background(), count, m.attrs(id, "count"))
	m.inner.ReportCount(id, count)
}
