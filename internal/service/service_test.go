package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"upgradewatch/internal/components/testutil"
	"upgradewatch/internal/flights"
	"upgradewatch/internal/session"
	"upgradewatch/internal/tracker"
	"upgradewatch/internal/waitlist"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakePositions struct {
	requests []tracker.Request
	result   tracker.Result
	err      error
}

func (f *fakePositions) GetOrFetch(ctx context.Context, req tracker.Request) (tracker.Result, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type fakeHealth struct {
	healthy bool
	status  session.Status
}

func (f fakeHealth) Healthy() bool          { return f.healthy }
func (f fakeHealth) Status() session.Status { return f.status }

var capturedAt = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T, positions *fakePositions, health Health) (*httptest.Server, *Service) {
	svc := NewService(positions, health, testutil.NewFakeTime(capturedAt), testutil.NewTelemetry(t))
	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func post(t *testing.T, server *httptest.Server, body string) *http.Response {
	res, err := http.Post(server.URL+"/api/position", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestPosition(t *testing.T) {
	position := 2
	positions := &fakePositions{
		result: tracker.Result{
			CapturedAt: capturedAt,
			Segments: []tracker.SegmentResult{{
				Segment: flights.FlightSegment{
					FlightNumber: "100",
					Date:         "2026-10-17",
					Origin:       "SEA",
					Destination:  "ANC",
				},
				Snapshot: &flights.WaitlistSnapshot{
					Passengers: []string{"ABC/J", "XYZ/K"},
					Capacity:   flights.IntPtr(4),
					Available:  flights.IntPtr(2),
				},
				Position:      &position,
				LikelyUpgrade: true,
				Changes: &waitlist.Changes{
					Added:     []string{"ABC/J", "XYZ/K"},
					Removed:   []string{},
					Reordered: []waitlist.Reorder{},
				},
			}},
		},
	}
	server, svc := newServer(t, positions, nil)

	res := post(t, server, `{"flight_number":"100","flight_date":"2026-10-17","passenger":"xyz/k"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	id := res.Header.Get(requestIdHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	body := decode[positionResponse](t, res)
	require.Equal(t, id, body.RequestId)
	require.False(t, body.FromCache)
	require.True(t, body.CapturedAt.Equal(capturedAt))
	require.Len(t, body.Segments, 1)
	seg := body.Segments[0]
	require.Equal(t, "SEA", seg.Origin)
	require.Equal(t, []string{"ABC/J", "XYZ/K"}, seg.Passengers)
	require.Equal(t, 2, *seg.Position)
	require.Equal(t, 2, *seg.Available)
	require.Nil(t, seg.CheckedIn)
	require.True(t, seg.LikelyUpgrade)
	require.Equal(t, []string{"ABC/J", "XYZ/K"}, seg.Added)

	require.Equal(t, []tracker.Request{{
		FlightNumber: "100",
		Date:         "2026-10-17",
		Passenger:    "xyz/k",
	}}, positions.requests)
	require.Equal(t, 1.0, promtest.ToFloat64(svc.metrics.positions.WithLabelValues("fetched")))
	require.Equal(t, 1.0, promtest.ToFloat64(svc.metrics.requests.WithLabelValues("POST", "/api/position", "200")))
}

func TestPositionKeepsRequestId(t *testing.T) {
	server, _ := newServer(t, &fakePositions{}, nil)

	id := uuid.NewString()
	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/position", strings.NewReader(
		`{"flight_number":"100","flight_date":"2026-10-17","passenger":"ABC/J"}`,
	))
	require.NoError(t, err)
	req.Header.Set(requestIdHeader, id)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, id, res.Header.Get(requestIdHeader))
}

func TestPositionErrors(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		err        error
		status     int
		kind       tracker.Kind
		retryAfter string
	}{
		{
			name:   "missing fields",
			body:   `{"flight_number":"100"}`,
			status: http.StatusBadRequest,
			kind:   tracker.KindInvalidRequest,
		},
		{
			name:   "not json",
			body:   `flight_number=100`,
			status: http.StatusBadRequest,
			kind:   tracker.KindInvalidRequest,
		},
		{
			name:   "invalid date",
			err:    &tracker.Error{Kind: tracker.KindInvalidRequest, Message: "bad date"},
			status: http.StatusBadRequest,
			kind:   tracker.KindInvalidRequest,
		},
		{
			name:       "rate limited",
			err:        &tracker.Error{Kind: tracker.KindRateLimited, Message: "slow down", RetryAfter: 90500 * time.Millisecond},
			status:     http.StatusTooManyRequests,
			kind:       tracker.KindRateLimited,
			retryAfter: "91",
		},
		{
			name:   "challenge failed",
			err:    &tracker.Error{Kind: tracker.KindChallengeFailed, Message: "challenge"},
			status: http.StatusServiceUnavailable,
			kind:   tracker.KindChallengeFailed,
		},
		{
			name:   "session unavailable",
			err:    &tracker.Error{Kind: tracker.KindSessionUnavailable, Message: "session"},
			status: http.StatusServiceUnavailable,
			kind:   tracker.KindSessionUnavailable,
		},
		{
			name:   "transient connection",
			err:    &tracker.Error{Kind: tracker.KindTransientConnection, Message: "reset"},
			status: http.StatusServiceUnavailable,
			kind:   tracker.KindTransientConnection,
		},
		{
			name:   "no segments",
			err:    &tracker.Error{Kind: tracker.KindNoSegmentsFound, Message: "none"},
			status: http.StatusInternalServerError,
			kind:   tracker.KindNoSegmentsFound,
		},
		{
			name:   "unclassified",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			kind:   tracker.KindInternal,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			server, _ := newServer(t, &fakePositions{err: test.err}, nil)
			body := test.body
			if body == "" {
				body = `{"flight_number":"100","flight_date":"2026-10-17","passenger":"ABC/J"}`
			}

			res := post(t, server, body)
			require.Equal(t, test.status, res.StatusCode)
			require.Equal(t, test.retryAfter, res.Header.Get("Retry-After"))

			out := decode[errorResponse](t, res)
			require.Equal(t, string(test.kind), out.Kind)
			require.NotEmpty(t, out.Error)
			require.NotContains(t, out.Error, "boom")
		})
	}
}

func TestMissingFieldsNamed(t *testing.T) {
	positions := &fakePositions{}
	server, _ := newServer(t, positions, nil)

	res := post(t, server, `{"passenger":"ABC/J"}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	out := decode[errorResponse](t, res)
	require.Equal(t, "missing fields: flight_number, flight_date", out.Error)
	require.Empty(t, positions.requests)
}

func TestHealth(t *testing.T) {
	t.Run("without browser", func(t *testing.T) {
		server, _ := newServer(t, &fakePositions{}, nil)
		res, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer res.Body.Close()

		require.Equal(t, http.StatusOK, res.StatusCode)
		out := decode[healthResponse](t, res)
		require.True(t, out.Healthy)
		require.Nil(t, out.Session)
	})

	t.Run("unhealthy browser", func(t *testing.T) {
		health := fakeHealth{
			healthy: false,
			status:  session.Status{Launches: 3, LastError: "browser unavailable"},
		}
		server, _ := newServer(t, &fakePositions{}, health)
		res, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer res.Body.Close()

		require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
		out := decode[healthResponse](t, res)
		require.False(t, out.Healthy)
		require.Equal(t, 3, out.Session.Launches)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	health := fakeHealth{healthy: true, status: session.Status{Live: true, Launches: 2, Disconnects: 1}}
	server, _ := newServer(t, &fakePositions{}, health)

	post(t, server, `{"flight_number":"100","flight_date":"2026-10-17","passenger":"ABC/J"}`)

	res, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	text := string(raw)
	require.Contains(t, text, `upgradewatch_position_lookups_total{outcome="fetched"} 1`)
	require.Contains(t, text, "upgradewatch_browser_live 1")
	require.Contains(t, text, "upgradewatch_browser_launches_total 2")
	require.Contains(t, text, "upgradewatch_browser_disconnects_total 1")
	require.Contains(t, text, `http_requests_total{method="POST",route="/api/position",status="200"} 1`)
}
