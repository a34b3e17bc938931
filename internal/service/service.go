// Package service exposes position lookups over HTTP.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/session"
	"upgradewatch/internal/tracker"

	"github.com/google/uuid"
)

const (
	report_lookup       = "service.lookup"
	report_encode       = "service.encode"
	report_bad_request  = "service.bad-request"
	report_unclassified = "service.unclassified"
)

const requestIdHeader = "X-Request-Id"

// maxBodyBytes bounds a position request body.
const maxBodyBytes = 1 << 14

// Positions looks up waitlist positions, implemented by tracker.Gateway.
type Positions interface {
	GetOrFetch(ctx context.Context, req tracker.Request) (tracker.Result, error)
}

// Health reports on the browser session, implemented by session.Manager.
type Health interface {
	Healthy() bool
	Status() session.Status
}

type Service struct {
	positions Positions
	// health is nil when pages are fetched without a browser.
	health  Health
	metrics metrics
	time    chrono.TimeAPI
	tel     telemetry.API
}

func NewService(positions Positions, health Health, clock chrono.TimeAPI, tel telemetry.API) *Service {
	assert.NotNil(positions)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return &Service{
		positions: positions,
		health:    health,
		metrics:   newMetrics(health),
		time:      clock,
		tel:       telemetry.NewScopedAPI("service", tel),
	}
}

// Handler routes every endpoint of the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/position", s.metrics.instrument("/api/position", http.HandlerFunc(s.handlePosition)))
	mux.Handle("GET /healthz", s.metrics.instrument("/healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", s.metrics.handler())
	return withRequestId(mux)
}

type requestIdKey struct{}

func withRequestId(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIdHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIdHeader, id)
		ctx := context.WithValue(r.Context(), requestIdKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestId(ctx context.Context) string {
	id, _ := ctx.Value(requestIdKey{}).(string)
	return id
}

type positionRequest struct {
	FlightNumber string `json:"flight_number"`
	FlightDate   string `json:"flight_date"`
	Passenger    string `json:"passenger"`
	ForceRefresh bool   `json:"force_refresh"`
}

func (r positionRequest) missing() []string {
	missing := []string{}
	if strings.TrimSpace(r.FlightNumber) == "" {
		missing = append(missing, "flight_number")
	}
	if strings.TrimSpace(r.FlightDate) == "" {
		missing = append(missing, "flight_date")
	}
	if strings.TrimSpace(r.Passenger) == "" {
		missing = append(missing, "passenger")
	}
	return missing
}

type segmentResponse struct {
	SegmentIndex  int      `json:"segment_index"`
	Origin        string   `json:"origin,omitempty"`
	Destination   string   `json:"destination,omitempty"`
	DepartureTime string   `json:"departure_time,omitempty"`
	ArrivalTime   string   `json:"arrival_time,omitempty"`
	Passengers    []string `json:"passengers"`
	Capacity      *int     `json:"capacity"`
	Available     *int     `json:"available"`
	CheckedIn     *int     `json:"checked_in"`
	Position      *int     `json:"position"`
	LikelyUpgrade bool     `json:"likely_upgrade"`
	Added         []string `json:"added,omitempty"`
	Removed       []string `json:"removed,omitempty"`
}

type positionResponse struct {
	RequestId    string            `json:"request_id"`
	FlightNumber string            `json:"flight_number"`
	FlightDate   string            `json:"flight_date"`
	FromCache    bool              `json:"from_cache"`
	CapturedAt   time.Time         `json:"captured_at"`
	Segments     []segmentResponse `json:"segments"`
}

type errorResponse struct {
	RequestId         string `json:"request_id"`
	Kind              string `json:"kind"`
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func toResponse(id string, req tracker.Request, result tracker.Result) positionResponse {
	res := positionResponse{
		RequestId:    id,
		FlightNumber: req.FlightNumber,
		FlightDate:   req.Date,
		FromCache:    result.FromCache,
		CapturedAt:   result.CapturedAt,
		Segments:     make([]segmentResponse, 0, len(result.Segments)),
	}
	for _, seg := range result.Segments {
		out := segmentResponse{
			SegmentIndex:  seg.Segment.SegmentIndex,
			Origin:        seg.Segment.Origin,
			Destination:   seg.Segment.Destination,
			DepartureTime: seg.Segment.DepartureTime,
			ArrivalTime:   seg.Segment.ArrivalTime,
			Passengers:    []string{},
			Position:      seg.Position,
			LikelyUpgrade: seg.LikelyUpgrade,
		}
		if seg.Snapshot != nil {
			out.Passengers = seg.Snapshot.Passengers
			out.Capacity = seg.Snapshot.Capacity
			out.Available = seg.Snapshot.Available
			out.CheckedIn = seg.Snapshot.CheckedIn
		}
		if seg.Changes != nil {
			out.Added = seg.Changes.Added
			out.Removed = seg.Changes.Removed
		}
		res.Segments = append(res.Segments, out)
	}
	return res
}

// statusOf maps a gateway error onto an HTTP status.
func statusOf(err *tracker.Error) int {
	switch {
	case err.Kind == tracker.KindInvalidRequest:
		return http.StatusBadRequest
	case err.Kind == tracker.KindRateLimited:
		return http.StatusTooManyRequests
	case err.Transient():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.tel.ReportBroken(report_encode, err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, ctx context.Context, err *tracker.Error) {
	status := statusOf(err)
	body := errorResponse{
		RequestId: requestId(ctx),
		Kind:      string(err.Kind),
		Error:     err.Message,
	}
	if err.Kind == tracker.KindRateLimited {
		seconds := int(math.Ceil(err.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		body.RetryAfterSeconds = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	s.writeJSON(w, status, body)
}

func (s *Service) handlePosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body positionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&body)
	if err != nil {
		s.tel.ReportWarning(report_bad_request, err, requestId(ctx))
		s.metrics.positions.WithLabelValues(string(tracker.KindInvalidRequest)).Inc()
		s.writeError(w, ctx, &tracker.Error{
			Kind:    tracker.KindInvalidRequest,
			Message: "request body must be a json object",
		})
		return
	}
	if missing := body.missing(); len(missing) > 0 {
		s.metrics.positions.WithLabelValues(string(tracker.KindInvalidRequest)).Inc()
		s.writeError(w, ctx, &tracker.Error{
			Kind:    tracker.KindInvalidRequest,
			Message: "missing fields: " + strings.Join(missing, ", "),
		})
		return
	}

	req := tracker.Request{
		FlightNumber: body.FlightNumber,
		Date:         body.FlightDate,
		Passenger:    body.Passenger,
		ForceRefresh: body.ForceRefresh,
	}
	result, err := s.positions.GetOrFetch(ctx, req)
	if err != nil {
		var gatewayErr *tracker.Error
		if !errors.As(err, &gatewayErr) {
			s.tel.ReportBroken(report_unclassified, err, requestId(ctx))
			gatewayErr = &tracker.Error{
				Kind:    tracker.KindInternal,
				Message: "internal error",
				Err:     err,
			}
		}
		if gatewayErr.Kind == tracker.KindInternal {
			s.tel.ReportWarning(report_lookup, err, requestId(ctx))
		}
		s.metrics.positions.WithLabelValues(string(gatewayErr.Kind)).Inc()
		s.writeError(w, ctx, gatewayErr)
		return
	}

	outcome := "fetched"
	if result.FromCache {
		outcome = "cache"
	}
	s.metrics.positions.WithLabelValues(outcome).Inc()
	s.tel.ReportDebug(
		"position lookup",
		telemetry.KV{Key: "request_id", Value: requestId(ctx)},
		telemetry.KV{Key: "flight", Value: req.FlightNumber},
		telemetry.KV{Key: "date", Value: req.Date},
		telemetry.KV{Key: "outcome", Value: outcome},
	)
	s.writeJSON(w, http.StatusOK, toResponse(requestId(ctx), req, result))
}

type healthResponse struct {
	Healthy bool            `json:"healthy"`
	Now     time.Time       `json:"now"`
	Session *session.Status `json:"session,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Healthy: true,
		Now:     s.time.Now(),
	}
	if s.health != nil {
		status := s.health.Status()
		res.Healthy = s.health.Healthy()
		res.Session = &status
	}
	code := http.StatusOK
	if !res.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, res)
}
