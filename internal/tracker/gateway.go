// Package tracker answers "where is this passenger on the upgrade list"
// from stored snapshots when they are fresh and from the status page when
// they are not.
package tracker

import (
	"context"
	"strings"
	"time"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/diagnostics"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/extract"
	"upgradewatch/internal/flights"
	"upgradewatch/internal/ratelimit"
	"upgradewatch/internal/waitlist"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("upgradewatch/internal/tracker")

const (
	report_get_or_fetch = "tracker.get-or-fetch"
	report_persist      = "tracker.persist"
	report_engine       = "tracker.engine"
	report_cache_hit    = "tracker.cache-hit"
	report_cache_miss   = "tracker.cache-miss"
	report_fetch_failed = "tracker.fetch-failed"
)

const (
	DefaultFreshness = 5 * time.Minute
	// DefaultFetchTimeout covers a 30s navigation and three challenge
	// attempts of 20s plus a 15s hold, 2s apart.
	DefaultFetchTimeout = 150 * time.Second
)

type Request struct {
	FlightNumber string
	Date         string
	// Passenger is optional, without it no position is computed.
	Passenger    string
	ForceRefresh bool
}

type SegmentResult struct {
	Segment  flights.FlightSegment
	Snapshot *flights.WaitlistSnapshot
	// Position is the 1-based rank of the requested passenger, nil when they
	// are not listed.
	Position      *int
	LikelyUpgrade bool
	// Changes is set for freshly fetched segments.
	Changes *waitlist.Changes
}

type Result struct {
	Segments   []SegmentResult
	FromCache  bool
	CapturedAt time.Time
}

// LikelyUpgrade reports whether position falls within the seats reported
// available, both must be known.
func LikelyUpgrade(available, position *int) bool {
	if available == nil || position == nil {
		return false
	}
	return *position >= 1 && *position <= *available
}

// Store is the persistence the gateway reads and writes.
type Store interface {
	// PersistFetch stores every segment of one fetch with its snapshot, all
	// or nothing, and returns the segment ids in order.
	PersistFetch(ctx context.Context, captured []flights.CapturedSegment) ([]int64, error)
	LatestSnapshotsFor(ctx context.Context, flightNumber, date string) ([]flights.StoredSegment, error)
}

// Engine derives passenger statuses from a persisted snapshot.
type Engine interface {
	Update(ctx context.Context, flightID int64, segment flights.FlightSegment, snapshot flights.WaitlistSnapshot) (waitlist.Update, error)
}

type Options struct {
	Freshness    time.Duration
	FetchTimeout time.Duration
}

type Gateway struct {
	store     Store
	fetcher   Fetcher
	extractor extract.Extractor
	limiter   *ratelimit.Limiter
	engine    Engine
	sink      diagnostics.Sink
	time      chrono.TimeAPI
	tel       telemetry.API
	opts      Options
}

func NewGateway(
	store Store,
	fetcher Fetcher,
	extractor extract.Extractor,
	limiter *ratelimit.Limiter,
	engine Engine,
	sink diagnostics.Sink,
	clock chrono.TimeAPI,
	tel telemetry.API,
	opts Options,
) Gateway {
	assert.NotNil(store)
	assert.NotNil(fetcher)
	assert.NotNil(limiter)
	assert.NotNil(engine)
	assert.NotNil(sink)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotNegative(opts.Freshness)
	assert.NotNegative(opts.FetchTimeout)

	if opts.Freshness == 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return Gateway{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		limiter:   limiter,
		engine:    engine,
		sink:      sink,
		time:      clock,
		tel:       telemetry.NewScopedAPI("tracker", tel),
		opts:      opts,
	}
}

func (g Gateway) normalize(req Request) (Request, *Error) {
	req.FlightNumber = flights.NormalizeFlightNumber(req.FlightNumber)
	req.Date = strings.TrimSpace(req.Date)
	req.Passenger = flights.NormalizePassenger(req.Passenger)

	if req.FlightNumber == "" {
		return req, newError(KindInvalidRequest, "a flight number is required", nil)
	}
	if req.Date == "" {
		return req, newError(KindInvalidRequest, "a flight date is required", nil)
	}
	_, err := flights.ParseDate(req.Date)
	if err != nil {
		return req, newError(KindInvalidRequest, "the flight date must look like 2006-01-02", err)
	}
	return req, nil
}

// fresh reports whether every stored segment has a snapshot younger than
// the freshness window.
func (g Gateway) fresh(stored []flights.StoredSegment) bool {
	if len(stored) == 0 {
		return false
	}
	now := g.time.Now()
	for _, s := range stored {
		if s.Snapshot == nil {
			return false
		}
		if now.Sub(s.Snapshot.CapturedAt) >= g.opts.Freshness {
			return false
		}
	}
	return true
}

func segmentResult(segment flights.FlightSegment, snapshot *flights.WaitlistSnapshot, passenger string) SegmentResult {
	result := SegmentResult{Segment: segment, Snapshot: snapshot}
	if snapshot == nil || passenger == "" {
		return result
	}
	result.Position = snapshot.Position(passenger)
	result.LikelyUpgrade = LikelyUpgrade(snapshot.Available, result.Position)
	return result
}

// GetOrFetch serves req from stored snapshots when every segment is fresh and
// ForceRefresh is unset, otherwise it fetches, persists and updates passenger
// statuses. Every returned error is an *Error.
func (g Gateway) GetOrFetch(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "GetOrFetch")
	defer span.End()

	req, invalid := g.normalize(req)
	if invalid != nil {
		span.SetStatus(codes.Error, invalid.Message)
		return Result{}, invalid
	}
	key := flights.FlightKey{FlightNumber: req.FlightNumber, Date: req.Date}
	span.SetAttributes(
		attribute.String("flight", key.String()),
		attribute.Bool("force_refresh", req.ForceRefresh),
	)

	if !req.ForceRefresh {
		stored, err := g.store.LatestSnapshotsFor(ctx, req.FlightNumber, req.Date)
		if err != nil {
			g.tel.ReportBroken(report_get_or_fetch, err, key.String())
			return Result{}, newError(KindInternal, "stored snapshots could not be read", err)
		}
		if g.fresh(stored) {
			g.tel.ReportCount(report_cache_hit, 1)
			span.SetAttributes(attribute.Bool("from_cache", true))
			return g.cached(stored, req.Passenger), nil
		}
	}
	g.tel.ReportCount(report_cache_miss, 1)

	if wait := g.limiter.TimeUntilNextFetch(key); wait > 0 {
		return Result{}, &Error{
			Kind:       KindRateLimited,
			Message:    "this flight was fetched recently, try again later",
			RetryAfter: wait,
		}
	}

	result, gatewayErr := g.fetch(ctx, key, req.Passenger)
	if gatewayErr != nil {
		span.RecordError(gatewayErr)
		span.SetStatus(codes.Error, gatewayErr.Message)
		return Result{}, gatewayErr
	}
	return result, nil
}

func (g Gateway) cached(stored []flights.StoredSegment, passenger string) Result {
	result := Result{FromCache: true}
	for _, s := range stored {
		result.Segments = append(result.Segments, segmentResult(s.Segment, s.Snapshot, passenger))
		if s.Snapshot.CapturedAt.After(result.CapturedAt) {
			result.CapturedAt = s.Snapshot.CapturedAt
		}
	}
	return result
}

func (g Gateway) fetch(ctx context.Context, key flights.FlightKey, passenger string) (Result, *Error) {
	fetchCtx, cancel := context.WithTimeout(ctx, g.opts.FetchTimeout)
	defer cancel()

	doc, err := g.fetcher.Fetch(fetchCtx, key)
	if err != nil {
		classified := classifyFetch(err)
		if classified.Kind == KindTransientConnection {
			g.limiter.Clear(key)
		}
		g.tel.ReportWarning(report_fetch_failed, err, key.String(), classified.Kind)
		return Result{}, classified
	}

	g.sink.Capture(ctx, diagnostics.Capture{
		Kind:       diagnostics.KindPage,
		URL:        doc.URL,
		Data:       []byte(doc.HTML),
		CapturedAt: g.time.Now(),
	})

	segments, err := g.extractor.Segments(ctx, doc.HTML)
	if err != nil {
		return Result{}, newError(KindInternal, "the status page could not be read", err)
	}
	if len(segments) == 0 {
		return Result{}, newError(KindNoSegmentsFound, "no flight segments were found for this flight and date", nil)
	}

	capturedAt := g.time.Now()
	items := make([]flights.CapturedSegment, 0, len(segments))
	for _, segment := range segments {
		snapshot, ok, err := g.extractor.Waitlist(ctx, doc.HTML, segment.SegmentIndex)
		if err != nil {
			return Result{}, newError(KindInternal, "the status page could not be read", err)
		}
		if !ok {
			snapshot = flights.WaitlistSnapshot{Passengers: []string{}}
		}
		snapshot.CapturedAt = capturedAt
		items = append(items, flights.CapturedSegment{Segment: segment, Snapshot: snapshot})
	}

	ids, err := g.store.PersistFetch(ctx, items)
	if err != nil {
		g.tel.ReportBroken(report_persist, err, key.String())
		return Result{}, newError(KindInternal, "the snapshot could not be saved", err)
	}
	g.limiter.RecordFetch(key)

	result := Result{CapturedAt: capturedAt}
	for i, item := range items {
		snapshot := item.Snapshot
		snapshot.FlightID = ids[i]
		segResult := segmentResult(item.Segment, &snapshot, passenger)

		update, err := g.engine.Update(ctx, ids[i], item.Segment, snapshot)
		if err != nil {
			// statuses are derived, the snapshot itself is already stored
			g.tel.ReportBroken(report_engine, err, item.Segment.Key())
		} else {
			segResult.Changes = &update.Changes
		}
		result.Segments = append(result.Segments, segResult)
	}

	g.tel.ReportDebug(
		"fetched waitlist",
		telemetry.KV{Key: "flight", Value: key.String()},
		telemetry.KV{Key: "segments", Value: len(result.Segments)},
	)
	return result, nil
}
