// Package waitlist compares consecutive waitlist snapshots and derives a
// status tier for every listed passenger.
package waitlist

import (
	"context"
	"fmt"
	"time"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/flights"
)

const (
	report_engine_update = "engine.update"
	report_waitlist_size = "engine.waitlist-size"
)

// Store is the persistence the engine needs.
type Store interface {
	PreviousSnapshotBefore(ctx context.Context, flightID int64, before time.Time) (*flights.WaitlistSnapshot, error)
	PassengerStatuses(ctx context.Context, flightNumber, date string) ([]flights.PassengerStatus, error)
	UpsertPassengerStatus(ctx context.Context, status flights.PassengerStatus) error
}

// Transition is a tier change, From is empty for a passenger seen for the
// first time.
type Transition struct {
	Passenger string
	From      flights.Tier
	To        flights.Tier
}

type Update struct {
	Changes     Changes
	Transitions []Transition
	Statuses    []flights.PassengerStatus
}

type Engine struct {
	store Store
	time  chrono.TimeAPI
	tel   telemetry.API
}

func NewEngine(store Store, clock chrono.TimeAPI, tel telemetry.API) Engine {
	assert.NotNil(store)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return Engine{
		store: store,
		time:  clock,
		tel:   telemetry.NewScopedAPI("waitlist", tel),
	}
}

// Update runs once per persisted snapshot: it diffs snapshot against the one
// captured before it, recomputes the tier of every current passenger and
// persists the latest status of each.
func (e Engine) Update(
	ctx context.Context,
	flightID int64,
	segment flights.FlightSegment,
	snapshot flights.WaitlistSnapshot,
) (Update, error) {
	capturedAt := snapshot.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = e.time.Now()
	}

	previous, err := e.store.PreviousSnapshotBefore(ctx, flightID, capturedAt)
	if err != nil {
		e.tel.ReportBroken(report_engine_update, fmt.Errorf("previous snapshot: %w", err), flightID)
		return Update{}, err
	}
	var oldOrder []string
	if previous != nil {
		oldOrder = previous.Passengers
	}

	prior, err := e.store.PassengerStatuses(ctx, segment.FlightNumber, segment.Date)
	if err != nil {
		e.tel.ReportBroken(report_engine_update, fmt.Errorf("prior statuses: %w", err), segment.Key())
		return Update{}, err
	}
	priorTier := make(map[string]flights.Tier, len(prior))
	for _, status := range prior {
		priorTier[status.Passenger] = status.Tier
	}

	hours, err := HoursBeforeDeparture(segment, capturedAt)
	if err != nil {
		e.tel.ReportBroken(report_engine_update, err, segment.Key())
		return Update{}, err
	}
	tier := Classify(hours)

	changes := Diff(oldOrder, snapshot.Passengers)
	added := make(map[string]bool, len(changes.Added))
	for _, p := range changes.Added {
		added[p] = true
	}

	update := Update{
		Changes:     changes,
		Transitions: []Transition{},
		Statuses:    make([]flights.PassengerStatus, 0, len(snapshot.Passengers)),
	}
	for i, passenger := range snapshot.Passengers {
		status := flights.PassengerStatus{
			Passenger:    passenger,
			FlightNumber: segment.FlightNumber,
			Date:         segment.Date,
			Tier:         tier,
			Position:     flights.IntPtr(i + 1),
			NewlyAdded:   added[passenger],
			UpdatedAt:    capturedAt,
		}
		err := e.store.UpsertPassengerStatus(ctx, status)
		if err != nil {
			e.tel.ReportBroken(report_engine_update, fmt.Errorf("upsert status: %w", err), passenger)
			return Update{}, err
		}
		update.Statuses = append(update.Statuses, status)

		if from := priorTier[passenger]; from != tier {
			update.Transitions = append(update.Transitions, Transition{
				Passenger: passenger,
				From:      from,
				To:        tier,
			})
		}
	}

	e.tel.ReportCount(report_waitlist_size, int64(len(snapshot.Passengers)))
	if !changes.Empty() || len(update.Transitions) > 0 {
		e.tel.ReportDebug(
			"waitlist changed",
			telemetry.KV{Key: "flight", Value: segment.Key().String()},
			telemetry.KV{Key: "segment", Value: segment.SegmentIndex},
			telemetry.KV{Key: "added", Value: changes.Added},
			telemetry.KV{Key: "removed", Value: changes.Removed},
			telemetry.KV{Key: "reordered", Value: len(changes.Reordered)},
			telemetry.KV{Key: "transitions", Value: len(update.Transitions)},
		)
	}
	return update, nil
}
