package db

import (
	"context"
	"testing"
	"time"

	"upgradewatch/internal/components/testutil"
	"upgradewatch/internal/flights"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (Store, *testutil.FakeTime) {
	clock := testutil.NewFakeTime(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	store := NewStore(
		testutil.SetupDB(t, Schema),
		clock,
		testutil.NewTelemetry(t),
	)
	return store, clock
}

func TestSegmentUpsert(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	segment := flights.FlightSegment{
		FlightNumber:  "100",
		Date:          "2026-10-17",
		Origin:        "SEA",
		Destination:   "ANC",
		DepartureTime: "2026-10-17T08:00",
		SegmentIndex:  0,
	}
	first, err := store.UpsertFlightSegment(ctx, segment)
	require.NoError(t, err)

	segment.DepartureTime = "2026-10-17T08:30"
	second, err := store.UpsertFlightSegment(ctx, segment)
	require.NoError(t, err)
	require.Equal(t, first, second)

	other := segment
	other.SegmentIndex = 1
	other.Origin = "ANC"
	other.Destination = "FAI"
	third, err := store.UpsertFlightSegment(ctx, other)
	require.NoError(t, err)
	require.NotEqual(t, first, third)

	stored, err := store.LatestSnapshotsFor(ctx, "100", "2026-10-17")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, "2026-10-17T08:30", stored[0].Segment.DepartureTime)
	require.Equal(t, "FAI", stored[1].Segment.Destination)
	require.Nil(t, stored[0].Snapshot)
}

func TestSnapshotHistory(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	id, err := store.UpsertFlightSegment(ctx, flights.FlightSegment{
		FlightNumber: "100",
		Date:         "2026-10-17",
	})
	require.NoError(t, err)

	older := flights.WaitlistSnapshot{
		Passengers: []string{"ABC/J"},
		Capacity:   flights.IntPtr(4),
		CapturedAt: clock.Now(),
	}
	require.NoError(t, store.AppendWaitlistSnapshot(ctx, id, older))

	clock.Advance(time.Hour)
	newer := flights.WaitlistSnapshot{
		Passengers: []string{"ABC/J", "XYZ/K"},
		Capacity:   flights.IntPtr(4),
		Available:  flights.IntPtr(2),
		CapturedAt: clock.Now(),
	}
	require.NoError(t, store.AppendWaitlistSnapshot(ctx, id, newer))

	stored, err := store.LatestSnapshotsFor(ctx, "100", "2026-10-17")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].Snapshot)

	latest := *stored[0].Snapshot
	require.Equal(t, id, latest.FlightID)
	require.True(t, newer.CapturedAt.Equal(latest.CapturedAt))
	require.Empty(t, cmp.Diff(newer.Passengers, latest.Passengers))
	require.Equal(t, 2, *latest.Available)
	require.Nil(t, latest.CheckedIn)

	previous, err := store.PreviousSnapshotBefore(ctx, id, newer.CapturedAt)
	require.NoError(t, err)
	require.NotNil(t, previous)
	require.Empty(t, cmp.Diff([]string{"ABC/J"}, previous.Passengers))
	require.Nil(t, previous.Available)

	none, err := store.PreviousSnapshotBefore(ctx, id, older.CapturedAt)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestPersistFetch(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	captured := []flights.CapturedSegment{
		{
			Segment:  flights.FlightSegment{FlightNumber: "100", Date: "2026-10-17", Origin: "SEA", Destination: "ANC"},
			Snapshot: flights.WaitlistSnapshot{Passengers: []string{"ABC/J"}, CapturedAt: clock.Now()},
		},
		{
			Segment:  flights.FlightSegment{FlightNumber: "100", Date: "2026-10-17", Origin: "ANC", Destination: "FAI", SegmentIndex: 1},
			Snapshot: flights.WaitlistSnapshot{Passengers: []string{}, Available: flights.IntPtr(1), CapturedAt: clock.Now()},
		},
	}
	ids, err := store.PersistFetch(ctx, captured)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.NotEqual(t, ids[0], ids[1])

	stored, err := store.LatestSnapshotsFor(ctx, "100", "2026-10-17")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, ids[0], stored[0].ID)
	require.Equal(t, []string{"ABC/J"}, stored[0].Snapshot.Passengers)
	require.Equal(t, 1, *stored[1].Snapshot.Available)
}

func TestPersistFetchRollsBack(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	captured := []flights.CapturedSegment{
		{
			Segment:  flights.FlightSegment{FlightNumber: "200", Date: "2026-10-17"},
			Snapshot: flights.WaitlistSnapshot{Passengers: []string{"ABC/J"}, CapturedAt: clock.Now()},
		},
		{
			Segment: flights.FlightSegment{FlightNumber: "200", Date: "2026-10-17", SegmentIndex: 1},
			// rejected by the schema, counters are never negative
			Snapshot: flights.WaitlistSnapshot{Capacity: flights.IntPtr(-1), CapturedAt: clock.Now()},
		},
	}
	_, err := store.PersistFetch(ctx, captured)
	require.Error(t, err)

	stored, err := store.LatestSnapshotsFor(ctx, "200", "2026-10-17")
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestEmptyPassengerList(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	id, err := store.UpsertFlightSegment(ctx, flights.FlightSegment{FlightNumber: "7", Date: "2026-10-16"})
	require.NoError(t, err)
	require.NoError(t, store.AppendWaitlistSnapshot(ctx, id, flights.WaitlistSnapshot{CapturedAt: clock.Now()}))

	stored, err := store.LatestSnapshotsFor(ctx, "7", "2026-10-16")
	require.NoError(t, err)
	require.NotNil(t, stored[0].Snapshot.Passengers)
	require.Empty(t, stored[0].Snapshot.Passengers)
}

func TestPassengerStatusUpsert(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	status := flights.PassengerStatus{
		Passenger:    "ABC/J",
		FlightNumber: "100",
		Date:         "2026-10-17",
		Tier:         flights.TierHigh,
		Position:     flights.IntPtr(1),
		NewlyAdded:   true,
		UpdatedAt:    clock.Now(),
	}
	require.NoError(t, store.UpsertPassengerStatus(ctx, status))

	clock.Advance(time.Hour)
	status.Tier = flights.TierMedium
	status.Position = nil
	status.NewlyAdded = false
	status.UpdatedAt = clock.Now()
	require.NoError(t, store.UpsertPassengerStatus(ctx, status))

	statuses, err := store.PassengerStatuses(ctx, "100", "2026-10-17")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, flights.TierMedium, statuses[0].Tier)
	require.Nil(t, statuses[0].Position)
	require.False(t, statuses[0].NewlyAdded)
	require.True(t, status.UpdatedAt.Equal(statuses[0].UpdatedAt))
}

func TestAllFlightsBetween(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for _, segment := range []flights.FlightSegment{
		{FlightNumber: "100", Date: "2026-10-15"},
		{FlightNumber: "100", Date: "2026-10-16", SegmentIndex: 0},
		{FlightNumber: "100", Date: "2026-10-16", SegmentIndex: 1},
		{FlightNumber: "200", Date: "2026-10-18"},
		{FlightNumber: "300", Date: "2026-10-19"},
	} {
		_, err := store.UpsertFlightSegment(ctx, segment)
		require.NoError(t, err)
	}

	keys, err := store.AllFlightsBetween(ctx, "2026-10-16", "2026-10-18")
	require.NoError(t, err)
	require.Equal(t, []flights.FlightKey{
		{FlightNumber: "100", Date: "2026-10-16"},
		{FlightNumber: "200", Date: "2026-10-18"},
	}, keys)
}
