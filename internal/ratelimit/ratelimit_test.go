package ratelimit

import (
	"testing"
	"time"

	"upgradewatch/internal/components/testutil"
	"upgradewatch/internal/flights"

	"github.com/stretchr/testify/require"
)

func TestLimiterInterval(t *testing.T) {
	clock := testutil.NewFakeTime(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	limiter := NewLimiter(DefaultInterval, 0, clock)
	key := flights.FlightKey{FlightNumber: "100", Date: "2026-10-16"}
	other := flights.FlightKey{FlightNumber: "100", Date: "2026-10-17"}

	require.True(t, limiter.CanFetch(key))
	require.Zero(t, limiter.TimeUntilNextFetch(key))

	limiter.RecordFetch(key)
	require.False(t, limiter.CanFetch(key))
	require.Equal(t, 10*time.Minute, limiter.TimeUntilNextFetch(key))
	require.True(t, limiter.CanFetch(other))

	clock.Advance(9*time.Minute + 59*time.Second)
	require.False(t, limiter.CanFetch(key))
	require.Equal(t, time.Second, limiter.TimeUntilNextFetch(key))

	clock.Advance(time.Second)
	require.True(t, limiter.CanFetch(key))
	require.Zero(t, limiter.TimeUntilNextFetch(key))
}

func TestLimiterClear(t *testing.T) {
	clock := testutil.NewFakeTime(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	limiter := NewLimiter(DefaultInterval, 0, clock)
	key := flights.FlightKey{FlightNumber: "100", Date: "2026-10-16"}

	limiter.RecordFetch(key)
	require.False(t, limiter.CanFetch(key))

	limiter.Clear(key)
	require.True(t, limiter.CanFetch(key))
}

func TestLimiterEvictsOldest(t *testing.T) {
	clock := testutil.NewFakeTime(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	limiter := NewLimiter(DefaultInterval, 2, clock)

	a := flights.FlightKey{FlightNumber: "1", Date: "2026-10-16"}
	b := flights.FlightKey{FlightNumber: "2", Date: "2026-10-16"}
	c := flights.FlightKey{FlightNumber: "3", Date: "2026-10-16"}

	limiter.RecordFetch(a)
	limiter.RecordFetch(b)
	limiter.RecordFetch(c)

	require.True(t, limiter.CanFetch(a))
	require.False(t, limiter.CanFetch(b))
	require.False(t, limiter.CanFetch(c))
}
