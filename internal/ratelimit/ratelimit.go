// Package ratelimit enforces a minimum interval between fetches of the same
// flight. State lives in process memory only.
package ratelimit

import (
	"sync"
	"time"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/flights"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultInterval = 10 * time.Minute
	// DefaultCapacity bounds how many flights are remembered, the least
	// recently fetched flight is forgotten first.
	DefaultCapacity = 4096
)

type Limiter struct {
	interval time.Duration
	time     chrono.TimeAPI

	mu      sync.Mutex
	fetched *lru.Cache[flights.FlightKey, time.Time]
}

func NewLimiter(interval time.Duration, capacity int, clock chrono.TimeAPI) *Limiter {
	assert.NotNil(clock)
	assert.NotNegative(interval)
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	fetched, err := lru.New[flights.FlightKey, time.Time](capacity)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Limiter{
		interval: interval,
		time:     clock,
		fetched:  fetched,
	}
}

func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// CanFetch reports whether at least the interval has elapsed since the last
// recorded fetch of key.
func (l *Limiter) CanFetch(key flights.FlightKey) bool {
	return l.TimeUntilNextFetch(key) == 0
}

// TimeUntilNextFetch is zero when key may be fetched now.
func (l *Limiter) TimeUntilNextFetch(key flights.FlightKey) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.fetched.Peek(key)
	if !ok {
		return 0
	}
	remaining := l.interval - l.time.Now().Sub(last)
	if remaining <= 0 {
		return 0
	}
	return remaining
}

func (l *Limiter) RecordFetch(key flights.FlightKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetched.Add(key, l.time.Now())
}

// Clear forgets key so the next fetch is allowed immediately.
func (l *Limiter) Clear(key flights.FlightKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetched.Remove(key)
}
