// Package testutil holds fakes shared by package tests.
package testutil

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"upgradewatch/internal/components/configutil"
)

// SetupDB opens a fresh in-memory sqlite database with schema applied, it
// is closed when the test ends.
func SetupDB(t testing.TB, schema string) *sql.DB {
	db, err := configutil.Database{File: ":memory:"}.OpenDB(schema)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// FakeTime is a manually advanced clock.
type FakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeTime(now time.Time) *FakeTime {
	return &FakeTime{now: now}
}

func (f *FakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeTime) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Location()
}

func (f *FakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *FakeTime) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

type Event struct {
	Kind   string
	ID     string
	Params []any
}

// Telemetry records every report and mirrors it to the test log.
type Telemetry struct {
	t      testing.TB
	mu     sync.Mutex
	events []Event
}

func NewTelemetry(t testing.TB) *Telemetry {
	return &Telemetry{t: t}
}

func (r *Telemetry) record(kind, id string, params []any) {
	r.mu.Lock()
	r.events = append(r.events, Event{Kind: kind, ID: id, Params: params})
	r.mu.Unlock()
	r.t.Log(fmt.Sprintf("[%s] %s", kind, id), fmt.Sprint(params...))
}

func (r *Telemetry) ReportBroken(id string, params ...any) {
	r.record("broken", id, params)
}

func (r *Telemetry) ReportWarning(id string, params ...any) {
	r.record("warning", id, params)
}

func (r *Telemetry) ReportDebug(msg string, params ...any) {
	r.record("debug", msg, params)
}

func (r *Telemetry) ReportCount(id string, count int64) {
	r.record("count", id, []any{count})
}

// Events returns the recorded reports of the given kind.
func (r *Telemetry) Events(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
