// Package scheduler refreshes the waitlists of flights departing soon on a
// fixed cadence.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/flights"
	"upgradewatch/internal/tracker"
)

const (
	report_run     = "scheduler.run"
	report_flight  = "scheduler.flight"
	report_touched = "scheduler.touched"
	report_failed  = "scheduler.failed"
)

const (
	DefaultSpec       = "@every 4h"
	DefaultWindowDays = 2
)

// Gateway is the part of tracker.Gateway the scheduler drives.
type Gateway interface {
	GetOrFetch(ctx context.Context, req tracker.Request) (tracker.Result, error)
}

// Flights lists the tracked flights with a date in [from, to].
type Flights interface {
	AllFlightsBetween(ctx context.Context, from, to string) ([]flights.FlightKey, error)
}

// Failure is one flight that could not be refreshed.
type Failure struct {
	Flight flights.FlightKey
	Kind   tracker.Kind
	Err    error
}

type Report struct {
	Touched []flights.FlightKey
	Failed  []Failure
}

type Options struct {
	// Spec is a robfig/cron schedule.
	Spec       string
	WindowDays int
	// RunTimeout bounds a whole run, zero means no bound.
	RunTimeout time.Duration
}

type Scheduler struct {
	gateway Gateway
	flights Flights
	time    chrono.TimeAPI
	tel     telemetry.API
	opts    Options
}

func NewScheduler(gateway Gateway, tracked Flights, clock chrono.TimeAPI, tel telemetry.API, opts Options) Scheduler {
	assert.NotNil(gateway)
	assert.NotNil(tracked)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotNegative(opts.RunTimeout)

	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	return Scheduler{
		gateway: gateway,
		flights: tracked,
		time:    clock,
		tel:     telemetry.NewScopedAPI("scheduler", tel),
		opts:    opts,
	}
}

// Start registers the periodic run with cron, runs stop once ctx is done.
func (s Scheduler) Start(ctx context.Context, cron chrono.CronAPI) error {
	assert.NotNil(cron)
	return cron.Cron(s.opts.Spec, func() {
		if ctx.Err() != nil {
			return
		}
		_, err := s.RunOnce(ctx)
		if err != nil {
			s.tel.ReportBroken(report_run, err)
		}
	})
}

// Window is the range of flight dates a run covers, in the clock's location.
func (s Scheduler) Window() (from, to string) {
	today := chrono.StartOfDay(s.time.Now().In(s.time.Location()))
	return today.Format(flights.DateLayout),
		today.AddDate(0, 0, s.opts.WindowDays).Format(flights.DateLayout)
}

// RunOnce force refreshes every flight in the window one after the other.
// A failing flight is reported and skipped, only failing to list the
// flights fails the run.
func (s Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	from, to := s.Window()
	keys, err := s.flights.AllFlightsBetween(ctx, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("list flights between %s and %s: %w", from, to, err)
	}

	report := Report{
		Touched: []flights.FlightKey{},
		Failed:  []Failure{},
	}
	// serially, the browser session only serves one fetch at a time anyway
	for _, key := range keys {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, Failure{
				Flight: key,
				Kind:   tracker.KindTransientConnection,
				Err:    ctx.Err(),
			})
			continue
		}

		_, err := s.gateway.GetOrFetch(ctx, tracker.Request{
			FlightNumber: key.FlightNumber,
			Date:         key.Date,
			ForceRefresh: true,
		})
		if err != nil {
			kind := tracker.KindOf(err)
			s.tel.ReportWarning(report_flight, err, key.String(), kind)
			report.Failed = append(report.Failed, Failure{Flight: key, Kind: kind, Err: err})
			continue
		}
		report.Touched = append(report.Touched, key)
	}

	s.tel.ReportCount(report_touched, int64(len(report.Touched)))
	s.tel.ReportCount(report_failed, int64(len(report.Failed)))
	s.tel.ReportDebug(
		"scheduled refresh finished",
		telemetry.KV{Key: "from", Value: from},
		telemetry.KV{Key: "to", Value: to},
		telemetry.KV{Key: "touched", Value: len(report.Touched)},
		telemetry.KV{Key: "failed", Value: len(report.Failed)},
	)
	return report, nil
}
