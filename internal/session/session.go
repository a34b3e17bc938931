// Package session owns the single headless browser of the process and hands
// it out to one fetch at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"upgradewatch/internal/browser"
	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/retry"
	"upgradewatch/internal/components/telemetry"

	"golang.org/x/sync/singleflight"
)

const (
	report_launch     = "session.launch"
	report_disconnect = "session.disconnect"
	report_close      = "session.close"
	report_launches   = "session.launches"
)

// ErrUnavailable is returned when no browser could be launched within the
// retry budget.
var ErrUnavailable = errors.New("browser session unavailable")

var ErrClosed = errors.New("session manager closed")

const (
	DefaultDebounce      = 5 * time.Second
	DefaultLaunchTimeout = time.Minute
)

// DefaultLaunchPolicy is three attempts, 1s then 2s apart, never waiting more
// than 10s.
func DefaultLaunchPolicy() retry.Policy {
	return retry.Exponential(3, time.Second, 10*time.Second)
}

type Options struct {
	// Debounce is the minimum time between a disconnect and the next launch.
	Debounce      time.Duration
	LaunchTimeout time.Duration
	LaunchPolicy  retry.Policy
	// Cleanup runs before every launch attempt, defaults to browser.KillStray.
	Cleanup func(ctx context.Context) int
	// Sleep waits out the debounce window, defaults to a timer bounded by ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session is exclusive access to the live browser, it must be released with
// Manager.Release.
type Session struct {
	Browser     browser.Browser
	Fingerprint browser.Fingerprint

	once sync.Once
}

func (s *Session) NewPage(ctx context.Context) (browser.Page, error) {
	return s.Browser.NewPage(ctx)
}

type live struct {
	browser     browser.Browser
	fingerprint browser.Fingerprint
}

func (l *live) alive() bool {
	select {
	case <-l.browser.Done():
		return false
	default:
		return true
	}
}

// Status is a point in time view of the manager for health reporting.
type Status struct {
	Live           bool      `json:"live"`
	Launches       int       `json:"launches"`
	Disconnects    int       `json:"disconnects"`
	LastDisconnect time.Time `json:"last_disconnect,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
}

type Manager struct {
	launcher browser.Launcher
	time     chrono.TimeAPI
	tel      telemetry.API
	opts     Options

	// slot is a one-slot semaphore, holding it means holding the session.
	slot    chan struct{}
	group   singleflight.Group
	closing chan struct{}

	mu             sync.Mutex
	current        *live
	closed         bool
	launches       int
	disconnects    int
	lastDisconnect time.Time
	lastErr        error
}

func NewManager(launcher browser.Launcher, clock chrono.TimeAPI, tel telemetry.API, opts Options) *Manager {
	assert.NotNil(launcher)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotNegative(opts.Debounce)

	tel = telemetry.NewScopedAPI("session", tel)
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.LaunchTimeout == 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	if opts.LaunchPolicy.NewBackOff == nil {
		opts.LaunchPolicy = DefaultLaunchPolicy()
	}
	if opts.Cleanup == nil {
		opts.Cleanup = func(ctx context.Context) int {
			return browser.KillStray(ctx, tel)
		}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Manager{
		launcher: launcher,
		time:     clock,
		tel:      tel,
		opts:     opts,
		slot:     make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
}

// Acquire blocks until the session is free or ctx is done, launching the
// browser if there is none.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l, err := m.ensure(ctx)
	if err != nil {
		<-m.slot
		return nil, err
	}
	return &Session{Browser: l.browser, Fingerprint: l.fingerprint}, nil
}

// Release returns the session, releasing twice is a no-op.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		<-m.slot
	})
}

// Healthy is false after Close or when the last launch failed.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.lastErr == nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := Status{
		Live:           m.current != nil && m.current.alive(),
		Launches:       m.launches,
		Disconnects:    m.disconnects,
		LastDisconnect: m.lastDisconnect,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// Close tears the browser down, later acquisitions fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	current := m.current
	m.current = nil
	close(m.closing)
	m.mu.Unlock()

	if current == nil {
		return nil
	}
	err := current.browser.Close()
	if err != nil {
		m.tel.ReportWarning(report_close, err)
	}
	return err
}

func (m *Manager) ensure(ctx context.Context) (*live, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.current != nil && m.current.alive() {
		current := m.current
		m.mu.Unlock()
		return current, nil
	}
	m.mu.Unlock()

	// the launch outlives a single caller's cancellation so that a shared
	// in-flight launch is not aborted for everyone
	launchCtx := context.WithoutCancel(ctx)
	result := m.group.DoChan("launch", func() (any, error) {
		ctx, cancel := context.WithTimeout(launchCtx, m.opts.LaunchTimeout)
		defer cancel()
		return m.launch(ctx)
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*live), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) debounceWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastDisconnect.IsZero() {
		return 0
	}
	elapsed := m.time.Now().Sub(m.lastDisconnect)
	if elapsed >= m.opts.Debounce {
		return 0
	}
	return m.opts.Debounce - elapsed
}

func (m *Manager) launch(ctx context.Context) (*live, error) {
	if wait := m.debounceWait(); wait > 0 {
		m.tel.ReportDebug("waiting before relaunch", telemetry.KV{Key: "wait", Value: wait})
		err := m.opts.Sleep(ctx, wait)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	var launched *live
	err := m.opts.LaunchPolicy.Do(ctx, func(ctx context.Context, attempt int) error {
		m.opts.Cleanup(ctx)

		fp, err := browser.NewFingerprint(m.opts.Rand)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.launches++
		m.mu.Unlock()
		m.tel.ReportCount(report_launches, 1)

		b, err := m.launcher.Launch(ctx, fp)
		if err != nil {
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		launched = &live{browser: b, fingerprint: fp}
		return nil
	}, func(err error, wait time.Duration) {
		m.tel.ReportWarning(report_launch, err, telemetry.KV{Key: "retry_in", Value: wait})
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		m.lastErr = err
		m.tel.ReportBroken(report_launch, err)
		return nil, err
	}
	if m.closed {
		launched.browser.Close()
		return nil, ErrClosed
	}

	m.lastErr = nil
	m.current = launched
	go m.watch(launched)

	m.tel.ReportDebug(
		"browser launched",
		telemetry.KV{Key: "fingerprint", Value: launched.fingerprint.ID},
		telemetry.KV{Key: "user_agent", Value: launched.fingerprint.UserAgent},
	)
	return launched, nil
}

// watch tears l down once the runtime reports it disconnected.
func (m *Manager) watch(l *live) {
	select {
	case <-l.browser.Done():
	case <-m.closing:
		return
	}

	m.mu.Lock()
	if m.current != l {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.disconnects++
	m.lastDisconnect = m.time.Now()
	m.mu.Unlock()

	m.tel.ReportWarning(
		report_disconnect,
		"browser disconnected",
		telemetry.KV{Key: "fingerprint", Value: l.fingerprint.ID},
	)
	// a disconnected browser still holds its process and profile dir
	err := l.browser.Close()
	if err != nil {
		m.tel.ReportWarning(report_disconnect, "close disconnected browser", err)
	}
}
