// Package challenge detects the bot-detection interstitial of the status
// page and tries to get past it with a press and hold gesture.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"upgradewatch/internal/browser"
	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/diagnostics"
	"upgradewatch/internal/components/retry"
	"upgradewatch/internal/components/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("upgradewatch/internal/challenge")

const (
	report_attempt  = "challenge.attempt"
	report_resolve  = "challenge.resolve"
	report_attempts = "challenge.attempts"
)

// ErrFailed is returned once every attempt ended without reaching the
// content.
var ErrFailed = errors.New("challenge not passed")

type State string

const (
	StateNormal   State = "NORMAL"
	StateDetected State = "CHALLENGE_DETECTED"
	StatePassed   State = "PASSED"
	StateFailed   State = "FAILED"
)

const (
	DefaultContentSelector = `[data-segment-index], .flight-status-segment`
	DefaultEmptySelector   = `.flight-status-empty, [data-no-segments]`
	DefaultControlSelector = `#px-captcha, [data-challenge-control], .challenge-button, button[aria-label*="hold" i]`
)

var (
	DefaultTitleMarkers = []string{
		"just a moment",
		"attention required",
		"access to this page has been denied",
		"human verification",
	}
	DefaultContentMarkers = []string{
		"verify you are human",
		"verifying you are human",
		"checking your browser",
		"press & hold",
		"press and hold",
		"this may take a few seconds",
	}
	DefaultDenialMarkers = []string{
		"access denied",
		"you have been blocked",
		"verification failed",
		"please try again later",
	}
)

type Options struct {
	ContentSelector string
	// EmptySelector marks a rendered page that legitimately has no segments.
	EmptySelector   string
	ControlSelector string
	TitleMarkers    []string
	ContentMarkers  []string
	DenialMarkers   []string

	// FallbackPoint is pressed when the control cannot be located.
	FallbackPoint browser.Point
	// Jitter is the largest offset in pixels added to the press and release
	// coordinates.
	Jitter       float64
	Moves        int
	MoveDelay    time.Duration
	Hold         time.Duration
	Settle       time.Duration
	SelectorWait time.Duration
	// AttemptTimeout bounds one attempt, not counting the hold.
	AttemptTimeout  time.Duration
	ScreenshotEvery time.Duration

	Retry retry.Policy
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

func DefaultOptions() Options {
	return Options{
		ContentSelector: DefaultContentSelector,
		EmptySelector:   DefaultEmptySelector,
		ControlSelector: DefaultControlSelector,
		TitleMarkers:    DefaultTitleMarkers,
		ContentMarkers:  DefaultContentMarkers,
		DenialMarkers:   DefaultDenialMarkers,
		FallbackPoint:   browser.Point{X: 640, Y: 360},
		Jitter:          3,
		Moves:           5,
		MoveDelay:       60 * time.Millisecond,
		Hold:            15 * time.Second,
		Settle:          2 * time.Second,
		SelectorWait:    5 * time.Second,
		AttemptTimeout:  20 * time.Second,
		ScreenshotEvery: 5 * time.Second,
		Retry:           retry.Constant(3, 2*time.Second),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Handler struct {
	opts Options
	sink diagnostics.Sink
	time chrono.TimeAPI
	tel  telemetry.API

	// rng is shared between concurrent resolutions
	rngMu *sync.Mutex
}

func NewHandler(opts Options, sink diagnostics.Sink, clock chrono.TimeAPI, tel telemetry.API) Handler {
	assert.NotNil(sink)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.ContentSelector)
	assert.NotNegative(opts.Hold)

	if opts.Retry.NewBackOff == nil {
		opts.Retry = retry.Constant(3, 2*time.Second)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return Handler{
		opts:  opts,
		sink:  sink,
		time:  clock,
		tel:   telemetry.NewScopedAPI("challenge", tel),
		rngMu: &sync.Mutex{},
	}
}

func containsAny(text string, markers []string) (string, bool) {
	text = strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

// Interstitial reports whether a title or document carries one of the
// default interstitial markers.
func Interstitial(title, document string) bool {
	if _, ok := containsAny(title, DefaultTitleMarkers); ok {
		return true
	}
	_, ok := containsAny(document, DefaultContentMarkers)
	return ok
}

// NeedsVerification reports whether page shows the interstitial instead of
// the status content. Missing content after the wait also counts.
func (h Handler) NeedsVerification(ctx context.Context, page browser.Page) (bool, error) {
	ctx, span := tracer.Start(ctx, "NeedsVerification")
	defer span.End()

	state, reason, err := h.detect(ctx, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detection failed")
		return false, err
	}
	span.SetAttributes(
		attribute.String("state", string(state)),
		attribute.String("reason", reason),
	)
	if state == StateDetected {
		h.tel.ReportDebug("challenge detected", telemetry.KV{Key: "reason", Value: reason})
	}
	return state == StateDetected, nil
}

func (h Handler) detect(ctx context.Context, page browser.Page) (State, string, error) {
	found, err := page.Exists(ctx, h.opts.ContentSelector)
	if err != nil {
		return "", "", fmt.Errorf("check content: %w", err)
	}
	if found {
		return StateNormal, "content present", nil
	}
	if h.opts.EmptySelector != "" {
		empty, err := page.Exists(ctx, h.opts.EmptySelector)
		if err != nil {
			return "", "", fmt.Errorf("check empty state: %w", err)
		}
		if empty {
			return StateNormal, "empty state", nil
		}
	}

	title, err := page.Title(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read title: %w", err)
	}
	if marker, ok := containsAny(title, h.opts.TitleMarkers); ok {
		return StateDetected, "title: " + marker, nil
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read document: %w", err)
	}
	if marker, ok := containsAny(html, h.opts.ContentMarkers); ok {
		return StateDetected, "content: " + marker, nil
	}

	// the status panels render client side, give them a moment
	err = page.WaitVisible(ctx, h.opts.ContentSelector, h.opts.SelectorWait)
	if err == nil {
		return StateNormal, "content rendered", nil
	}
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	return StateDetected, "content missing", nil
}

// Resolve performs the press and hold gesture until the content shows up or
// the retry policy runs out, in which case the error wraps ErrFailed.
func (h Handler) Resolve(ctx context.Context, page browser.Page) (State, error) {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()

	attempts := 0
	err := h.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		h.tel.ReportCount(report_attempts, 1)

		state, err := h.attempt(ctx, page, attempt)
		if err != nil {
			return err
		}
		if state != StatePassed {
			return fmt.Errorf("attempt %d ended in %s", attempt, state)
		}
		return nil
	}, func(err error, wait time.Duration) {
		h.tel.ReportWarning(report_attempt, err, telemetry.KV{Key: "retry_in", Value: wait})
	})

	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = fmt.Errorf("%w after %d attempts: %w", ErrFailed, attempts, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "challenge failed")
		h.tel.ReportWarning(report_resolve, err)
		return StateFailed, err
	}
	h.tel.ReportDebug("challenge passed", telemetry.KV{Key: "attempts", Value: attempts})
	return StatePassed, nil
}

func (h Handler) jitter(p browser.Point, amount float64) browser.Point {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return browser.Point{
		X: p.X + (h.opts.Rand.Float64()*2-1)*amount,
		Y: p.Y + (h.opts.Rand.Float64()*2-1)*amount,
	}
}

// approach returns a short path of points that ends next to target.
func (h Handler) approach(target browser.Point) []browser.Point {
	h.rngMu.Lock()
	start := browser.Point{
		X: target.X - 80 - h.opts.Rand.Float64()*120,
		Y: target.Y + 40 + h.opts.Rand.Float64()*80,
	}
	h.rngMu.Unlock()

	path := make([]browser.Point, 0, h.opts.Moves)
	for i := 1; i <= h.opts.Moves; i++ {
		t := float64(i) / float64(h.opts.Moves+1)
		step := browser.Point{
			X: start.X + (target.X-start.X)*t,
			Y: start.Y + (target.Y-start.Y)*t,
		}
		path = append(path, h.jitter(step, 6))
	}
	return path
}

func (h Handler) locate(ctx context.Context, page browser.Page) browser.Point {
	if h.opts.ControlSelector == "" {
		return h.opts.FallbackPoint
	}
	center, ok, err := page.Center(ctx, h.opts.ControlSelector)
	if err != nil || !ok {
		h.tel.ReportDebug(
			"challenge control not found, using fallback",
			telemetry.KV{Key: "error", Value: err},
		)
		return h.opts.FallbackPoint
	}
	return center
}

func (h Handler) attempt(ctx context.Context, page browser.Page, attempt int) (State, error) {
	ctx, span := tracer.Start(ctx, "attempt")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", attempt))

	timeout := h.opts.AttemptTimeout + h.opts.Hold
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := h.locate(ctx, page)
	for _, p := range h.approach(target) {
		err := page.MouseMove(ctx, p)
		if err != nil {
			return StateFailed, fmt.Errorf("move pointer: %w", err)
		}
		err = h.opts.Sleep(ctx, h.opts.MoveDelay)
		if err != nil {
			return StateFailed, err
		}
	}

	press := h.jitter(target, h.opts.Jitter)
	err := page.MouseMove(ctx, press)
	if err != nil {
		return StateFailed, fmt.Errorf("move pointer: %w", err)
	}
	err = page.MouseDown(ctx, press)
	if err != nil {
		return StateFailed, fmt.Errorf("press: %w", err)
	}

	h.screenshot(ctx, page, attempt, 0)
	holdCtx, stopShots := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.captureDuringHold(holdCtx, page, attempt)
	}()
	err = h.opts.Sleep(ctx, h.opts.Hold)
	stopShots()
	wg.Wait()
	if err != nil {
		return StateFailed, err
	}

	err = page.MouseUp(ctx, h.jitter(press, h.opts.Jitter/2))
	if err != nil {
		return StateFailed, fmt.Errorf("release: %w", err)
	}
	err = h.opts.Sleep(ctx, h.opts.Settle)
	if err != nil {
		return StateFailed, err
	}

	state, err := h.outcome(ctx, page)
	span.SetAttributes(attribute.String("state", string(state)))
	return state, err
}

func (h Handler) outcome(ctx context.Context, page browser.Page) (State, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return StateFailed, fmt.Errorf("read title: %w", err)
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return StateFailed, fmt.Errorf("read document: %w", err)
	}
	if marker, ok := containsAny(title+"\n"+html, h.opts.DenialMarkers); ok {
		h.tel.ReportDebug("challenge denied", telemetry.KV{Key: "marker", Value: marker})
		return StateFailed, nil
	}

	found, err := page.Exists(ctx, h.opts.ContentSelector)
	if err != nil {
		return StateFailed, fmt.Errorf("check content: %w", err)
	}
	if found {
		return StatePassed, nil
	}

	state, _, err := h.detect(ctx, page)
	if err != nil {
		return StateFailed, err
	}
	if state == StateNormal {
		return StatePassed, nil
	}
	return StateFailed, nil
}

func (h Handler) captureDuringHold(ctx context.Context, page browser.Page, attempt int) {
	if h.opts.ScreenshotEvery <= 0 {
		return
	}
	ticker := time.NewTicker(h.opts.ScreenshotEvery)
	defer ticker.Stop()
	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.screenshot(ctx, page, attempt, i)
		}
	}
}

// screenshot hands a capture to the sink, every failure is ignored.
func (h Handler) screenshot(ctx context.Context, page browser.Page, attempt, index int) {
	data, err := page.Screenshot(ctx)
	if err != nil {
		h.tel.ReportDebug("screenshot failed", telemetry.KV{Key: "error", Value: err})
		return
	}
	location, err := page.URL(ctx)
	if err != nil {
		location = ""
	}
	h.sink.Capture(ctx, diagnostics.Capture{
		Kind:       diagnostics.KindScreenshot,
		URL:        location,
		Label:      fmt.Sprintf("challenge-%d-%d", attempt, index),
		Data:       data,
		CapturedAt: h.time.Now(),
	})
}
