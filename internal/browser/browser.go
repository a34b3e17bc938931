// Package browser abstracts the headless browser runtime behind small
// interfaces so the session manager and challenge handler can be driven by
// fakes in tests.
package browser

import (
	"context"
	"time"
)

// Launcher starts a new browser process configured with fp.
type Launcher interface {
	Launch(ctx context.Context, fp Fingerprint) (Browser, error)
}

// Browser is a live browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Done is closed when the runtime reports that the browser disconnected.
	Done() <-chan struct{}
	Close() error
}

// Point is a coordinate in CSS pixels relative to the viewport.
type Point struct {
	X float64
	Y float64
}

// Page is a single tab. Every method is bounded by ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// URL is the address of the current document.
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Exists checks for selector once without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Center returns the center of the first element matching selector,
	// ok is false if nothing matches.
	Center(ctx context.Context, selector string) (p Point, ok bool, err error)
	MouseMove(ctx context.Context, p Point) error
	MouseDown(ctx context.Context, p Point) error
	MouseUp(ctx context.Context, p Point) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
