package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"upgradewatch/internal/browser"
	"upgradewatch/internal/challenge"
	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/flights"
	"upgradewatch/internal/session"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const report_browser_fetch = "tracker.browser-fetch"

// Document is a rendered status page.
type Document struct {
	URL  string
	HTML string
}

// Fetcher retrieves the status page of one flight and date.
type Fetcher interface {
	Fetch(ctx context.Context, key flights.FlightKey) (Document, error)
}

// StatusURL is the page of key below baseURL.
func StatusURL(baseURL string, key flights.FlightKey) string {
	return fmt.Sprintf(
		"%s/%s/%s",
		strings.TrimRight(baseURL, "/"),
		url.PathEscape(key.FlightNumber),
		url.PathEscape(key.Date),
	)
}

// Sessions hands out exclusive access to the browser.
type Sessions interface {
	Acquire(ctx context.Context) (*session.Session, error)
	Release(s *session.Session)
}

// Challenger gets a page past the bot-detection interstitial.
type Challenger interface {
	NeedsVerification(ctx context.Context, page browser.Page) (bool, error)
	Resolve(ctx context.Context, page browser.Page) (challenge.State, error)
}

const DefaultNavigationTimeout = 30 * time.Second

type BrowserFetcher struct {
	BaseURL           string
	NavigationTimeout time.Duration

	sessions   Sessions
	challenger Challenger
	tel        telemetry.API
}

func NewBrowserFetcher(baseURL string, sessions Sessions, challenger Challenger, tel telemetry.API) BrowserFetcher {
	assert.NotEmptyStr(baseURL)
	assert.NotNil(sessions)
	assert.NotNil(challenger)
	assert.NotNil(tel)

	return BrowserFetcher{
		BaseURL:           baseURL,
		NavigationTimeout: DefaultNavigationTimeout,
		sessions:          sessions,
		challenger:        challenger,
		tel:               telemetry.NewScopedAPI("browser_fetcher", tel),
	}
}

// Fetch acquires the session, navigates a fresh tab, gets past the challenge
// if there is one and returns the rendered document. The tab is always
// closed before returning.
func (f BrowserFetcher) Fetch(ctx context.Context, key flights.FlightKey) (Document, error) {
	ctx, span := tracer.Start(ctx, "BrowserFetcher.Fetch")
	defer span.End()

	target := StatusURL(f.BaseURL, key)
	span.SetAttributes(attribute.String("url", target))

	doc, err := f.fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "browser fetch failed")
		f.tel.ReportWarning(report_browser_fetch, err, key.String())
		return Document{}, err
	}
	return doc, nil
}

func (f BrowserFetcher) fetch(ctx context.Context, target string) (Document, error) {
	s, err := f.sessions.Acquire(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Document{}, fmt.Errorf("%w: waiting for session: %w", ErrTransient, err)
		}
		return Document{}, err
	}
	defer f.sessions.Release(s)

	page, err := s.NewPage(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("%w: open tab: %w", ErrTransient, err)
	}
	defer func() {
		err := page.Close()
		if err != nil {
			f.tel.ReportDebug("failed to close tab", telemetry.KV{Key: "error", Value: err})
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, f.NavigationTimeout)
	err = page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		return Document{}, fmt.Errorf("%w: navigate: %w", ErrTransient, err)
	}

	needed, err := f.challenger.NeedsVerification(ctx, page)
	if err != nil {
		return Document{}, fmt.Errorf("%w: detect challenge: %w", ErrTransient, err)
	}
	if needed {
		_, err := f.challenger.Resolve(ctx, page)
		if err != nil {
			return Document{}, err
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("%w: read document: %w", ErrTransient, err)
	}
	location, err := page.URL(ctx)
	if err != nil || location == "" {
		location = target
	}
	return Document{URL: location, HTML: html}, nil
}
