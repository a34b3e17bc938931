// Package statuspage fetches the status page over plain HTTP. It only works
// while the site serves the rendered panels without a challenge, which makes
// it a cheaper alternative to the browser when that is the case.
package statuspage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"upgradewatch/internal/challenge"
	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/flights"
	"upgradewatch/internal/tracker"
	"upgradewatch/pkg/htmlutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("upgradewatch/internal/scrapers/statuspage")

const report_fetch = "statuspage.fetch"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	tel telemetry.API
}

func NewClient(baseUrl string, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("statuspage", tel)

	parsedBaseUrl, err := url.Parse(baseUrl)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", userAgent)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))
	httpClient.SetTimeout(30 * time.Second)

	// 2 requests max per second
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(2, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		BaseUrl: parsedBaseUrl,
		Http:    httpClient,
		tel:     tel,
	}, nil
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Fetch implements tracker.Fetcher.
func (c *Client) Fetch(ctx context.Context, key flights.FlightKey) (tracker.Document, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	target := tracker.StatusURL(c.BaseUrl.String(), key)
	span.SetAttributes(attribute.String("url", target))

	doc, err := c.fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch status page")
		c.tel.ReportWarning(report_fetch, err, key.String())
		return tracker.Document{}, err
	}
	return doc, nil
}

func (c *Client) fetch(ctx context.Context, target string) (tracker.Document, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("accept", "text/html,application/xhtml+xml").
		Get(target)
	if err != nil {
		if transient(err) {
			return tracker.Document{}, fmt.Errorf("%w: %w", tracker.ErrTransient, err)
		}
		return tracker.Document{}, err
	}

	body := res.String()
	switch {
	case res.StatusCode() == http.StatusTooManyRequests || res.StatusCode() >= 500:
		if looksLikeChallenge(ctx, body) {
			return tracker.Document{}, fmt.Errorf("%w: served over http", challenge.ErrFailed)
		}
		return tracker.Document{}, fmt.Errorf("%w: status %s", tracker.ErrTransient, res.Status())
	case res.StatusCode() == http.StatusForbidden:
		return tracker.Document{}, fmt.Errorf("%w: status %s", challenge.ErrFailed, res.Status())
	case res.StatusCode() == http.StatusNotFound:
		// an unknown flight renders an empty page rather than an error
		return tracker.Document{URL: target, HTML: body}, nil
	case res.IsError():
		return tracker.Document{}, fmt.Errorf("unexpected status %s", res.Status())
	}

	if looksLikeChallenge(ctx, body) {
		return tracker.Document{}, fmt.Errorf("%w: served over http", challenge.ErrFailed)
	}

	location := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		location = res.RawResponse.Request.URL.String()
	}
	return tracker.Document{URL: location, HTML: body}, nil
}

func looksLikeChallenge(ctx context.Context, body string) bool {
	doc, err := htmlutil.Parse(ctx, body)
	if err != nil {
		return false
	}
	if doc.Find(challenge.DefaultContentSelector).Length() > 0 {
		return false
	}
	return challenge.Interstitial(htmlutil.Text(doc.Find("title")), body)
}
