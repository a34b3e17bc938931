package browser

import (
	"context"
	"fmt"
	"time"

	"upgradewatch/internal/components/telemetry"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	report_chrome_launch    = "chrome.launch"
	report_chrome_intercept = "chrome.intercept"
)

var resourceTypes = map[Resource]network.ResourceType{
	ResourceImage:      network.ResourceTypeImage,
	ResourceStylesheet: network.ResourceTypeStylesheet,
	ResourceFont:       network.ResourceTypeFont,
	ResourceMedia:      network.ResourceTypeMedia,
}

type ChromeOptions struct {
	// ExecPath overrides the chrome binary, empty uses the one found on PATH.
	ExecPath string
	Headless bool
}

// ChromeLauncher launches chrome through chromedp.
type ChromeLauncher struct {
	options ChromeOptions
	tel     telemetry.API
}

func NewChromeLauncher(options ChromeOptions, tel telemetry.API) ChromeLauncher {
	return ChromeLauncher{
		options: options,
		tel:     telemetry.NewScopedAPI("browser", tel),
	}
}

func (l ChromeLauncher) Launch(ctx context.Context, fp Fingerprint) (Browser, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.options.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(fp.Viewport.Width, fp.Viewport.Height),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if l.options.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.options.ExecPath))
	}

	// the browser outlives the launch request, only the launch itself is
	// bounded by ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.tel.ReportDebug(fmt.Sprintf(format, args...))
		}),
	)

	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		l.tel.ReportBroken(report_chrome_launch, err, fp.ID)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	l.tel.ReportDebug(
		"chrome launched",
		telemetry.KV{Key: "fingerprint", Value: fp.ID},
		telemetry.KV{Key: "user_agent", Value: fp.UserAgent},
	)

	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		fp:          fp,
		tel:         l.tel,
	}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	fp          Fingerprint
	tel         telemetry.API
}

// Done relies on chromedp cancelling the allocator, and with it every child
// context, once the websocket connection is lost.
func (b *chromeBrowser) Done() <-chan struct{} {
	return b.ctx.Done()
}

func (b *chromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	page := &chromePage{ctx: tabCtx, cancel: tabCancel}

	blocked := map[network.ResourceType]bool{}
	patterns := make([]*fetch.RequestPattern, 0, len(b.fp.Blocked))
	for _, r := range b.fp.Blocked {
		rt, ok := resourceTypes[r]
		if !ok {
			continue
		}
		blocked[rt] = true
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
		})
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// the listener runs on the event loop, commands must be sent from
		// another goroutine.
		go func() {
			c := chromedp.FromContext(tabCtx)
			execCtx := cdp.WithExecutor(tabCtx, c.Target)
			var err error
			if blocked[paused.ResourceType] {
				err = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			} else {
				err = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
			}
			if err != nil && tabCtx.Err() == nil {
				b.tel.ReportWarning(report_chrome_intercept, err, string(paused.ResourceType))
			}
		}()
	})

	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(b.fp.Viewport.Width), int64(b.fp.Viewport.Height)),
	}
	if len(patterns) > 0 {
		actions = append(actions, fetch.Enable().WithPatterns(patterns))
	}
	// the first run attaches the tab and starts its event loop on the ctx it
	// is given, so it must be tabCtx itself. ctx may only cut this call short.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, actions...)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on an attached tab, bounded by both the tab's
// lifetime and the caller's ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	err := p.run(ctx, chromedp.Location(&location))
	return location, err
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Center(ctx context.Context, selector string) (Point, bool, error) {
	found, err := p.Exists(ctx, selector)
	if err != nil || !found {
		return Point{}, false, err
	}

	var box *dom.BoxModel
	err = p.run(ctx, chromedp.Dimensions(selector, &box, chromedp.ByQuery))
	if err != nil {
		return Point{}, false, err
	}
	if box == nil || len(box.Content) < 8 {
		return Point{}, false, nil
	}

	// content is a quad of 4 (x, y) pairs
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += box.Content[i]
		y += box.Content[i+1]
	}
	return Point{X: x / 4, Y: y / 4}, true, nil
}

func (p *chromePage) MouseMove(ctx context.Context, pt Point) error {
	return p.run(ctx, chromedp.MouseEvent(input.MouseMoved, pt.X, pt.Y))
}

func (p *chromePage) MouseDown(ctx context.Context, pt Point) error {
	return p.run(ctx, chromedp.MouseEvent(
		input.MousePressed, pt.X, pt.Y,
		chromedp.ButtonLeft,
		chromedp.ClickCount(1),
	))
}

func (p *chromePage) MouseUp(ctx context.Context, pt Point) error {
	return p.run(ctx, chromedp.MouseEvent(
		input.MouseReleased, pt.X, pt.Y,
		chromedp.ButtonLeft,
		chromedp.ClickCount(1),
	))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
