package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"upgradewatch/internal/browser"
)

var ErrNotVisible = errors.New("selector not visible")

// FakePage is a scripted page. Selectors in Present exist, everything else
// does not. Hooks may mutate the page to simulate transitions.
type FakePage struct {
	mu sync.Mutex

	TitleText string
	Document  string
	Present   map[string]bool
	Centers   map[string]browser.Point

	NavigateErr error
	HTMLErr     error

	// OnNavigate runs after every navigation, with the page lock released.
	OnNavigate func(p *FakePage, url string)
	// OnRelease runs after every MouseUp, with the page lock released.
	OnRelease func(p *FakePage)

	Navigations []string
	Pointer     []string
	Screenshots int
	Closed      bool
}

func (p *FakePage) Set(fn func(p *FakePage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	err := p.NavigateErr
	hook := p.OnNavigate
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(p, url)
	}
	return ctx.Err()
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Navigations) == 0 {
		return "about:blank", nil
	}
	return p.Navigations[len(p.Navigations)-1], nil
}

func (p *FakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleText, nil
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Document, p.HTMLErr
}

func (p *FakePage) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Present[selector], nil
}

func (p *FakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Present[selector] {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotVisible, selector)
}

func (p *FakePage) Center(ctx context.Context, selector string) (browser.Point, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Present[selector] {
		return browser.Point{}, false, nil
	}
	return p.Centers[selector], true, nil
}

func (p *FakePage) pointer(kind string, pt browser.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pointer = append(p.Pointer, fmt.Sprintf("%s %.0f,%.0f", kind, pt.X, pt.Y))
}

func (p *FakePage) MouseMove(ctx context.Context, pt browser.Point) error {
	p.pointer("move", pt)
	return nil
}

func (p *FakePage) MouseDown(ctx context.Context, pt browser.Point) error {
	p.pointer("down", pt)
	return nil
}

func (p *FakePage) MouseUp(ctx context.Context, pt browser.Point) error {
	p.pointer("up", pt)
	p.mu.Lock()
	hook := p.OnRelease
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Screenshots++
	return []byte("png"), nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Releases counts MouseUp events.
func (p *FakePage) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, e := range p.Pointer {
		if len(e) >= 2 && e[:2] == "up" {
			count++
		}
	}
	return count
}

type FakeBrowser struct {
	mu          sync.Mutex
	newPage     func() *FakePage
	pages       []*FakePage
	done        chan struct{}
	closed      bool
	Fingerprint browser.Fingerprint
}

func (b *FakeBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser closed")
	}
	page := b.newPage()
	b.pages = append(b.pages, page)
	return page, nil
}

func (b *FakeBrowser) Done() <-chan struct{} {
	return b.done
}

// Disconnect simulates the runtime reporting a lost connection.
func (b *FakeBrowser) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

func (b *FakeBrowser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Disconnect()
	return nil
}

func (b *FakeBrowser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FakeBrowser) Pages() []*FakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakePage(nil), b.pages...)
}

// FakeLauncher hands out FakeBrowsers whose pages come from NewPage.
type FakeLauncher struct {
	mu sync.Mutex

	NewPage func() *FakePage
	// FailFirst makes the first n launches fail.
	FailFirst int
	// Gate, when set, blocks every launch until it is closed.
	Gate chan struct{}

	launches int
	browsers []*FakeBrowser
}

func (l *FakeLauncher) Launch(ctx context.Context, fp browser.Fingerprint) (browser.Browser, error) {
	l.mu.Lock()
	gate := l.Gate
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.launches <= l.FailFirst {
		return nil, fmt.Errorf("launch %d failed", l.launches)
	}
	newPage := l.NewPage
	if newPage == nil {
		newPage = func() *FakePage { return &FakePage{} }
	}
	b := &FakeBrowser{
		newPage:     newPage,
		done:        make(chan struct{}),
		Fingerprint: fp,
	}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *FakeLauncher) Browsers() []*FakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeBrowser(nil), l.browsers...)
}
