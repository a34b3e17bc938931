package browser

import (
	"fmt"
	"math/rand/v2"

	"github.com/mazen160/go-random"
)

type Viewport struct {
	Width  int
	Height int
}

// Resource is a class of subresource a page may request.
type Resource string

const (
	ResourceImage      Resource = "image"
	ResourceStylesheet Resource = "stylesheet"
	ResourceFont       Resource = "font"
	ResourceMedia      Resource = "media"
)

// Fingerprint is the per-launch identity presented by the browser.
type Fingerprint struct {
	ID        string
	Viewport  Viewport
	UserAgent string
	Blocked   []Resource
}

var viewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1680, Height: 1050},
	{Width: 1600, Height: 900},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1366, Height: 768},
	{Width: 1280, Height: 800},
}

var platforms = []string{
	"Windows NT 10.0; Win64; x64",
	"Macintosh; Intel Mac OS X 10_15_7",
	"X11; Linux x86_64",
}

const (
	minChromeMajor = 124
	maxChromeMajor = 134
)

// DefaultBlocked is the reduced resource profile, the page only needs
// documents and scripts to render the status panels.
var DefaultBlocked = []Resource{
	ResourceImage,
	ResourceStylesheet,
	ResourceFont,
	ResourceMedia,
}

// NewFingerprint picks a viewport and a synthetic chrome user agent using rng.
func NewFingerprint(rng *rand.Rand) (Fingerprint, error) {
	id, err := random.String(12)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint id: %w", err)
	}

	major := minChromeMajor + rng.IntN(maxChromeMajor-minChromeMajor+1)
	build := 6000 + rng.IntN(900)
	patch := rng.IntN(200)

	return Fingerprint{
		ID:       id,
		Viewport: viewports[rng.IntN(len(viewports))],
		UserAgent: fmt.Sprintf(
			"Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.%d.%d Safari/537.36",
			platforms[rng.IntN(len(platforms))],
			major, build, patch,
		),
		Blocked: DefaultBlocked,
	}, nil
}
