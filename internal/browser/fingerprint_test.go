package browser

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

var chromeUA = regexp.MustCompile(`^Mozilla/5\.0 \(([^)]+)\) AppleWebKit/537\.36 \(KHTML, like Gecko\) Chrome/(\d+)\.0\.\d+\.\d+ Safari/537\.36$`)

func TestNewFingerprint(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		fp, err := NewFingerprint(rng)
		require.NoError(t, err)
		require.NotEmpty(t, fp.ID)
		require.Contains(t, viewports, fp.Viewport)
		require.Equal(t, DefaultBlocked, fp.Blocked)

		match := chromeUA.FindStringSubmatch(fp.UserAgent)
		require.NotNil(t, match, fp.UserAgent)
		require.Contains(t, platforms, match[1])

		major, err := strconv.Atoi(match[2])
		require.NoError(t, err)
		require.GreaterOrEqual(t, major, minChromeMajor)
		require.LessOrEqual(t, major, maxChromeMajor)

		seen[fp.UserAgent] = struct{}{}
	}
	require.Greater(t, len(seen), 1)
}

func TestIsStrayChrome(t *testing.T) {
	cases := []struct {
		name    string
		cmdline string
		stray   bool
	}{
		{"chrome", "/usr/bin/chrome --headless --remote-debugging-port=0", true},
		{"Chromium", "chromium --headless=new --remote-debugging-pipe", true},
		{"chrome", "/usr/bin/chrome --profile-directory=Default", false},
		{"firefox", "firefox --headless --remote-debugging-port=0", false},
	}
	for _, test := range cases {
		require.Equal(t, test.stray, isStrayChrome(test.name, test.cmdline), test.cmdline)
	}
}
