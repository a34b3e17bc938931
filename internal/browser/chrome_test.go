package browser_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"upgradewatch/internal/browser"
	"upgradewatch/internal/components/testutil"

	"github.com/stretchr/testify/require"
)

func findChrome(t *testing.T) string {
	for _, name := range []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
		"chrome",
		"headless-shell",
	} {
		path, err := exec.LookPath(name)
		if err == nil {
			return path
		}
	}
	t.Skip("no chrome binary on PATH")
	return ""
}

func TestChromePage(t *testing.T) {
	execPath := findChrome(t)

	var images atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pixel.png", func(w http.ResponseWriter, r *http.Request) {
		images.Add(1)
		w.Header().Set("Content-Type", "image/png")
	})
	mux.HandleFunc("GET /flight/100/2026-10-17", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Flight status</title></head><body>
			<div id="flight-status"><h3>Upgrade requests</h3></div>
			<img src="/pixel.png">
		</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	fp, err := browser.NewFingerprint(rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	launcher := browser.NewChromeLauncher(browser.ChromeOptions{ExecPath: execPath, Headless: true}, testutil.NewTelemetry(t))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b, err := launcher.Launch(ctx, fp)
	require.NoError(t, err)
	defer b.Close()

	// the page must stay usable after the ctx that opened it is gone
	openCtx, openCancel := context.WithTimeout(ctx, 20*time.Second)
	page, err := b.NewPage(openCtx)
	openCancel()
	require.NoError(t, err)
	defer page.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 20*time.Second)
	defer callCancel()

	err = page.Navigate(callCtx, server.URL+"/flight/100/2026-10-17")
	require.NoError(t, err)

	title, err := page.Title(callCtx)
	require.NoError(t, err)
	require.Equal(t, "Flight status", title)

	found, err := page.Exists(callCtx, "#flight-status")
	require.NoError(t, err)
	require.True(t, found)

	html, err := page.HTML(callCtx)
	require.NoError(t, err)
	require.Contains(t, html, "Upgrade requests")

	location, err := page.URL(callCtx)
	require.NoError(t, err)
	require.Equal(t, server.URL+"/flight/100/2026-10-17", location)

	require.Contains(t, fp.Blocked, browser.ResourceImage)
	require.Zero(t, images.Load())
}
