package diagnostics

import (
	"context"
	"testing"
	"time"

	"upgradewatch/internal/components/testutil"

	"github.com/stretchr/testify/require"
)

func TestKeyNormalization(t *testing.T) {
	a, err := Key(KindPage, "HTTPS://Status.Example.com:443/100/2026-10-16?b=2&a=1#top", "")
	require.NoError(t, err)
	b, err := Key(KindPage, "https://status.example.com/100/2026-10-16?a=1&b=2", "")
	require.NoError(t, err)
	require.Equal(t, a, b)

	shot, err := Key(KindScreenshot, "https://status.example.com/100/2026-10-16", "attempt-1")
	require.NoError(t, err)
	require.Equal(t, "screenshot:https://status.example.com/100/2026-10-16@attempt-1", shot)
}

func TestStoreExpiry(t *testing.T) {
	clock := testutil.NewFakeTime(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	store, err := Open("", time.Hour, clock, testutil.NewTelemetry(t))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	url := "https://status.example.com/100/2026-10-16"
	store.Capture(ctx, Capture{
		Kind: KindPage,
		URL:  url,
		Data: []byte("<html></html>"),
	})

	capture, err := store.Get(ctx, KindPage, url, "")
	require.NoError(t, err)
	require.Equal(t, []byte("<html></html>"), capture.Data)
	require.True(t, clock.Now().Equal(capture.CapturedAt))

	keys, err := store.List(ctx, KindPage)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	_, err = store.Get(ctx, KindScreenshot, url, "")
	require.ErrorIs(t, err, ErrNotFound)

	clock.Advance(time.Hour)
	_, err = store.Get(ctx, KindPage, url, "")
	require.ErrorIs(t, err, ErrNotFound)
}
