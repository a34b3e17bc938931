package statuspage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"upgradewatch/internal/challenge"
	"upgradewatch/internal/components/testutil"
	"upgradewatch/internal/flights"
	"upgradewatch/internal/tracker"

	"github.com/stretchr/testify/require"
)

const statusDocument = `<html><head><title>Flight status</title></head><body>
<div data-segment-index="0" data-flight-number="100" data-flight-date="2026-10-17"></div>
</body></html>`

const interstitialDocument = `<html><head><title>Just a moment...</title></head>
<body><p>Checking your browser before accessing the site.</p></body></html>`

func serve(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, testutil.NewTelemetry(t))
	require.NoError(t, err)
	return client
}

var key = flights.FlightKey{FlightNumber: "100", Date: "2026-10-17"}

func TestFetch(t *testing.T) {
	var path string
	client := serve(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("content-type", "text/html")
		w.Write([]byte(statusDocument))
	})

	doc, err := client.Fetch(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "/100/2026-10-17", path)
	require.Equal(t, statusDocument, doc.HTML)
	require.Contains(t, doc.URL, "/100/2026-10-17")
}

func TestFetchStatusCodes(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{"challenge with 503", http.StatusServiceUnavailable, interstitialDocument, challenge.ErrFailed},
		{"challenge with 200", http.StatusOK, interstitialDocument, challenge.ErrFailed},
		{"forbidden", http.StatusForbidden, "denied", challenge.ErrFailed},
		{"bad gateway", http.StatusBadGateway, "upstream down", tracker.ErrTransient},
		{"too many requests", http.StatusTooManyRequests, "slow down", tracker.ErrTransient},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			client := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			})
			_, err := client.Fetch(context.Background(), key)
			require.ErrorIs(t, err, test.expected)
		})
	}
}

func TestFetchNotFoundIsEmptyPage(t *testing.T) {
	client := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<html><body>no such flight</body></html>"))
	})

	doc, err := client.Fetch(context.Background(), key)
	require.NoError(t, err)
	require.Contains(t, doc.HTML, "no such flight")
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(server.URL, testutil.NewTelemetry(t))
	require.NoError(t, err)
	server.Close()

	_, err = client.Fetch(context.Background(), key)
	require.ErrorIs(t, err, tracker.ErrTransient)
}
