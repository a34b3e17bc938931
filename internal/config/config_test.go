package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadDefaults(t *testing.T) {
	path := write(t, t.TempDir(), "config.json5", `{
		base_url: "https://status.example.com/flight-status",
	}`)

	cfg, err := Read(path)
	require.NoError(t, err)

	expected := Config{
		BaseUrl:             "https://status.example.com/flight-status",
		Source:              SourceBrowser,
		Timezone:            "America/Los_Angeles",
		Port:                8000,
		FreshnessSeconds:    300,
		RateLimitSeconds:    600,
		FetchTimeoutSeconds: 149,
		Scheduler:           SchedulerConfig{Spec: "@every 4h", WindowDays: 2},
		Challenge: ChallengeConfig{
			Attempts:              3,
			HoldSeconds:           15,
			AttemptTimeoutSeconds: 20,
			RetryDelaySeconds:     2,
		},
		Diagnostics: DiagnosticsConfig{TtlHours: 72},
	}
	expected.Database.File = "upgradewatch.db"
	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 5*time.Minute, cfg.Freshness())
	require.Equal(t, 10*time.Minute, cfg.RateLimitInterval())
	require.Equal(t, 109, cfg.ChallengeSeconds())
	require.Equal(t, 149*time.Second, cfg.FetchTimeout())
	require.Equal(t, 72*time.Hour, cfg.DiagnosticsTtl())
	require.Zero(t, cfg.SchedulerTimeout())
}

func TestReadLocalOverride(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "config.json5", `{
		base_url: "https://status.example.com",
		source: "browser",
		scheduler: { spec: "@every 2h" },
	}`)
	write(t, dir, "config.local.json5", `{
		source: "http",
		browser: { headful: true },
	}`)

	cfg, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, SourceHttp, cfg.Source)
	require.True(t, cfg.Browser.Headful)
	require.Equal(t, "@every 2h", cfg.Scheduler.Spec)
}

func TestValidate(t *testing.T) {
	valid := Config{BaseUrl: "https://status.example.com"}.WithDefaults()
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		modify func(c *Config)
	}{
		{"missing base url", func(c *Config) { c.BaseUrl = "" }},
		{"relative base url", func(c *Config) { c.BaseUrl = "/flight-status" }},
		{"unknown source", func(c *Config) { c.Source = "carrier-pigeon" }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus_Mons" }},
		{"negative freshness", func(c *Config) { c.FreshnessSeconds = -1 }},
		{"fetch shorter than challenge", func(c *Config) { c.FetchTimeoutSeconds = 90 }},
		{"fetch shorter than a longer hold", func(c *Config) { c.Challenge.HoldSeconds = 30 }},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			cfg := valid
			test.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestFetchTimeoutFollowsChallenge(t *testing.T) {
	cfg := Config{
		BaseUrl:   "https://status.example.com",
		Challenge: ChallengeConfig{Attempts: 1, HoldSeconds: 10},
	}.WithDefaults()
	require.Equal(t, 1*(20+10), cfg.ChallengeSeconds())
	require.Equal(t, 30+30+10, cfg.FetchTimeoutSeconds)
	require.NoError(t, cfg.Validate())

	// the http source never meets a challenge it could solve
	httpCfg := Config{
		BaseUrl:             "https://status.example.com",
		Source:              SourceHttp,
		FetchTimeoutSeconds: 20,
	}.WithDefaults()
	require.NoError(t, httpCfg.Validate())
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
