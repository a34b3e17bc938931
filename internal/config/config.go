// Package config holds the settings of the upgradewatch binary.
package config

import (
	"fmt"
	"net/url"
	"time"

	"upgradewatch/internal/components/configutil"
)

const (
	SourceBrowser = "browser"
	SourceHttp    = "http"
)

type SchedulerConfig struct {
	Disabled bool `json:"disabled"`
	// Spec is a cron spec, descriptors like "@every 4h" are allowed.
	Spec        string `json:"spec"`
	WindowDays  int    `json:"window_days"`
	TimeoutMins int    `json:"timeout_mins"`
}

type ChallengeConfig struct {
	Attempts              int `json:"attempts"`
	HoldSeconds           int `json:"hold_seconds"`
	AttemptTimeoutSeconds int `json:"attempt_timeout_seconds"`
	RetryDelaySeconds     int `json:"retry_delay_seconds"`
}

type BrowserConfig struct {
	ExecPath string `json:"exec_path"`
	// Headful shows the browser window, useful when debugging a challenge.
	Headful bool `json:"headful"`
}

type DiagnosticsConfig struct {
	// Dir is where captures are kept, empty disables them.
	Dir      string `json:"dir"`
	TtlHours int    `json:"ttl_hours"`
}

type Config struct {
	Database configutil.Database `json:"database"`
	BaseUrl  string              `json:"base_url"`
	// Source is either "browser" or "http".
	Source   string `json:"source"`
	Timezone string `json:"timezone"`
	Port     int    `json:"port"`

	FreshnessSeconds    int `json:"freshness_seconds"`
	RateLimitSeconds    int `json:"rate_limit_seconds"`
	FetchTimeoutSeconds int `json:"fetch_timeout_seconds"`

	Scheduler   SchedulerConfig   `json:"scheduler"`
	Challenge   ChallengeConfig   `json:"challenge"`
	Browser     BrowserConfig     `json:"browser"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

// navigationSeconds matches the browser fetcher's navigation timeout.
const navigationSeconds = 30

// fetchSlackSeconds covers everything around navigation and the challenge,
// reading the page and the store writes.
const fetchSlackSeconds = 10

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c Config) Freshness() time.Duration {
	return seconds(c.FreshnessSeconds)
}

func (c Config) RateLimitInterval() time.Duration {
	return seconds(c.RateLimitSeconds)
}

func (c Config) FetchTimeout() time.Duration {
	return seconds(c.FetchTimeoutSeconds)
}

// ChallengeSeconds is the longest a challenge can take, every attempt held
// to its timeout with the retry delays in between.
func (c Config) ChallengeSeconds() int {
	ch := c.Challenge
	if ch.Attempts <= 0 {
		return 0
	}
	return ch.Attempts*(ch.AttemptTimeoutSeconds+ch.HoldSeconds) + (ch.Attempts-1)*ch.RetryDelaySeconds
}

// minFetchSeconds is the smallest fetch timeout that lets a browser fetch
// go through navigation and every challenge attempt.
func (c Config) minFetchSeconds() int {
	if c.Source != SourceBrowser {
		return 0
	}
	return navigationSeconds + c.ChallengeSeconds()
}

func (c Config) DiagnosticsTtl() time.Duration {
	return time.Duration(c.Diagnostics.TtlHours) * time.Hour
}

func (c Config) SchedulerTimeout() time.Duration {
	return time.Duration(c.Scheduler.TimeoutMins) * time.Minute
}

// Read reads name (and its .local override) and fills in defaults.
func Read(name string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](name)
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	err = cfg.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func (c Config) WithDefaults() Config {
	if c.Source == "" {
		c.Source = SourceBrowser
	}
	if c.Timezone == "" {
		c.Timezone = "America/Los_Angeles"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.FreshnessSeconds == 0 {
		c.FreshnessSeconds = 5 * 60
	}
	if c.RateLimitSeconds == 0 {
		c.RateLimitSeconds = 10 * 60
	}
	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = "@every 4h"
	}
	if c.Scheduler.WindowDays == 0 {
		c.Scheduler.WindowDays = 2
	}
	if c.Challenge.Attempts == 0 {
		c.Challenge.Attempts = 3
	}
	if c.Challenge.HoldSeconds == 0 {
		c.Challenge.HoldSeconds = 15
	}
	if c.Challenge.AttemptTimeoutSeconds == 0 {
		c.Challenge.AttemptTimeoutSeconds = 20
	}
	if c.Challenge.RetryDelaySeconds == 0 {
		c.Challenge.RetryDelaySeconds = 2
	}
	if c.FetchTimeoutSeconds == 0 {
		c.FetchTimeoutSeconds = navigationSeconds + c.ChallengeSeconds() + fetchSlackSeconds
	}
	if c.Diagnostics.TtlHours == 0 {
		c.Diagnostics.TtlHours = 72
	}
	if c.Database.File == "" && c.Database.Url == "" {
		c.Database.File = "upgradewatch.db"
	}
	return c
}

func (c Config) Validate() error {
	if c.BaseUrl == "" {
		return fmt.Errorf("base_url is required")
	}
	parsed, err := url.Parse(c.BaseUrl)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base_url must be http(s), got %q", c.BaseUrl)
	}
	if c.Source != SourceBrowser && c.Source != SourceHttp {
		return fmt.Errorf("unknown source %q", c.Source)
	}
	_, err = time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	for name, v := range map[string]int{
		"freshness_seconds":     c.FreshnessSeconds,
		"rate_limit_seconds":    c.RateLimitSeconds,
		"fetch_timeout_seconds": c.FetchTimeoutSeconds,
		"scheduler.window_days": c.Scheduler.WindowDays,
		"challenge.attempts":    c.Challenge.Attempts,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if need := c.minFetchSeconds(); c.FetchTimeoutSeconds < need {
		return fmt.Errorf(
			"fetch_timeout_seconds is %d, navigation and %d challenge attempts need at least %d",
			c.FetchTimeoutSeconds, c.Challenge.Attempts, need,
		)
	}
	return nil
}
