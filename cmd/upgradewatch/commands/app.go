package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"upgradewatch/internal/browser"
	"upgradewatch/internal/challenge"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/db"
	"upgradewatch/internal/components/diagnostics"
	"upgradewatch/internal/components/retry"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/config"
	"upgradewatch/internal/extract"
	"upgradewatch/internal/ratelimit"
	"upgradewatch/internal/scheduler"
	"upgradewatch/internal/scrapers/statuspage"
	"upgradewatch/internal/service"
	"upgradewatch/internal/session"
	"upgradewatch/internal/tracker"
	"upgradewatch/internal/waitlist"
)

// app is every component of the tracker wired from one config.
type app struct {
	cfg       config.Config
	time      chrono.StandardTime
	tel       telemetry.API
	store     db.Store
	sessions  *session.Manager
	gateway   tracker.Gateway
	scheduler scheduler.Scheduler

	closers []func() error
}

func newApp(ctx context.Context, name string) (*app, error) {
	providers, err := telemetry.SetupFromEnv(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	a := &app{tel: telemetry.NewMeteredAPI(telemetry.SlogAPI{})}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return providers.Shutdown(ctx)
	})

	err = a.init()
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg, err := config.Read(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	a.cfg = cfg

	a.time, err = chrono.NewStandardTime(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	sqldb, err := cfg.Database.OpenDB(db.Schema)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	a.closers = append(a.closers, sqldb.Close)
	a.store = db.NewStore(sqldb, a.time, a.tel)

	var sink diagnostics.Sink = diagnostics.Discard{}
	if cfg.Diagnostics.Dir != "" {
		captures, err := diagnostics.Open(cfg.Diagnostics.Dir, cfg.DiagnosticsTtl(), a.time, a.tel)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, captures.Close)
		sink = captures
	}

	fetcher, err := a.fetcher(sink)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitInterval(), 0, a.time)
	a.gateway = tracker.NewGateway(
		a.store,
		fetcher,
		extract.NewExtractor(a.tel),
		limiter,
		waitlist.NewEngine(a.store, a.time, a.tel),
		sink,
		a.time,
		a.tel,
		tracker.Options{
			Freshness:    cfg.Freshness(),
			FetchTimeout: cfg.FetchTimeout(),
		},
	)
	a.scheduler = scheduler.NewScheduler(a.gateway, a.store, a.time, a.tel, scheduler.Options{
		Spec:       cfg.Scheduler.Spec,
		WindowDays: cfg.Scheduler.WindowDays,
		RunTimeout: cfg.SchedulerTimeout(),
	})

	slog.Debug("initialized", "source", cfg.Source, "base_url", cfg.BaseUrl, "timezone", cfg.Timezone)
	return nil
}

func (a *app) fetcher(sink diagnostics.Sink) (tracker.Fetcher, error) {
	if a.cfg.Source == config.SourceHttp {
		client, err := statuspage.NewClient(a.cfg.BaseUrl, a.tel)
		if err != nil {
			return nil, fmt.Errorf("init status page client: %w", err)
		}
		return client, nil
	}

	launcher := browser.NewChromeLauncher(browser.ChromeOptions{
		ExecPath: a.cfg.Browser.ExecPath,
		Headless: !a.cfg.Browser.Headful,
	}, a.tel)
	a.sessions = session.NewManager(launcher, a.time, a.tel, session.Options{})
	a.closers = append(a.closers, a.sessions.Close)

	opts := challenge.DefaultOptions()
	opts.Hold = time.Duration(a.cfg.Challenge.HoldSeconds) * time.Second
	opts.AttemptTimeout = time.Duration(a.cfg.Challenge.AttemptTimeoutSeconds) * time.Second
	opts.Retry = retry.Constant(
		a.cfg.Challenge.Attempts,
		time.Duration(a.cfg.Challenge.RetryDelaySeconds)*time.Second,
	)
	handler := challenge.NewHandler(opts, sink, a.time, a.tel)

	return tracker.NewBrowserFetcher(a.cfg.BaseUrl, a.sessions, handler, a.tel), nil
}

// health is nil without a browser, so that the service treats it as absent.
func (a *app) health() service.Health {
	if a.sessions == nil {
		return nil
	}
	return a.sessions
}

// Close releases everything in reverse order of creation.
func (a *app) Close() error {
	errlist := []error{}
	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i]()
		if err != nil && !errors.Is(err, sql.ErrConnDone) {
			errlist = append(errlist, err)
		}
	}
	a.closers = nil
	return errors.Join(errlist...)
}
