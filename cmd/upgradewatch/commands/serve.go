package commands

import (
	"log/slog"
	"time"

	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/serviceutil"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/service"

	"github.com/spf13/cobra"
)

var (
	servePort    int
	refreshFirst bool
)

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on, overrides the config.")
	serveCmd.Flags().BoolVar(&refreshFirst, "refresh", false, "Refresh tracked flights immediately on start.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--port <port>] [--refresh]",
	Short: "Serves position lookups over HTTP and refreshes tracked flights in the background.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := newApp(ctx, "upgradewatch")
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		defer func() {
			if err := a.Close(); err != nil {
				slog.Warn("failed to close cleanly", "err", err)
			}
		}()

		telemetry.InstrumentPerfStats(ctx, 30*time.Second)

		if !a.cfg.Scheduler.Disabled {
			cron := chrono.NewStandardCron(a.tel, a.time.Location())
			defer func() {
				<-cron.Stop().Done()
			}()
			err = a.scheduler.Start(ctx, cron)
			if err != nil {
				serviceutil.Fatal("failed to schedule refresh", err)
			}
			if refreshFirst {
				go func() {
					_, err := a.scheduler.RunOnce(ctx)
					if err != nil {
						slog.Warn("initial refresh failed", "err", err)
					}
				}()
			}
		}

		port := a.cfg.Port
		if servePort != 0 {
			port = servePort
		}
		svc := service.NewService(a.gateway, a.health(), a.time, a.tel)
		server := serviceutil.NewHttpServer(port, svc.Handler())
		err = serviceutil.ServeUntilDone(ctx, server, 10*time.Second)
		if err != nil {
			slog.Error("http server stopped", "err", err)
		}
	},
}
