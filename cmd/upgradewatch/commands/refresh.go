package commands

import (
	"upgradewatch/internal/components/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refreshes every tracked flight departing soon, once.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := newApp(ctx, "upgradewatch-cli")
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		defer a.Close()

		report, err := a.scheduler.RunOnce(ctx)
		if err != nil {
			a.Close()
			serviceutil.Fatal("failed to refresh", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Flight", "Date", "Result"})
		for _, key := range report.Touched {
			t.AppendRow(table.Row{key.FlightNumber, key.Date, "ok"})
		}
		for _, failure := range report.Failed {
			t.AppendRow(table.Row{failure.Flight.FlightNumber, failure.Flight.Date, failure.Kind})
		}
		t.Render()
	},
}
