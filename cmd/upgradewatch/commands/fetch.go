package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"upgradewatch/internal/components/serviceutil"
	"upgradewatch/internal/tracker"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	fetchPassenger string
	fetchForce     bool
)

func init() {
	fetchCmd.Flags().StringVarP(&fetchPassenger, "passenger", "p", "", "Passenger to locate on the waitlist, like ABC/J.")
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "Ignore stored snapshots, the rate limit still applies.")
	rootCmd.AddCommand(fetchCmd)
}

func optional(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func renderResult(result tracker.Result) {
	source := "fetched"
	if result.FromCache {
		source = "cached"
	}
	fmt.Printf("%s at %s\n", source, result.CapturedAt.Format("2006-01-02 15:04:05 MST"))

	t := newTable()
	t.AppendHeader(table.Row{"#", "Route", "Departs", "Capacity", "Available", "Checked in", "Waitlist", "Position", "Likely"})
	for _, seg := range result.Segments {
		row := table.Row{
			seg.Segment.SegmentIndex,
			fmt.Sprintf("%s-%s", seg.Segment.Origin, seg.Segment.Destination),
			seg.Segment.DepartureTime,
		}
		if seg.Snapshot == nil {
			row = append(row, "-", "-", "-", "")
		} else {
			row = append(
				row,
				optional(seg.Snapshot.Capacity),
				optional(seg.Snapshot.Available),
				optional(seg.Snapshot.CheckedIn),
				strings.Join(seg.Snapshot.Passengers, " "),
			)
		}
		likely := ""
		if seg.LikelyUpgrade {
			likely = "yes"
		}
		row = append(row, optional(seg.Position), likely)
		t.AppendRow(row)
	}
	t.Render()
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <flight number> <date> [--passenger <ABC/J>] [--force]",
	Short: "Looks up the upgrade waitlist of one flight.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := newApp(ctx, "upgradewatch-cli")
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		defer a.Close()

		result, err := a.gateway.GetOrFetch(ctx, tracker.Request{
			FlightNumber: args[0],
			Date:         args[1],
			Passenger:    fetchPassenger,
			ForceRefresh: fetchForce,
		})
		if err != nil {
			var gatewayErr *tracker.Error
			if errors.As(err, &gatewayErr) && gatewayErr.Kind == tracker.KindRateLimited {
				fmt.Fprintf(os.Stderr, "rate limited, try again in %s\n", gatewayErr.RetryAfter.Round(time.Second))
			} else {
				fmt.Fprintln(os.Stderr, err.Error())
			}
			a.Close()
			os.Exit(1)
		}
		renderResult(result)
	},
}
