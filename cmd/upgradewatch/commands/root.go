package commands

import (
	"context"
	"fmt"
	"os"

	"upgradewatch/internal/components/telemetry"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	verbose     bool
	profileMode string
	profiler    interface{ Stop() }
)

var rootCmd = &cobra.Command{
	Use:   "upgradewatch",
	Short: "upgradewatch tracks positions on airline upgrade waitlists.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		switch profileMode {
		case "":
		case "cpu":
			profiler = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
		case "mem":
			profiler = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
		default:
			return fmt.Errorf("unknown profile %q, expected cpu or mem", profileMode)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			profiler.Stop()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "Path to the configuration file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.PersistentFlags().StringVar(&profileMode, "profile", "", "Write a cpu or mem profile to the working directory.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
