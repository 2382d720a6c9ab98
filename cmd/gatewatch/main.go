package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	gwlog "github.com/sawpanic/gatewatch/internal/log"
)

const (
	appName = "gatewatch"
	version = "v1.2.0"
)

func main() {
	// config is not loaded yet; the handlers re-apply the configured
	// level and format
	gwlog.Setup("", "")

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Single-camera gate occupancy monitor",
		Version: version,
		Long: `Gatewatch counts gate crossings from a tracker feed, maintains the
morning baseline and live occupancy for the day, alerts on sustained
shortfalls, and exports Excel workbooks.

Run 'gatewatch run' to start the monitor; the other subcommands operate
on the same database and export directories offline.`,
	}

	// flags arriving with underscores still resolve, so config keys can be
	// pasted as flag names
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().String("config", "", "Path to config YAML (defaults apply when omitted)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the monitor",
		Long:  "Starts the feed listener, phase engine, alert scheduler, exporters, and the ops HTTP server, until SIGINT/SIGTERM",
		RunE:  runMonitor,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write Excel workbooks from the database",
	}

	exportDailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Write one per-day workbook",
		Long:  "Builds the four-sheet workbook for a date from the events, missing periods, and alert log",
		RunE:  runExportDaily,
	}
	exportDailyCmd.Flags().String("date", "", "Target date (YYYY-MM-DD), defaults to today")

	exportRollingCmd := &cobra.Command{
		Use:   "rolling",
		Short: "Rebuild the rolling multi-day summary",
		Long:  "Aggregates the existing per-day workbooks into the LAST_N_DAYS summary",
		RunE:  runExportRolling,
	}
	exportRollingCmd.Flags().Int("days", 0, "Window size in days (defaults to the configured rolling_days)")

	exportCmd.AddCommand(exportDailyCmd)
	exportCmd.AddCommand(exportRollingCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete per-day workbooks past retention",
		RunE:  runSweep,
	}
	sweepCmd.Flags().Bool("dry-run", false, "List what would be deleted without deleting")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running monitor",
		Long:  "Fetches /api/status from a running instance and prints the occupancy snapshot",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("addr", "", "Monitor address (defaults to the configured listen_addr)")

	selftestCmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run the offline self-test suite",
		Long:  "Validates config, gate geometry, phase boundaries, store round trips, and Excel export against throwaway data (no network)",
		RunE:  runSelfTest,
	}
	selftestCmd.Flags().String("out", "out/selftest", "Report output directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(selftestCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
