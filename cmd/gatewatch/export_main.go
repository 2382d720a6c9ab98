package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/export"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/persistence/sqlite"
	"github.com/sawpanic/gatewatch/internal/phase"
)

// openOffline builds the store and clock the offline subcommands share.
// The caller must Close the store.
func openOffline(cfg *config.Config) (*sqlite.Store, *phase.Clock, error) {
	clock, err := phase.NewClock(cfg.Phases)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build phase clock: %w", err)
	}
	store, err := sqlite.Open(cfg.Storage.DBPath, clock.Location(), 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Init(context.Background()); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to init store: %w", err)
	}
	return store, clock, nil
}

// runExportDaily writes one per-day workbook from the database.
func runExportDaily(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, clock, err := openOffline(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	date, _ := cmd.Flags().GetString("date")
	if date == "" {
		date = persistence.DateOf(time.Now().In(clock.Location()))
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := export.NewDailyExporter(store, clock, cfg.Exports.DailyDir).Export(ctx, date)
	if err != nil {
		return fmt.Errorf("daily export failed: %w", err)
	}
	if res.Skipped {
		fmt.Printf("⚠️ workbook for %s left as %s (%s)\n", date, res.Path, res.Reason)
		return nil
	}
	fmt.Printf("✅ wrote %s\n", res.Path)
	return nil
}

// runExportRolling rebuilds the rolling summary from the daily workbooks.
func runExportRolling(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		days = cfg.Exports.RollingDays
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := export.NewRollingExporter(cfg.Exports.DailyDir, cfg.Exports.SummaryDir, days).Export(ctx)
	if err != nil {
		return fmt.Errorf("rolling export failed: %w", err)
	}
	if res.Skipped {
		fmt.Printf("⚠️ rolling summary skipped: %s\n", res.Reason)
		return nil
	}
	fmt.Printf("✅ wrote %s\n", res.Path)
	return nil
}
