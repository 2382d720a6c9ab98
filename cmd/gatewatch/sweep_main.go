package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/gatewatch/internal/export"
)

// runSweep deletes (or lists, with --dry-run) workbooks past retention.
func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	sweeper := export.NewSweeper(cfg.Exports.DailyDir, cfg.Exports.RetentionDays)

	if dryRun {
		aged, err := sweeper.Aged()
		if err != nil {
			return fmt.Errorf("sweep scan failed: %w", err)
		}
		if len(aged) == 0 {
			fmt.Printf("nothing past the %d-day retention window\n", cfg.Exports.RetentionDays)
			return nil
		}
		fmt.Printf("would delete %d workbook(s):\n", len(aged))
		for _, name := range aged {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	deleted, err := sweeper.Sweep()
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	if len(deleted) == 0 {
		fmt.Printf("nothing past the %d-day retention window\n", cfg.Exports.RetentionDays)
		return nil
	}
	fmt.Printf("✅ deleted %d workbook(s):\n", len(deleted))
	for _, name := range deleted {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
