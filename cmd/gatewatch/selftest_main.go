package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/gatewatch/internal/application/selftest"
)

// runSelfTest executes the offline suite and writes the reports.
func runSelfTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out")

	fmt.Println("🔍 Running gatewatch self-test (offline)")

	runner := selftest.NewRunner(cfg)
	results := runner.RunAllTests()

	for _, test := range results.Tests {
		icon := "✅"
		switch test.Status {
		case "FAIL":
			icon = "❌"
		case "SKIP":
			icon = "⚠️"
		}
		fmt.Printf("%s %s (%s)", icon, test.Name, test.Duration.Round(time.Millisecond))
		if test.Message != "" && test.Status != "PASS" {
			fmt.Printf(": %s", test.Message)
		}
		fmt.Println()
	}

	mdPath := filepath.Join(outDir, "selftest_report.md")
	if err := runner.GenerateReport(results, mdPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	jsonPath := filepath.Join(outDir, "selftest_report.json")
	if err := runner.WriteJSON(results, jsonPath); err != nil {
		return fmt.Errorf("failed to write json report: %w", err)
	}

	fmt.Printf("\n%d/%d passed in %s, reports in %s\n",
		results.PassedCount, results.TotalCount, results.Duration.Round(time.Millisecond), outDir)

	if results.OverallStatus != "PASS" {
		return fmt.Errorf("self-test failed: %d of %d checks did not pass", results.FailedCount, results.TotalCount)
	}
	return nil
}
