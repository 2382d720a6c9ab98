// Package selftest proves the monitor's core machinery offline: it runs
// the config, gate, clock, store, and export paths against synthetic data
// and writes a report, without touching the live database.
package selftest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sawpanic/gatewatch/internal/config"
	gwio "github.com/sawpanic/gatewatch/internal/io"
)

// TestResult is the outcome of a single validator.
type TestResult struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"` // PASS, FAIL, SKIP
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message,omitempty"`
	Details   []string      `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (r TestResult) fail(start time.Time, format string, args ...any) TestResult {
	r.Status = "FAIL"
	r.Message = fmt.Sprintf(format, args...)
	r.Duration = time.Since(start)
	return r
}

func (r TestResult) pass(start time.Time, message string) TestResult {
	r.Status = "PASS"
	r.Message = message
	r.Duration = time.Since(start)
	return r
}

// TestResults aggregates one full run.
type TestResults struct {
	OverallStatus string        `json:"overall_status"` // PASS, FAIL
	TotalCount    int           `json:"total_count"`
	PassedCount   int           `json:"passed_count"`
	FailedCount   int           `json:"failed_count"`
	SkippedCount  int           `json:"skipped_count"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Duration      time.Duration `json:"duration"`
	Tests         []TestResult  `json:"tests"`
}

// Validator is one self-contained check.
type Validator interface {
	Name() string
	Validate() TestResult
}

// Runner executes every validator in order.
type Runner struct {
	validators []Validator
}

// NewRunner builds the standard validator set against the given
// configuration.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{
		validators: []Validator{
			NewConfigValidator(cfg),
			NewGateValidator(),
			NewClockValidator(cfg.Phases),
			NewStoreValidator(cfg.Phases),
			NewExportValidator(cfg.Phases),
		},
	}
}

// RunAllTests executes the validators and aggregates their results.
func (r *Runner) RunAllTests() *TestResults {
	results := &TestResults{
		StartTime: time.Now(),
		Tests:     make([]TestResult, 0, len(r.validators)),
	}

	for _, validator := range r.validators {
		result := validator.Validate()
		results.Tests = append(results.Tests, result)

		switch result.Status {
		case "PASS":
			results.PassedCount++
		case "FAIL":
			results.FailedCount++
		case "SKIP":
			results.SkippedCount++
		}
	}

	results.EndTime = time.Now()
	results.Duration = results.EndTime.Sub(results.StartTime)
	results.TotalCount = len(results.Tests)

	if results.FailedCount == 0 {
		results.OverallStatus = "PASS"
	} else {
		results.OverallStatus = "FAIL"
	}
	return results
}

// WriteJSON stores the machine-readable report.
func (r *Runner) WriteJSON(results *TestResults, outputPath string) error {
	return gwio.WriteJSONAtomic(outputPath, results)
}

// GenerateReport writes the markdown report.
func (r *Runner) GenerateReport(results *TestResults, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Gatewatch Self-Test Report\n\n")
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n", results.EndTime.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString(fmt.Sprintf("**Duration:** %s\n", results.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("**Overall Status:** %s\n\n", results.OverallStatus))

	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Total Tests:** %d\n", results.TotalCount))
	sb.WriteString(fmt.Sprintf("- **Passed:** %d\n", results.PassedCount))
	sb.WriteString(fmt.Sprintf("- **Failed:** %d\n", results.FailedCount))
	sb.WriteString(fmt.Sprintf("- **Skipped:** %d\n\n", results.SkippedCount))

	sb.WriteString("## Test Results\n\n")
	for _, test := range results.Tests {
		icon := "✅"
		switch test.Status {
		case "FAIL":
			icon = "❌"
		case "SKIP":
			icon = "⚠️"
		}

		sb.WriteString(fmt.Sprintf("### %s %s\n\n", icon, test.Name))
		sb.WriteString(fmt.Sprintf("- **Status:** %s\n", test.Status))
		sb.WriteString(fmt.Sprintf("- **Duration:** %s\n", test.Duration.Round(time.Millisecond)))
		if test.Message != "" {
			sb.WriteString(fmt.Sprintf("- **Message:** %s\n", test.Message))
		}
		if len(test.Details) > 0 {
			sb.WriteString("- **Details:**\n")
			for _, detail := range test.Details {
				sb.WriteString(fmt.Sprintf("  - %s\n", detail))
			}
		}
		sb.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
