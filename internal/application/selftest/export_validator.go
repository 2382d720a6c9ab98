package selftest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/export"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/persistence/sqlite"
	"github.com/sawpanic/gatewatch/internal/phase"
)

// ExportValidator writes a daily workbook and the rolling summary from a
// throwaway store and reads both back.
type ExportValidator struct {
	phases config.PhasesConfig
}

// NewExportValidator wraps the phases section under test.
func NewExportValidator(phases config.PhasesConfig) *ExportValidator {
	return &ExportValidator{phases: phases}
}

// Name returns the validator name.
func (v *ExportValidator) Name() string { return "Excel Export" }

// Validate writes and reads back the workbooks.
func (v *ExportValidator) Validate() TestResult {
	start := time.Now()
	result := TestResult{Name: v.Name(), Timestamp: start, Details: []string{}}

	clock, err := phase.NewClock(v.phases)
	if err != nil {
		return result.fail(start, "clock construction failed: %v", err)
	}
	dir, err := os.MkdirTemp("", "gatewatch-selftest-")
	if err != nil {
		return result.fail(start, "temp dir failed: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := sqlite.Open(filepath.Join(dir, "selftest.db"), clock.Location(), 2*time.Second)
	if err != nil {
		return result.fail(start, "store open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		return result.fail(start, "schema init failed: %v", err)
	}
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, clock.Location())
	date := persistence.DateOf(at)
	if _, err := store.AppendEvent(ctx, at, "IN", "selftest", 1); err != nil {
		return result.fail(start, "event append failed: %v", err)
	}
	baseline, frozen := 1, true
	if err := store.UpsertDailyState(ctx, date, persistence.DailyStatePatch{TotalMorning: &baseline, IsFrozen: &frozen}); err != nil {
		return result.fail(start, "daily state upsert failed: %v", err)
	}

	dailyDir := filepath.Join(dir, "daily")
	res, err := export.NewDailyExporter(store, clock, dailyDir).Export(ctx, date)
	if err != nil {
		return result.fail(start, "daily export failed: %v", err)
	}
	if res.Skipped {
		return result.fail(start, "daily export skipped: %s", res.Reason)
	}
	if parsed, ok := export.ParseDailyDate(filepath.Base(res.Path)); !ok || parsed != date {
		return result.fail(start, "workbook name %s does not carry the date", filepath.Base(res.Path))
	}
	result.Details = append(result.Details, "daily workbook written as "+filepath.Base(res.Path))

	f, err := excelize.OpenFile(res.Path)
	if err != nil {
		return result.fail(start, "workbook unreadable: %v", err)
	}
	sheets := f.GetSheetList()
	_ = f.Close()
	want := map[string]bool{"SUMMARY": false, "EVENTS": false, "MISSING_PERIODS": false, "ALERTS": false}
	for _, s := range sheets {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for name, seen := range want {
		if !seen {
			return result.fail(start, "workbook is missing the %s sheet", name)
		}
	}
	result.Details = append(result.Details, fmt.Sprintf("all %d sheets present", len(want)))

	summaryDir := filepath.Join(dir, "summary")
	rres, err := export.NewRollingExporter(dailyDir, summaryDir, 30).Export(ctx)
	if err != nil {
		return result.fail(start, "rolling export failed: %v", err)
	}
	if rres.Skipped {
		return result.fail(start, "rolling export skipped: %s", rres.Reason)
	}
	if _, err := os.Stat(rres.Path); err != nil {
		return result.fail(start, "rolling workbook missing: %v", err)
	}
	result.Details = append(result.Details, "rolling summary written as "+filepath.Base(rres.Path))

	return result.pass(start, "workbooks written and read back")
}
