package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/phase"
)

const timeCellLayout = "2006-01-02 15:04:05"

// Result reports where a workbook landed, or why it did not.
type Result struct {
	Path    string
	Skipped bool
	Reason  string
}

// DailyExporter rebuilds a per-day workbook entirely from the store. The
// workbook never carries process memory: running it twice for the same date
// with no new rows yields the same cells.
type DailyExporter struct {
	store persistence.Store
	clock *phase.Clock
	dir   string
}

// NewDailyExporter writes workbooks for single dates into dir.
func NewDailyExporter(store persistence.Store, clock *phase.Clock, dir string) *DailyExporter {
	return &DailyExporter{store: store, clock: clock, dir: dir}
}

// Export builds the workbook for one date and moves it into place
// atomically. A destination held open by an operator is left alone: the
// fresh payload survives as the temp file and the result says locked.
func (e *DailyExporter) Export(ctx context.Context, date string) (Result, error) {
	snap, err := BuildDaySnapshot(ctx, e.store, e.clock, date)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create export dir: %w", err)
	}
	dest := filepath.Join(e.dir, DailyFileName(date))
	tmp := filepath.Join(e.dir, tmpName(DailyFileName(date)))
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("tmp", tmp).Msg("could not remove stale temp workbook")
	}

	if err := writeDailyWorkbook(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return Result{}, err
	}

	if err := replaceAtomic(tmp, dest); err != nil {
		if errors.Is(err, ErrLocked) {
			log.Warn().
				Str("file", filepath.Base(dest)).
				Str("tmp", filepath.Base(tmp)).
				Msg("daily export skipped, destination locked")
			return Result{Path: tmp, Skipped: true, Reason: "locked"}, nil
		}
		_ = os.Remove(tmp)
		return Result{}, err
	}

	log.Info().
		Str("file", filepath.Base(dest)).
		Int("total_morning", snap.Baseline).
		Int("realtime", snap.Present).
		Int("events", len(snap.Events)).
		Int("alerts", len(snap.SentAlerts)).
		Msg("daily export complete")
	return Result{Path: dest}, nil
}

func writeDailyWorkbook(path string, snap *DaySnapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	style, err := newHeaderStyle(f)
	if err != nil {
		return fmt.Errorf("failed to build header style: %w", err)
	}

	summary, err := newSheet(f, "SUMMARY")
	if err != nil {
		return err
	}
	if err := summary.append("Date", "Total Morning", "Current Realtime", "Current Missing", "Last Updated"); err != nil {
		return err
	}
	if err := summary.append(snap.Date, snap.Baseline, snap.Present, snap.Missing, snap.UpdatedAt.Format(timeCellLayout)); err != nil {
		return err
	}

	periods, err := newSheet(f, "MISSING_PERIODS")
	if err != nil {
		return err
	}
	if err := periods.append("start_time", "end_time", "duration_minutes"); err != nil {
		return err
	}
	for _, p := range snap.Periods {
		end := ""
		if p.EndTime != nil {
			end = p.EndTime.Format(timeCellLayout)
		}
		if err := periods.append(p.StartTime.Format(timeCellLayout), end, p.DurationMinutes); err != nil {
			return err
		}
	}

	alerts, err := newSheet(f, "ALERTS")
	if err != nil {
		return err
	}
	if err := alerts.append("alert_time", "total_morning", "realtime", "missing"); err != nil {
		return err
	}
	for _, a := range snap.SentAlerts {
		if err := alerts.append(a.AlertTime.Format(timeCellLayout), a.ExpectedTotal, a.CurrentTotal, a.Missing); err != nil {
			return err
		}
	}

	events, err := newSheet(f, "EVENTS")
	if err != nil {
		return err
	}
	if err := events.append("event_time", "direction", "camera_id"); err != nil {
		return err
	}
	for _, ev := range snap.Events {
		if err := events.append(ev.EventTime.Format(timeCellLayout), string(ev.Direction), ev.CameraID); err != nil {
			return err
		}
	}

	for _, w := range []*sheetWriter{summary, periods, alerts, events} {
		if err := w.finish(style); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	idx, err := f.GetSheetIndex("SUMMARY")
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
