package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// RollingExporter folds the most recent per-day workbooks into one summary
// workbook. It reads only from the files on disk, never from the store:
// the per-day workbooks are what operators were shown, so the summary is
// guaranteed to agree with them.
type RollingExporter struct {
	dailyDir   string
	summaryDir string
	days       int
}

// NewRollingExporter summarizes the last `days` workbooks from dailyDir
// into summaryDir.
func NewRollingExporter(dailyDir, summaryDir string, days int) *RollingExporter {
	return &RollingExporter{dailyDir: dailyDir, summaryDir: summaryDir, days: days}
}

// Export rebuilds the rolling workbook from the newest per-day files.
func (e *RollingExporter) Export(ctx context.Context) (Result, error) {
	files, err := listDailyWorkbooks(e.dailyDir)
	if err != nil {
		return Result{}, err
	}
	if len(files) > e.days {
		files = files[len(files)-e.days:]
	}
	if len(files) == 0 {
		log.Warn().Str("dir", e.dailyDir).Msg("no per-day workbooks to summarize")
		return Result{Skipped: true, Reason: "no_daily_workbooks"}, nil
	}

	days := make([]*daySummary, 0, len(files))
	for _, df := range files {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		day, err := readDailyWorkbook(filepath.Join(e.dailyDir, df.name), df.date)
		if err != nil {
			log.Error().Err(err).Str("file", df.name).Msg("skipping unreadable per-day workbook")
			continue
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		return Result{Skipped: true, Reason: "no_readable_workbooks"}, nil
	}

	if err := os.MkdirAll(e.summaryDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create summary dir: %w", err)
	}
	dest := filepath.Join(e.summaryDir, RollingFileName(e.days))
	tmp := filepath.Join(e.summaryDir, tmpName(RollingFileName(e.days)))
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("tmp", tmp).Msg("could not remove stale temp workbook")
	}

	if err := writeRollingWorkbook(tmp, days); err != nil {
		_ = os.Remove(tmp)
		return Result{}, err
	}

	if err := replaceAtomic(tmp, dest); err != nil {
		if errors.Is(err, ErrLocked) {
			log.Warn().
				Str("file", filepath.Base(dest)).
				Str("tmp", filepath.Base(tmp)).
				Msg("rolling export skipped, destination locked")
			return Result{Path: tmp, Skipped: true, Reason: "locked"}, nil
		}
		_ = os.Remove(tmp)
		return Result{}, err
	}

	log.Info().
		Str("file", filepath.Base(dest)).
		Int("days", len(days)).
		Msg("rolling export complete")
	return Result{Path: dest}, nil
}

type dailyFile struct {
	date string
	name string
}

func listDailyWorkbooks(dir string) ([]dailyFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list daily dir: %w", err)
	}
	var files []dailyFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := ParseDailyDate(entry.Name())
		if !ok {
			continue
		}
		files = append(files, dailyFile{date: date, name: entry.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].date < files[j].date })
	return files, nil
}

type daySummary struct {
	date           string
	totalMorning   int
	finalRealtime  int
	maxRealtime    int
	minRealtime    int
	missingMinutes int
	alerts         [][]string
	periods        [][]string
}

func readDailyWorkbook(path, date string) (*daySummary, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	summaryRows, err := f.GetRows("SUMMARY")
	if err != nil {
		return nil, fmt.Errorf("failed to read SUMMARY sheet: %w", err)
	}
	if len(summaryRows) < 2 {
		return nil, fmt.Errorf("SUMMARY sheet in %s has no data row", filepath.Base(path))
	}
	day := &daySummary{
		date:          date,
		totalMorning:  cellInt(summaryRows[1], 1),
		finalRealtime: cellInt(summaryRows[1], 2),
	}

	alertRows, err := f.GetRows("ALERTS")
	if err == nil && len(alertRows) > 1 {
		day.alerts = alertRows[1:]
	}
	periodRows, err := f.GetRows("MISSING_PERIODS")
	if err == nil && len(periodRows) > 1 {
		day.periods = periodRows[1:]
		for _, row := range day.periods {
			day.missingMinutes += cellInt(row, 2)
		}
	}

	// occupancy extremes come from replaying the day's events
	day.maxRealtime = day.finalRealtime
	day.minRealtime = day.finalRealtime
	eventRows, err := f.GetRows("EVENTS")
	if err == nil && len(eventRows) > 1 {
		current, max, min := 0, 0, 0
		for _, row := range eventRows[1:] {
			switch strings.ToUpper(cellString(row, 1)) {
			case "IN":
				current++
			case "OUT":
				current--
			}
			if current > max {
				max = current
			}
			if current < min {
				min = current
			}
		}
		day.maxRealtime = max
		day.minRealtime = min
	}
	return day, nil
}

func writeRollingWorkbook(path string, days []*daySummary) error {
	f := excelize.NewFile()
	defer f.Close()

	style, err := newHeaderStyle(f)
	if err != nil {
		return fmt.Errorf("failed to build header style: %w", err)
	}

	summary, err := newSheet(f, "DAILY_SUMMARY")
	if err != nil {
		return err
	}
	if err := summary.append("Date", "Total Morning", "Max Realtime", "Min Realtime",
		"Final Realtime", "Total Alerts", "Total Missing Periods", "Total Missing Minutes"); err != nil {
		return err
	}
	for _, d := range days {
		if err := summary.append(d.date, d.totalMorning, d.maxRealtime, d.minRealtime,
			d.finalRealtime, len(d.alerts), len(d.periods), d.missingMinutes); err != nil {
			return err
		}
	}

	alerts, err := newSheet(f, "DAILY_ALERTS")
	if err != nil {
		return err
	}
	if err := alerts.append("Date", "alert_time", "total_morning", "realtime", "missing"); err != nil {
		return err
	}
	for _, d := range days {
		for _, row := range d.alerts {
			if err := alerts.append(d.date, cellString(row, 0), cellInt(row, 1), cellInt(row, 2), cellInt(row, 3)); err != nil {
				return err
			}
		}
	}

	periods, err := newSheet(f, "DAILY_MISSING_PERIODS")
	if err != nil {
		return err
	}
	if err := periods.append("Date", "start_time", "end_time", "duration_minutes"); err != nil {
		return err
	}
	for _, d := range days {
		for _, row := range d.periods {
			if err := periods.append(d.date, cellString(row, 0), cellString(row, 1), cellInt(row, 2)); err != nil {
				return err
			}
		}
	}

	for _, w := range []*sheetWriter{summary, alerts, periods} {
		if err := w.finish(style); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	idx, err := f.GetSheetIndex("DAILY_SUMMARY")
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func cellString(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

func cellInt(row []string, idx int) int {
	n, err := strconv.Atoi(strings.TrimSpace(cellString(row, idx)))
	if err != nil {
		return 0
	}
	return n
}
