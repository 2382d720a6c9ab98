package export

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ErrLocked reports a destination workbook that could not be replaced
// because something, usually Excel on the operator's desk, holds it open.
var ErrLocked = errors.New("destination workbook is locked")

const (
	filePrefix = "people_counter_"
	fileSuffix = ".xlsx"
	tmpSuffix  = ".tmp.xlsx"

	headerFillColor = "366092"
	maxColWidth     = 50
)

// DailyFileName returns the per-day workbook name for a date.
func DailyFileName(date string) string {
	return filePrefix + date + fileSuffix
}

// RollingFileName returns the rolling summary workbook name for a window of
// n days.
func RollingFileName(n int) string {
	return fmt.Sprintf("%sLAST_%d_DAYS%s", filePrefix, n, fileSuffix)
}

func tmpName(name string) string {
	return strings.TrimSuffix(name, fileSuffix) + tmpSuffix
}

// ParseDailyDate extracts the embedded date from a per-day workbook name.
// Temp files, the rolling summary, and anything else that does not carry a
// valid date are rejected.
func ParseDailyDate(name string) (string, bool) {
	if strings.HasSuffix(name, tmpSuffix) {
		return "", false
	}
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	date := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", false
	}
	return date, true
}

// sheetWriter accumulates rows for one sheet and tracks the width each
// column needs.
type sheetWriter struct {
	f      *excelize.File
	sheet  string
	row    int
	cols   int
	widths []float64
}

func newSheet(f *excelize.File, name string) (*sheetWriter, error) {
	if _, err := f.NewSheet(name); err != nil {
		return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	return &sheetWriter{f: f, sheet: name, row: 1}, nil
}

func (w *sheetWriter) append(values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(w.sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", w.row, w.sheet, err)
	}
	if len(values) > w.cols {
		w.cols = len(values)
	}
	for i, v := range values {
		for len(w.widths) <= i {
			w.widths = append(w.widths, 0)
		}
		if l := float64(len(fmt.Sprint(v))); l > w.widths[i] {
			w.widths[i] = l
		}
	}
	w.row++
	return nil
}

// finish styles the header, freezes it, enables the filter, and fits the
// column widths.
func (w *sheetWriter) finish(headerStyle int) error {
	if w.cols == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(w.cols, 1)
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(w.sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header of %s: %w", w.sheet, err)
	}
	if err := w.f.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header of %s: %w", w.sheet, err)
	}
	if w.row > 2 {
		ref, err := excelize.CoordinatesToCellName(w.cols, w.row-1)
		if err != nil {
			return err
		}
		if err := w.f.AutoFilter(w.sheet, "A1:"+ref, nil); err != nil {
			return fmt.Errorf("failed to enable filter on %s: %w", w.sheet, err)
		}
	}
	for i, width := range w.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		fitted := width + 2
		if fitted > maxColWidth {
			fitted = maxColWidth
		}
		if err := w.f.SetColWidth(w.sheet, col, col, fitted); err != nil {
			return fmt.Errorf("failed to set column width on %s: %w", w.sheet, err)
		}
	}
	return nil
}

func newHeaderStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{headerFillColor}, Pattern: 1},
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
}

// replaceAtomic moves tmp over dest via rename. A destination that exists
// but cannot be removed fails with ErrLocked; the tmp file is preserved so
// the payload survives for the next attempt.
func replaceAtomic(tmp, dest string) error {
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrLocked, dest)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to move workbook into place: %w", err)
	}
	return nil
}
