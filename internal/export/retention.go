package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/persistence"
)

// Sweeper deletes per-day workbooks that have aged out. Temp files and the
// rolling summary never match the dated-name pattern, so they are never
// touched; stale temp files stay around for investigation.
type Sweeper struct {
	dailyDir      string
	retentionDays int
	now           func() time.Time
}

// NewSweeper removes dated workbooks older than retentionDays from dir.
func NewSweeper(dir string, retentionDays int) *Sweeper {
	return &Sweeper{dailyDir: dir, retentionDays: retentionDays, now: time.Now}
}

// Aged lists the dated workbooks the next Sweep would delete.
func (s *Sweeper) Aged() ([]string, error) {
	cutoff := persistence.DateOf(s.now().AddDate(0, 0, -s.retentionDays))

	entries, err := os.ReadDir(s.dailyDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list daily dir: %w", err)
	}

	var aged []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if date, ok := ParseDailyDate(entry.Name()); ok && date < cutoff {
			aged = append(aged, entry.Name())
		}
	}
	return aged, nil
}

// Sweep deletes everything dated before today minus the retention window
// and returns the removed file names.
func (s *Sweeper) Sweep() ([]string, error) {
	cutoff := persistence.DateOf(s.now().AddDate(0, 0, -s.retentionDays))
	aged, err := s.Aged()
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, name := range aged {
		if err := os.Remove(filepath.Join(s.dailyDir, name)); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("could not delete aged workbook")
			continue
		}
		deleted = append(deleted, name)
		log.Info().Str("file", name).Str("cutoff", cutoff).Msg("aged workbook deleted")
	}
	return deleted, nil
}
