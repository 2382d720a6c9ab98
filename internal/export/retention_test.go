package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepDeletesOnlyAgedDailyFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"people_counter_2025-03-01.xlsx",     // aged out
		"people_counter_2025-03-04.xlsx",     // exactly at cutoff, kept
		"people_counter_2025-03-08.xlsx",     // recent
		"people_counter_2025-03-01.tmp.xlsx", // temp, never swept
		"people_counter_LAST_5_DAYS.xlsx",    // rolling summary, never swept
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	s := NewSweeper(dir, 5)
	s.now = func() time.Time { return time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC) }

	deleted, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, []string{"people_counter_2025-03-01.xlsx"}, deleted)

	remaining, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(remaining))
	for _, e := range remaining {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"people_counter_2025-03-04.xlsx",
		"people_counter_2025-03-08.xlsx",
		"people_counter_2025-03-01.tmp.xlsx",
		"people_counter_LAST_5_DAYS.xlsx",
		"notes.txt",
	}, names)
}

func TestAgedListsWithoutDeleting(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"people_counter_2025-03-01.xlsx",
		"people_counter_2025-03-08.xlsx",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	s := NewSweeper(dir, 5)
	s.now = func() time.Time { return time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC) }

	aged, err := s.Aged()
	require.NoError(t, err)
	assert.Equal(t, []string{"people_counter_2025-03-01.xlsx"}, aged)

	remaining, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestSweepMissingDirIsNoOp(t *testing.T) {
	s := NewSweeper(filepath.Join(t.TempDir(), "absent"), 5)
	deleted, err := s.Sweep()
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
