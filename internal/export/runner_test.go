package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sawpanic/gatewatch/internal/telemetry"
)

func newTestRunner(t *testing.T, h *exportHarness, summaryDir string) *Runner {
	t.Helper()
	sweeper := NewSweeper(h.dailyDir, 5)
	sweeper.now = func() time.Time { return at(t, "2025-03-12 12:00:00") }
	runner := NewRunner(
		NewDailyExporter(h.store, h.clock, h.dailyDir),
		NewRollingExporter(h.dailyDir, summaryDir, 5),
		sweeper,
	)
	return runner
}

func TestRunnerBuildsBothWorkbooksOnRequest(t *testing.T) {
	h := newExportHarness(t)
	h.seedDay(t)
	summaryDir := t.TempDir()
	runner := newTestRunner(t, h, summaryDir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	runner.RequestDaily("2025-03-10")

	daily := filepath.Join(h.dailyDir, "people_counter_2025-03-10.xlsx")
	rolling := filepath.Join(summaryDir, RollingFileName(5))
	require.Eventually(t, func() bool {
		_, dailyErr := os.Stat(daily)
		_, rollingErr := os.Stat(rolling)
		return dailyErr == nil && rollingErr == nil
	}, 5*time.Second, 20*time.Millisecond, "a daily request must refresh the rolling summary too")

	cancel()
	<-done
}

func TestFinalExportSweepsBeforeSummarizing(t *testing.T) {
	h := newExportHarness(t)
	h.seedDay(t)
	summaryDir := t.TempDir()
	runner := newTestRunner(t, h, summaryDir)

	// an old workbook sitting past the 5-day retention window
	aged := NewDailyExporter(h.store, h.clock, h.dailyDir)
	_, err := aged.Export(context.Background(), "2025-03-01")
	require.NoError(t, err)

	runner.FinalExport(context.Background(), "2025-03-10")

	_, statErr := os.Stat(filepath.Join(h.dailyDir, "people_counter_2025-03-01.xlsx"))
	assert.True(t, os.IsNotExist(statErr), "aged workbook must be swept")

	f, err := excelize.OpenFile(filepath.Join(summaryDir, RollingFileName(5)))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("DAILY_SUMMARY")
	require.NoError(t, err)
	require.Len(t, rows, 2, "the summary must not include the day the sweep removed")
	assert.Equal(t, "2025-03-10", rows[1][0])
}

func TestRunnerRecordsExportOutcomes(t *testing.T) {
	h := newExportHarness(t)
	h.seedDay(t)
	runner := newTestRunner(t, h, t.TempDir())
	runner.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())

	runner.FinalExport(context.Background(), "2025-03-10")

	m := runner.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("daily", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("sweep", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("rolling", "ok")))
}

func TestLastTracksMostRecentBuild(t *testing.T) {
	h := newExportHarness(t)
	h.seedDay(t)
	runner := newTestRunner(t, h, t.TempDir())

	require.Nil(t, runner.Last(), "no build has happened yet")

	runner.FinalExport(context.Background(), "2025-03-10")

	last := runner.Last()
	require.NotNil(t, last)
	assert.Equal(t, "rolling", last.Kind, "finalize ends on the rolling build")
	assert.Equal(t, "ok", last.Result)
	assert.WithinDuration(t, time.Now(), last.At, time.Minute)
}

func TestRequestsNeverBlockWhenQueueIsFull(t *testing.T) {
	h := newExportHarness(t)
	runner := newTestRunner(t, h, t.TempDir())

	// no consumer running; the overflow must be dropped, not block
	for i := 0; i < cap(runner.requests)+8; i++ {
		runner.RequestDaily("2025-03-10")
	}
	assert.Equal(t, cap(runner.requests), len(runner.requests))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "error", outcome(Result{}, errors.New("boom")))
	assert.Equal(t, "skipped", outcome(Result{Skipped: true, Reason: "locked"}, nil))
	assert.Equal(t, "ok", outcome(Result{Path: "x.xlsx"}, nil))
}
