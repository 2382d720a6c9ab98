package alerts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/persistence/sqlite"
	"github.com/sawpanic/gatewatch/internal/phase"
)

type fakeSender struct {
	subjects []string
	bodies   []string
	err      error
}

func (f *fakeSender) Send(_ context.Context, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

type alertHarness struct {
	store   persistence.Store
	sender  *fakeSender
	manager *Manager
}

func newHarness(t *testing.T, enabled bool) *alertHarness {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "gatewatch.db"), time.UTC, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	phasesCfg := config.Default().Phases
	phasesCfg.Timezone = "UTC"
	clock, err := phase.NewClock(phasesCfg)
	require.NoError(t, err)

	h := &alertHarness{store: st, sender: &fakeSender{}}
	h.manager = NewManager(st, clock, h.sender, Config{
		Enabled:    enabled,
		Interval:   30 * time.Minute,
		FirstDelay: 30*time.Minute + 30*time.Second,
		CameraID:   "camera_01",
	})
	return h
}

func (h *alertHarness) tickAt(t *testing.T, ts time.Time) {
	t.Helper()
	h.manager.now = func() time.Time { return ts }
	require.NoError(t, h.manager.Tick(context.Background()))
}

func (h *alertHarness) lastLog(t *testing.T, date string) persistence.AlertLog {
	t.Helper()
	rows, err := h.store.AlertsForDate(context.Background(), date)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return rows[len(rows)-1]
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
	require.NoError(t, err)
	return ts
}

// seedShortfall installs a frozen baseline of 4, three people present, and
// an open missing period started at 09:00.
func seedShortfall(t *testing.T, h *alertHarness) {
	t.Helper()
	ctx := context.Background()
	frozen := true
	baseline := 4
	require.NoError(t, h.store.UpsertDailyState(ctx, "2025-03-10",
		persistence.DailyStatePatch{TotalMorning: &baseline, IsFrozen: &frozen}))
	for i := 0; i < 4; i++ {
		_, err := h.store.AppendEvent(ctx, at(t, "2025-03-10 07:00:00"), "IN", "camera_01", int64(i+1))
		require.NoError(t, err)
	}
	_, err := h.store.AppendEvent(ctx, at(t, "2025-03-10 09:00:00"), "OUT", "camera_01", 10)
	require.NoError(t, err)
	id, err := h.store.OpenMissingPeriod(ctx, "2025-03-10", domain.SessionMorning, at(t, "2025-03-10 09:00:00"))
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateMissingPeriod(ctx, id, 1))
}

func TestDisabledRecordsSkip(t *testing.T) {
	h := newHarness(t, false)
	h.tickAt(t, at(t, "2025-03-10 10:00:00"))

	row := h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertSkipped, row.Status)
	assert.Equal(t, domain.ReasonDisabled, row.Reason)
	assert.Empty(t, h.sender.subjects)
}

func TestPhaseSkipOutsideMonitoring(t *testing.T) {
	h := newHarness(t, true)
	for _, tick := range []string{
		"2025-03-10 07:00:00", // morning count
		"2025-03-10 12:30:00", // lunch
		"2025-03-10 04:00:00", // off hours
	} {
		h.tickAt(t, at(t, tick))
		row := h.lastLog(t, "2025-03-10")
		assert.Equal(t, domain.AlertSkipped, row.Status, tick)
		assert.Equal(t, domain.ReasonPhase, row.Reason, tick)
	}
	assert.Empty(t, h.sender.subjects)
}

func TestNoMissingSkip(t *testing.T) {
	h := newHarness(t, true)
	h.tickAt(t, at(t, "2025-03-10 10:00:00"))

	row := h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertSkipped, row.Status)
	assert.Equal(t, domain.ReasonNoMissing, row.Reason)
}

func TestSustainedShortfallTimeline(t *testing.T) {
	h := newHarness(t, true)
	seedShortfall(t, h)

	// 09:30: the shortfall is 30 minutes old, half a minute short of eligible
	h.tickAt(t, at(t, "2025-03-10 09:30:00"))
	row := h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertSkipped, row.Status)
	assert.Equal(t, domain.ReasonDuration, row.Reason)
	assert.Empty(t, h.sender.subjects)

	// 10:00: first send
	h.tickAt(t, at(t, "2025-03-10 10:00:00"))
	row = h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertSent, row.Status)
	assert.Equal(t, 1, row.Missing)
	assert.Equal(t, 4, row.ExpectedTotal)
	assert.Equal(t, 3, row.CurrentTotal)
	require.Len(t, h.sender.subjects, 1)

	// 10:30: one interval after the send with the count unchanged
	h.tickAt(t, at(t, "2025-03-10 10:30:00"))
	row = h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertSkipped, row.Status)
	assert.Equal(t, domain.ReasonCooldown, row.Reason)
	require.Len(t, h.sender.subjects, 1)

	// 11:00: out of cooldown, goes out again
	h.tickAt(t, at(t, "2025-03-10 11:00:00"))
	row = h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertSent, row.Status)
	require.Len(t, h.sender.subjects, 2)
}

func TestChangedShortfallCarriesAtNextTick(t *testing.T) {
	h := newHarness(t, true)
	seedShortfall(t, h)

	h.tickAt(t, at(t, "2025-03-10 10:00:00"))
	require.Len(t, h.sender.subjects, 1)

	// a second person leaves between ticks; nothing sends until the next tick
	_, err := h.store.AppendEvent(context.Background(), at(t, "2025-03-10 10:10:00"), "OUT", "camera_01", 11)
	require.NoError(t, err)
	require.Len(t, h.sender.subjects, 1)

	// 10:30 is inside the cooldown window, but the count changed
	h.tickAt(t, at(t, "2025-03-10 10:30:00"))
	row := h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertSent, row.Status)
	assert.Equal(t, 2, row.Missing)
	require.Len(t, h.sender.subjects, 2)
}

func TestDispatchFailureRecordsError(t *testing.T) {
	h := newHarness(t, true)
	seedShortfall(t, h)
	h.sender.err = errors.New("smtp: connection refused")

	h.tickAt(t, at(t, "2025-03-10 10:00:00"))
	row := h.lastLog(t, "2025-03-10")
	assert.Equal(t, domain.AlertFailed, row.Status)
	assert.Contains(t, row.Reason, "connection refused")
	assert.Equal(t, 1, row.Missing)
}

func TestComposeCarriesAllFields(t *testing.T) {
	start := at(t, "2025-03-10 09:00:00")
	period := &persistence.MissingPeriod{
		Date:      "2025-03-10",
		Session:   domain.SessionMorning,
		StartTime: start,
	}
	subject, body := Compose("2025-03-10", at(t, "2025-03-10 10:15:00"), period, 4, 3, 1, "camera_01")

	assert.Contains(t, subject, "2025-03-10")
	assert.Contains(t, subject, "1 missing")
	assert.Contains(t, body, "Morning Session")
	assert.Contains(t, body, "Missing Start Time: 2025-03-10 09:00:00")
	assert.Contains(t, body, "Duration: 75 minutes")
	assert.Contains(t, body, "Current Missing Count: 1 people")
	assert.Contains(t, body, "Total Morning: 4")
	assert.Contains(t, body, "Current Realtime: 3")
	assert.Contains(t, body, "Camera ID: camera_01")
}
