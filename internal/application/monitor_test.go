package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/gate"
	"github.com/sawpanic/gatewatch/internal/persistence"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Phases.Timezone = "UTC"
	cfg.Storage.DBPath = filepath.Join(dir, "data", "gatewatch.db")
	cfg.Exports.DailyDir = filepath.Join(dir, "exports", "daily")
	cfg.Exports.SummaryDir = filepath.Join(dir, "exports", "summary")
	cfg.HTTP.ListenAddr = "127.0.0.1:0"
	return &cfg
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor(testConfig(t), "test")
	require.NoError(t, err)
	require.NoError(t, m.store.Init(context.Background()))
	t.Cleanup(func() { _ = m.store.Close() })
	m.startedAt = time.Now()
	return m
}

func TestStatusReflectsStore(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	now := time.Now().UTC()
	date := persistence.DateOf(now)
	for i, direction := range []string{"IN", "IN", "IN", "OUT"} {
		_, err := m.store.AppendEvent(ctx, now.Add(time.Duration(i)*time.Minute), direction, "camera_01", int64(i+1))
		require.NoError(t, err)
	}
	baseline, frozen := 3, true
	require.NoError(t, m.store.UpsertDailyState(ctx, date, persistence.DailyStatePatch{
		TotalMorning: &baseline,
		IsFrozen:     &frozen,
	}))

	st, err := m.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, "gatewatch", st.Service)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, date, st.Date)
	assert.Equal(t, 3, st.Baseline)
	assert.True(t, st.BaselineFrozen)
	assert.Equal(t, 2, st.Present)
	assert.Equal(t, 1, st.Missing)
	assert.Equal(t, 4, st.EventsToday)
	assert.Nil(t, st.MissingPeriod)
	require.Len(t, st.Jobs, 3)
	assert.Equal(t, "alerts", st.Jobs[0].Name)
	assert.Equal(t, "exports", st.Jobs[1].Name)
	assert.Equal(t, "phase", st.Jobs[2].Name)
}

func TestStatusCarriesOpenMissingPeriod(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	now := time.Now().UTC()
	date := persistence.DateOf(now)
	id, err := m.store.OpenMissingPeriod(ctx, date, "morning", now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.NoError(t, m.store.UpdateMissingPeriod(ctx, id, 2))

	st, err := m.Status(ctx)
	require.NoError(t, err)

	require.NotNil(t, st.MissingPeriod)
	assert.Equal(t, "morning", st.MissingPeriod.Session)
	assert.Equal(t, 2, st.MissingPeriod.Missing)
	assert.GreaterOrEqual(t, st.MissingPeriod.DurationMin, 29)
}

func TestHealthyProbesStore(t *testing.T) {
	m := newTestMonitor(t)
	assert.NoError(t, m.Healthy(context.Background()))

	require.NoError(t, m.store.Close())
	assert.Error(t, m.Healthy(context.Background()))
}

func TestSelfTestMarkerWritesOnceOnEmptyStore(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	m.selfTestMarker()
	n, err := m.store.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// a populated store must not get a second marker
	m.selfTestMarker()
	n, err = m.store.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	events, err := m.store.EventsForDate(ctx, m.today())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "self_test", events[0].CameraID)
}

func TestRefreshGaugesPublishesOccupancy(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	now := time.Now().UTC()
	date := persistence.DateOf(now)
	for i := 0; i < 2; i++ {
		_, err := m.store.AppendEvent(ctx, now.Add(time.Duration(i)*time.Minute), "IN", "camera_01", int64(i+1))
		require.NoError(t, err)
	}
	baseline, frozen := 5, true
	require.NoError(t, m.store.UpsertDailyState(ctx, date, persistence.DailyStatePatch{
		TotalMorning: &baseline,
		IsFrozen:     &frozen,
	}))

	m.refreshGauges(ctx)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.metrics.MorningBaseline))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.PresentPeople))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.metrics.MissingPeople))
}

func TestGateConfigMapsEverySetting(t *testing.T) {
	xMin, xMax := 10.0, 620.0
	gc := config.GateConfig{
		Mode:               "LINE_BAND",
		GateY:              360,
		GateHeight:         80,
		GateXMin:           &xMin,
		GateXMax:           &xMax,
		P1X:                5,
		P1Y:                6,
		P2X:                7,
		P2Y:                8,
		GateThickness:      44,
		CooldownSec:        1.5,
		MinFramesInGate:    2,
		MinTravelPx:        9,
		DirectionTopBottom: "OUT",
		DirectionBottomTop: "IN",
		DirectionLeftRight: "IN",
		DirectionRightLeft: "OUT",
	}

	got := gateConfig(gc)

	assert.Equal(t, gate.ModeLineBand, got.Mode)
	assert.Equal(t, 360.0, got.GateY)
	assert.Equal(t, &xMin, got.GateXMin)
	assert.Equal(t, 5.0, got.P1.X)
	assert.Equal(t, 8.0, got.P2.Y)
	assert.Equal(t, 44.0, got.Thickness)
	assert.Equal(t, 1500*time.Millisecond, got.Cooldown)
	assert.Equal(t, 2, got.MinFramesInGate)
	assert.Equal(t, "IN", string(got.BottomTop))
}
