package phase

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/domain"
)

func testClock(t *testing.T) *Clock {
	t.Helper()
	cfg := config.Default().Phases
	cfg.Timezone = "UTC"
	c, err := NewClock(cfg)
	require.NoError(t, err)
	return c
}

func TestClockPhaseBoundaries(t *testing.T) {
	c := testClock(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		hhmm string
		want Phase
	}{
		{"00:00", OffHours},
		{"05:59", OffHours},
		{"06:00", MorningCount},
		{"08:29", MorningCount},
		{"08:30", RealtimeMorning},
		{"11:54", RealtimeMorning},
		{"11:55", LunchBreak},
		{"13:14", LunchBreak},
		{"13:15", AfternoonMonitoring},
		{"23:58", AfternoonMonitoring},
		{"23:59", DayClose},
	}
	for _, tc := range cases {
		t.Run(tc.hhmm, func(t *testing.T) {
			var h, m int
			_, err := fmt.Sscanf(tc.hhmm, "%d:%d", &h, &m)
			require.NoError(t, err)
			at := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
			assert.Equal(t, tc.want, c.At(at))
		})
	}

	// seconds within a minute never change the phase
	assert.Equal(t, DayClose, c.At(day.Add(23*time.Hour+59*time.Minute+45*time.Second)))
}

func TestAlertsActiveOnlyInMonitoringWindows(t *testing.T) {
	active := map[Phase]bool{
		MorningCount:        false,
		RealtimeMorning:     true,
		LunchBreak:          false,
		AfternoonMonitoring: true,
		DayClose:            false,
		OffHours:            false,
	}
	for p, want := range active {
		assert.Equal(t, want, AlertsActive(p), string(p))
	}
}

func TestSessionForAndStart(t *testing.T) {
	c := testClock(t)

	s, ok := SessionFor(RealtimeMorning)
	require.True(t, ok)
	assert.Equal(t, domain.SessionMorning, s)
	s, ok = SessionFor(AfternoonMonitoring)
	require.True(t, ok)
	assert.Equal(t, domain.SessionAfternoon, s)
	_, ok = SessionFor(LunchBreak)
	assert.False(t, ok)

	morning := time.Date(2025, 3, 10, 9, 42, 0, 0, time.UTC)
	start, ok := c.SessionStart(morning)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC), start)

	afternoon := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	start, ok = c.SessionStart(afternoon)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 13, 15, 0, 0, time.UTC), start)

	_, ok = c.SessionStart(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestNewClockRejectsBadBounds(t *testing.T) {
	cfg := config.Default().Phases
	cfg.Timezone = "UTC"
	cfg.MorningEnd = "25:00"
	_, err := NewClock(cfg)
	assert.Error(t, err)
}

func TestDayAnchor(t *testing.T) {
	c := testClock(t)
	anchor, err := c.DayAnchor("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), anchor)

	_, err = c.DayAnchor("10/03/2025")
	assert.Error(t, err)
}
