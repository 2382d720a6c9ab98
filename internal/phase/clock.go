package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/persistence"
)

// Phase identifies the daily operating window the monitor is in.
type Phase string

const (
	MorningCount        Phase = "MORNING_COUNT"
	RealtimeMorning     Phase = "REALTIME_MORNING"
	LunchBreak          Phase = "LUNCH_BREAK"
	AfternoonMonitoring Phase = "AFTERNOON_MONITORING"
	DayClose            Phase = "DAY_CLOSE"
	OffHours            Phase = "OFF_HOURS"
)

// Clock maps wall-clock instants to phases. All bounds are minutes of the
// local day; the mapping is pure so ticks can be replayed and missed ticks
// self-heal.
type Clock struct {
	loc        *time.Location
	reset      int
	morningEnd int
	lunchStart int
	lunchEnd   int
	dayClose   int
}

// NewClock builds a Clock from the phases section of the configuration.
func NewClock(cfg config.PhasesConfig) (*Clock, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	c := &Clock{loc: loc}
	for _, b := range []struct {
		name string
		raw  string
		dst  *int
	}{
		{"reset", cfg.Reset, &c.reset},
		{"morning_end", cfg.MorningEnd, &c.morningEnd},
		{"lunch_start", cfg.LunchStart, &c.lunchStart},
		{"lunch_end", cfg.LunchEnd, &c.lunchEnd},
		{"day_close", cfg.DayClose, &c.dayClose},
	} {
		m, err := config.ParseMinuteOfDay(b.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", b.name, err)
		}
		*b.dst = m
	}
	return c, nil
}

// Location returns the timezone all phase math runs in.
func (c *Clock) Location() *time.Location { return c.loc }

// At returns the phase in effect at t. The day_close minute itself reports
// DAY_CLOSE; everything between day_close and the next reset is OFF_HOURS.
func (c *Clock) At(t time.Time) Phase {
	m := minuteOfDay(t.In(c.loc))
	switch {
	case m < c.reset:
		return OffHours
	case m < c.morningEnd:
		return MorningCount
	case m < c.lunchStart:
		return RealtimeMorning
	case m < c.lunchEnd:
		return LunchBreak
	case m < c.dayClose:
		return AfternoonMonitoring
	case m == c.dayClose:
		return DayClose
	default:
		return OffHours
	}
}

// AlertsActive reports whether alert evaluation runs in phase p.
func AlertsActive(p Phase) bool {
	return p == RealtimeMorning || p == AfternoonMonitoring
}

// SessionFor maps a monitoring phase to its session half. ok is false
// outside the two monitoring windows.
func SessionFor(p Phase) (session domain.Session, ok bool) {
	switch p {
	case RealtimeMorning:
		return domain.SessionMorning, true
	case AfternoonMonitoring:
		return domain.SessionAfternoon, true
	default:
		return "", false
	}
}

// SessionStart returns the instant the session containing t began, on t's
// calendar day. ok is false when t is outside a monitoring window.
func (c *Clock) SessionStart(t time.Time) (start time.Time, ok bool) {
	switch c.At(t) {
	case RealtimeMorning:
		return c.timeAt(t, c.morningEnd), true
	case AfternoonMonitoring:
		return c.timeAt(t, c.lunchEnd), true
	default:
		return time.Time{}, false
	}
}

// ResetAt returns the reset instant on t's calendar day.
func (c *Clock) ResetAt(t time.Time) time.Time { return c.timeAt(t, c.reset) }

// MorningEndAt returns the baseline-freeze instant on t's calendar day.
func (c *Clock) MorningEndAt(t time.Time) time.Time { return c.timeAt(t, c.morningEnd) }

// DayCloseAt returns the day-close instant on t's calendar day.
func (c *Clock) DayCloseAt(t time.Time) time.Time { return c.timeAt(t, c.dayClose) }

// DayAnchor parses a calendar date into midnight local time.
func (c *Clock) DayAnchor(date string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", date, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", date, err)
	}
	return t, nil
}

// EffectiveBaseline resolves the morning baseline for a date. A zero stored
// value with morning events present means a crash predated the freeze, so
// the baseline is recomputed from the events themselves.
func (c *Clock) EffectiveBaseline(ctx context.Context, store persistence.Store, date string, st *persistence.DailyState) (int, error) {
	if st != nil && st.TotalMorning > 0 {
		return st.TotalMorning, nil
	}
	anchor, err := c.DayAnchor(date)
	if err != nil {
		return 0, err
	}
	net, err := store.MorningNet(ctx, date, c.ResetAt(anchor), c.MorningEndAt(anchor))
	if err != nil {
		return 0, err
	}
	if net < 0 {
		net = 0
	}
	return net, nil
}

func (c *Clock) timeAt(t time.Time, minute int) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), minute/60, minute%60, 0, 0, c.loc)
}

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }
