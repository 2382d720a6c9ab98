package selftest

import (
	"fmt"
	"time"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/phase"
)

// ClockValidator probes the phase clock at each configured boundary minute
// and one minute either side of the day.
type ClockValidator struct {
	phases config.PhasesConfig
}

// NewClockValidator wraps the phases section under test.
func NewClockValidator(phases config.PhasesConfig) *ClockValidator {
	return &ClockValidator{phases: phases}
}

// Name returns the validator name.
func (v *ClockValidator) Name() string { return "Phase Clock" }

// Validate probes the boundaries.
func (v *ClockValidator) Validate() TestResult {
	start := time.Now()
	result := TestResult{Name: v.Name(), Timestamp: start, Details: []string{}}

	clock, err := phase.NewClock(v.phases)
	if err != nil {
		return result.fail(start, "clock construction failed: %v", err)
	}
	anchor, err := clock.DayAnchor("2025-03-10")
	if err != nil {
		return result.fail(start, "day anchor failed: %v", err)
	}

	probes := []struct {
		name string
		raw  string
		want phase.Phase
	}{
		{"reset", v.phases.Reset, phase.MorningCount},
		{"morning_end", v.phases.MorningEnd, phase.RealtimeMorning},
		{"lunch_start", v.phases.LunchStart, phase.LunchBreak},
		{"lunch_end", v.phases.LunchEnd, phase.AfternoonMonitoring},
		{"day_close", v.phases.DayClose, phase.DayClose},
	}
	prev := -1
	for _, p := range probes {
		minute, err := config.ParseMinuteOfDay(p.raw)
		if err != nil {
			return result.fail(start, "%s is unparseable: %v", p.name, err)
		}
		if minute <= prev {
			return result.fail(start, "%s (%s) does not advance past the previous boundary", p.name, p.raw)
		}
		prev = minute

		at := anchor.Add(time.Duration(minute) * time.Minute)
		if got := clock.At(at); got != p.want {
			return result.fail(start, "at %s expected %s, got %s", p.raw, p.want, got)
		}
		result.Details = append(result.Details, fmt.Sprintf("%s %s -> %s", p.name, p.raw, p.want))
	}

	if got := clock.At(clock.ResetAt(anchor).Add(-time.Minute)); got != phase.OffHours {
		return result.fail(start, "minute before reset expected OFF_HOURS, got %s", got)
	}
	if got := clock.At(clock.DayCloseAt(anchor).Add(time.Minute)); got != phase.OffHours {
		return result.fail(start, "minute after day close expected OFF_HOURS, got %s", got)
	}
	result.Details = append(result.Details, "off-hours wraps both ends of the day")

	afternoon := clock.DayCloseAt(anchor).Add(-time.Minute)
	if sessionStart, ok := clock.SessionStart(afternoon); !ok {
		return result.fail(start, "no session start inside the afternoon window")
	} else if clock.At(sessionStart) != phase.AfternoonMonitoring {
		return result.fail(start, "afternoon session start lands outside the window")
	}
	result.Details = append(result.Details, "afternoon session anchored at lunch end")

	return result.pass(start, "boundaries map to the expected phases")
}
