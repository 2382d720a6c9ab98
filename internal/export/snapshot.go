package export

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/phase"
)

// DaySnapshot is everything a per-day workbook needs, read from the store
// in one pass so the sheets agree with each other.
type DaySnapshot struct {
	Date       string
	Baseline   int
	Present    int
	Missing    int
	UpdatedAt  time.Time
	Events     []persistence.Event
	Periods    []persistence.MissingPeriod
	SentAlerts []persistence.AlertLog
}

// BuildDaySnapshot assembles the snapshot for a date. The baseline follows
// the same recovery rule the monitor uses: a frozen-but-zero state row with
// morning events present is recomputed from the events.
func BuildDaySnapshot(ctx context.Context, store persistence.Store, clock *phase.Clock, date string) (*DaySnapshot, error) {
	st, err := store.DailyState(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily state: %w", err)
	}
	baseline, err := clock.EffectiveBaseline(ctx, store, date, st)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve baseline: %w", err)
	}
	in, out, err := store.CountDirections(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to count directions: %w", err)
	}
	present := in - out
	missing := baseline - present
	if missing < 0 {
		missing = 0
	}

	events, err := store.EventsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	periods, err := store.MissingPeriodsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read missing periods: %w", err)
	}
	alerts, err := store.AlertsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	sent := make([]persistence.AlertLog, 0, len(alerts))
	for _, a := range alerts {
		if a.Status == domain.AlertSent {
			sent = append(sent, a)
		}
	}

	updated := time.Now().In(clock.Location())
	if n := len(events); n > 0 {
		updated = events[n-1].EventTime
	}

	return &DaySnapshot{
		Date:       date,
		Baseline:   baseline,
		Present:    present,
		Missing:    missing,
		UpdatedAt:  updated,
		Events:     events,
		Periods:    periods,
		SentAlerts: sent,
	}, nil
}
