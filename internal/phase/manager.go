package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/persistence"
)

// Exports is the manager's hook into the export pipeline. Requests are
// asynchronous; the exporter decides whether a finalize is still needed.
type Exports interface {
	RequestDaily(date string)
	RequestFinalize(date string)
	RequestSweep()
}

// Manager drives the daily lifecycle: reset, baseline accumulation, freeze,
// missing-occupancy evaluation, and day close. Every duty is derived from
// Store state rather than remembered transitions, so a missed or replayed
// tick converges to the same result.
type Manager struct {
	store   persistence.Store
	clock   *Clock
	exports Exports
	now     func() time.Time

	// restartGrace marks the first shortfall evaluation after process
	// start: a shortfall already present then gets its period anchored at
	// the session start, because the outage hid the true onset.
	restartGrace bool
	closedDate   string
	lastPhase    Phase
}

// NewManager wires a manager over the store and phase clock.
func NewManager(store persistence.Store, clock *Clock, exports Exports) *Manager {
	return &Manager{
		store:        store,
		clock:        clock,
		exports:      exports,
		now:          time.Now,
		restartGrace: true,
	}
}

// Tick runs all duties owed at the current instant.
func (m *Manager) Tick(ctx context.Context) error {
	now := m.now().In(m.clock.Location())
	current := m.clock.At(now)
	if current == OffHours && now.Before(m.clock.ResetAt(now)) {
		// between midnight and reset: yesterday is settled, today not begun
		return nil
	}
	date := persistence.DateOf(now)

	// every boundary refreshes the workbook so its sheets reflect the
	// phase that just ended
	if m.lastPhase != "" && current != m.lastPhase && m.exports != nil {
		m.exports.RequestDaily(date)
	}
	m.lastPhase = current

	st, err := m.store.DailyState(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read daily state: %w", err)
	}
	if st == nil {
		if st, err = m.reset(ctx, date, now); err != nil {
			return err
		}
	}

	switch current {
	case MorningCount:
		return m.accumulateBaseline(ctx, date, now)
	case DayClose, OffHours:
		if !st.IsFrozen {
			if err := m.freeze(ctx, date, now); err != nil {
				return err
			}
		}
		return m.dayClose(ctx, date, now)
	default:
		if !st.IsFrozen {
			if err := m.freeze(ctx, date, now); err != nil {
				return err
			}
		}
		if AlertsActive(current) {
			return m.evaluateMissing(ctx, date, now, current)
		}
		// lunch break: an open period stays open and keeps accruing
		return nil
	}
}

// reset starts a fresh operational day: a zeroed state row, a workbook for
// today, and settlement of whatever yesterday left behind.
func (m *Manager) reset(ctx context.Context, date string, now time.Time) (*persistence.DailyState, error) {
	zero := 0
	frozen := false
	patch := persistence.DailyStatePatch{
		TotalMorning: &zero,
		IsFrozen:     &frozen,
		RealtimeIn:   &zero,
		RealtimeOut:  &zero,
	}
	if err := m.store.UpsertDailyState(ctx, date, patch); err != nil {
		return nil, fmt.Errorf("failed to reset daily state: %w", err)
	}

	yesterday := persistence.DateOf(now.AddDate(0, 0, -1))
	if err := m.settlePreviousDay(ctx, yesterday); err != nil {
		log.Warn().Err(err).Str("date", yesterday).Msg("could not settle previous day")
	}
	if m.exports != nil {
		m.exports.RequestFinalize(yesterday)
		m.exports.RequestDaily(date)
	}

	log.Info().Str("date", date).Msg("daily reset complete")
	return m.store.DailyState(ctx, date)
}

// settlePreviousDay closes a period the previous process left open past its
// day close, so the finalized workbook carries no dangling interval.
func (m *Manager) settlePreviousDay(ctx context.Context, date string) error {
	open, err := m.store.ActiveMissingPeriod(ctx, date)
	if err != nil || open == nil {
		return err
	}
	anchor, err := m.clock.DayAnchor(date)
	if err != nil {
		return err
	}
	if err := m.store.CloseMissingPeriod(ctx, open.ID, m.clock.DayCloseAt(anchor)); err != nil {
		return err
	}
	log.Info().Str("date", date).Int64("period_id", open.ID).Msg("closed stale missing period from previous day")
	return nil
}

func (m *Manager) accumulateBaseline(ctx context.Context, date string, now time.Time) error {
	net, err := m.store.MorningNet(ctx, date, m.clock.ResetAt(now), now)
	if err != nil {
		return fmt.Errorf("failed to count morning events: %w", err)
	}
	if net < 0 {
		net = 0
	}
	patch := persistence.DailyStatePatch{TotalMorning: &net}
	if err := m.store.UpsertDailyState(ctx, date, patch); err != nil {
		return fmt.Errorf("failed to write morning baseline: %w", err)
	}
	return nil
}

// freeze recomputes the baseline over the full morning window and locks it.
// Both fields go in one patch; the store ignores baseline writes only once
// the stored row is already frozen, so this final write lands.
func (m *Manager) freeze(ctx context.Context, date string, now time.Time) error {
	net, err := m.store.MorningNet(ctx, date, m.clock.ResetAt(now), m.clock.MorningEndAt(now))
	if err != nil {
		return fmt.Errorf("failed to count morning events: %w", err)
	}
	if net < 0 {
		net = 0
	}
	frozen := true
	patch := persistence.DailyStatePatch{TotalMorning: &net, IsFrozen: &frozen}
	if err := m.store.UpsertDailyState(ctx, date, patch); err != nil {
		return fmt.Errorf("failed to freeze baseline: %w", err)
	}
	log.Info().Str("date", date).Int("total_morning", net).Msg("morning baseline frozen")
	return nil
}

func (m *Manager) evaluateMissing(ctx context.Context, date string, now time.Time, current Phase) error {
	st, err := m.store.DailyState(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read daily state: %w", err)
	}
	baseline, err := m.clock.EffectiveBaseline(ctx, m.store, date, st)
	if err != nil {
		return fmt.Errorf("failed to resolve baseline: %w", err)
	}
	in, out, err := m.store.CountDirections(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to count directions: %w", err)
	}
	present := in - out
	missing := baseline - present
	if missing < 0 {
		missing = 0
	}

	open, err := m.store.ActiveMissingPeriod(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read active missing period: %w", err)
	}

	switch {
	case missing > 0 && open == nil:
		start := now
		if m.restartGrace {
			if s, ok := m.clock.SessionStart(now); ok {
				start = s
			}
		}
		session, _ := SessionFor(current)
		id, err := m.store.OpenMissingPeriod(ctx, date, session, start)
		if errors.Is(err, persistence.ErrOpenPeriodExists) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to open missing period: %w", err)
		}
		if err := m.store.UpdateMissingPeriod(ctx, id, missing); err != nil {
			return fmt.Errorf("failed to record observed shortfall: %w", err)
		}
		log.Info().
			Str("date", date).
			Str("session", string(session)).
			Int("missing", missing).
			Time("start_time", start).
			Msg("missing period opened")

	case missing > 0 && open != nil:
		if open.MissingObserved != missing {
			if err := m.store.UpdateMissingPeriod(ctx, open.ID, missing); err != nil {
				return fmt.Errorf("failed to record observed shortfall: %w", err)
			}
			log.Debug().Str("date", date).Int("missing", missing).Msg("missing period updated")
		}

	case missing == 0 && open != nil:
		if err := m.store.CloseMissingPeriod(ctx, open.ID, now); err != nil {
			return fmt.Errorf("failed to close missing period: %w", err)
		}
		log.Info().
			Str("date", date).
			Time("start_time", open.StartTime).
			Time("end_time", now).
			Msg("missing period closed, occupancy recovered")
	}

	m.restartGrace = false
	return nil
}

// dayClose settles the day once: any open period ends now, the workbook is
// finalized, and old artifacts are swept.
func (m *Manager) dayClose(ctx context.Context, date string, now time.Time) error {
	if m.closedDate == date {
		return nil
	}
	open, err := m.store.ActiveMissingPeriod(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read active missing period: %w", err)
	}
	if open != nil {
		if err := m.store.CloseMissingPeriod(ctx, open.ID, now); err != nil {
			return fmt.Errorf("failed to close missing period at day close: %w", err)
		}
		log.Info().Str("date", date).Int64("period_id", open.ID).Msg("missing period closed at day close")
	}
	if m.exports != nil {
		m.exports.RequestFinalize(date)
		m.exports.RequestSweep()
	}
	m.closedDate = date
	log.Info().Str("date", date).Msg("day closed")
	return nil
}
