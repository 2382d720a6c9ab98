package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	httpapi "github.com/sawpanic/gatewatch/internal/interfaces/http"
	"github.com/sawpanic/gatewatch/internal/persistence"
)

// occupancy is the derived headcount picture for one date.
type occupancy struct {
	baseline int
	frozen   bool
	in, out  int
	present  int
	missing  int
}

func (m *Monitor) occupancy(ctx context.Context, date string, st *persistence.DailyState) (occupancy, error) {
	baseline, err := m.clock.EffectiveBaseline(ctx, m.store, date, st)
	if err != nil {
		return occupancy{}, fmt.Errorf("failed to resolve baseline: %w", err)
	}
	in, out, err := m.store.CountDirections(ctx, date)
	if err != nil {
		return occupancy{}, fmt.Errorf("failed to count directions: %w", err)
	}
	occ := occupancy{
		baseline: baseline,
		frozen:   st != nil && st.IsFrozen,
		in:       in,
		out:      out,
		present:  in - out,
	}
	if occ.missing = baseline - occ.present; occ.missing < 0 {
		occ.missing = 0
	}
	return occ, nil
}

// Status assembles the /api/status snapshot from the store.
func (m *Monitor) Status(ctx context.Context) (httpapi.Status, error) {
	now := time.Now().In(m.clock.Location())
	date := persistence.DateOf(now)

	st, err := m.store.DailyState(ctx, date)
	if err != nil {
		return httpapi.Status{}, fmt.Errorf("failed to read daily state: %w", err)
	}
	occ, err := m.occupancy(ctx, date, st)
	if err != nil {
		return httpapi.Status{}, err
	}

	status := httpapi.Status{
		Service:        "gatewatch",
		Version:        m.version,
		StartedAt:      m.startedAt,
		UptimeSec:      int64(now.Sub(m.startedAt).Seconds()),
		Date:           date,
		Phase:          string(m.clock.At(now)),
		CameraID:       m.cfg.Camera.ID,
		Baseline:       occ.baseline,
		BaselineFrozen: occ.frozen,
		Present:        occ.present,
		Missing:        occ.missing,
		EventsToday:    occ.in + occ.out,
		Jobs:           m.sched.Status(),
	}
	if st != nil {
		status.RealtimeIn = st.RealtimeIn
		status.RealtimeOut = st.RealtimeOut
	}

	period, err := m.store.ActiveMissingPeriod(ctx, date)
	if err != nil {
		return httpapi.Status{}, fmt.Errorf("failed to read missing period: %w", err)
	}
	if period != nil {
		status.MissingPeriod = &httpapi.MissingPeriodStatus{
			Session:     string(period.Session),
			StartTime:   period.StartTime,
			DurationMin: int(now.Sub(period.StartTime).Minutes()),
			Missing:     period.MissingObserved,
		}
	}

	rows, err := m.store.AlertsForDate(ctx, date)
	if err != nil {
		return httpapi.Status{}, fmt.Errorf("failed to read alert log: %w", err)
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		status.LastAlert = &httpapi.AlertStatus{
			At:      last.AlertTime,
			Status:  string(last.Status),
			Missing: last.Missing,
			Reason:  last.Reason,
		}
	}

	if exp := m.exports.Last(); exp != nil {
		status.LastExport = &httpapi.ExportStatus{
			At:     exp.At,
			Kind:   exp.Kind,
			Result: exp.Result,
		}
	}
	return status, nil
}

// Healthy probes the store with a short deadline.
func (m *Monitor) Healthy(ctx context.Context) error {
	probe, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := m.store.CountEvents(probe); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

// refreshGauges pushes the current occupancy picture into the meters so
// scrapes between ticks see fresh numbers.
func (m *Monitor) refreshGauges(ctx context.Context) {
	date := m.today()
	st, err := m.store.DailyState(ctx, date)
	if err != nil {
		log.Warn().Err(err).Msg("gauge refresh: daily state read failed")
		return
	}
	occ, err := m.occupancy(ctx, date, st)
	if err != nil {
		log.Warn().Err(err).Msg("gauge refresh failed")
		return
	}
	m.metrics.SetOccupancy(occ.baseline, occ.present, occ.missing)
}
