package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/phase"
	"github.com/sawpanic/gatewatch/internal/telemetry"
)

// Sender dispatches a composed alert over the configured channel.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// Config carries the alerting knobs.
type Config struct {
	Enabled bool
	// Interval is the minimum spacing between sent alerts while the
	// shortfall stays unchanged.
	Interval time.Duration
	// FirstDelay is how long a shortfall must persist before the first
	// send. The extra half minute over the interval debounces transient
	// undercounts at shortfall onset.
	FirstDelay time.Duration
	CameraID   string
}

// Manager decides at each tick whether an alert goes out and records every
// decision, skips included, in the alert log.
type Manager struct {
	store  persistence.Store
	clock  *phase.Clock
	sender Sender
	cfg    Config
	now    func() time.Time

	// Metrics is optional; the composition root sets it.
	Metrics *telemetry.Metrics
}

// NewManager wires an alert manager over the store and phase clock.
func NewManager(store persistence.Store, clock *phase.Clock, sender Sender, cfg Config) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Tick evaluates the alert decision for the current instant.
func (m *Manager) Tick(ctx context.Context) error {
	now := m.now().In(m.clock.Location())
	date := persistence.DateOf(now)
	current := m.clock.At(now)

	if !m.cfg.Enabled {
		return m.skip(ctx, date, now, 0, 0, 0, domain.ReasonDisabled)
	}
	if !phase.AlertsActive(current) {
		return m.skip(ctx, date, now, 0, 0, 0, domain.ReasonPhase)
	}

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
	if open == nil || missing == 0 {
		// a still-open period with zero live shortfall closes on the next
		// phase tick; nothing worth mailing either way
		return m.skip(ctx, date, now, baseline, present, missing, domain.ReasonNoMissing)
	}

	if now.Sub(open.StartTime) < m.cfg.FirstDelay {
		return m.skip(ctx, date, now, baseline, present, missing, domain.ReasonDuration)
	}

	last, err := m.store.LastSentAlert(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read last sent alert: %w", err)
	}
	if last != nil && last.Missing == missing {
		// ticks are wall-aligned, so compare at minute granularity: the
		// tick exactly one interval after a send still cools, the one
		// after it goes out
		sinceLast := now.Truncate(time.Minute).Sub(last.AlertTime.Truncate(time.Minute))
		if sinceLast <= m.cfg.Interval {
			return m.skip(ctx, date, now, baseline, present, missing, domain.ReasonCooldown)
		}
	}

	subject, body := Compose(date, now, open, baseline, present, missing, m.cfg.CameraID)
	row := persistence.AlertLog{
		Date:          date,
		AlertTime:     now,
		ExpectedTotal: baseline,
		CurrentTotal:  present,
		Missing:       missing,
	}
	if err := m.sender.Send(ctx, subject, body); err != nil {
		row.Status = domain.AlertFailed
		row.Reason = err.Error()
		log.Error().Err(err).Str("date", date).Int("missing", missing).Msg("alert dispatch failed")
	} else {
		row.Status = domain.AlertSent
		log.Info().
			Str("date", date).
			Str("session", string(open.Session)).
			Int("missing", missing).
			Dur("shortfall_age", now.Sub(open.StartTime)).
			Msg("alert sent")
	}
	m.Metrics.RecordAlert(string(row.Status))
	if _, err := m.store.AppendAlert(ctx, row); err != nil {
		return fmt.Errorf("failed to record alert outcome: %w", err)
	}
	return nil
}

func (m *Manager) skip(ctx context.Context, date string, now time.Time, baseline, present, missing int, reason string) error {
	row := persistence.AlertLog{
		Date:          date,
		AlertTime:     now,
		ExpectedTotal: baseline,
		CurrentTotal:  present,
		Missing:       missing,
		Status:        domain.AlertSkipped,
		Reason:        reason,
	}
	if _, err := m.store.AppendAlert(ctx, row); err != nil {
		return fmt.Errorf("failed to record alert skip: %w", err)
	}
	m.Metrics.RecordAlert(string(domain.AlertSkipped))
	log.Debug().Str("date", date).Str("reason", reason).Msg("alert skipped")
	return nil
}

// Compose renders the alert subject and plain-text body.
func Compose(date string, now time.Time, period *persistence.MissingPeriod, baseline, present, missing int, cameraID string) (subject, body string) {
	session := "Morning"
	if period.Session == domain.SessionAfternoon {
		session = "Afternoon"
	}
	duration := int(now.Sub(period.StartTime).Minutes())

	subject = fmt.Sprintf("People Counter Alert: %d missing (%s)", missing, date)

	var b strings.Builder
	fmt.Fprintf(&b, "Alert: People Missing (%s Session)\n\n", session)
	fmt.Fprintf(&b, "Date: %s\n", date)
	fmt.Fprintf(&b, "Phase: %s\n", session)
	fmt.Fprintf(&b, "Missing Start Time: %s\n", period.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %d minutes\n", duration)
	fmt.Fprintf(&b, "Current Missing Count: %d people\n", missing)
	fmt.Fprintf(&b, "Total Morning: %d\n", baseline)
	fmt.Fprintf(&b, "Current Realtime: %d\n", present)
	fmt.Fprintf(&b, "Camera ID: %s\n", cameraID)
	fmt.Fprintf(&b, "Time: %s", now.Format("2006-01-02 15:04:05 MST"))
	return subject, b.String()
}
