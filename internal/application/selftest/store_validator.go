package selftest

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/persistence"
	"github.com/sawpanic/gatewatch/internal/persistence/sqlite"
)

// StoreValidator runs a full round trip against a throwaway database:
// events, daily state with the freeze guard, a missing period, and the
// alert log.
type StoreValidator struct {
	phases config.PhasesConfig
}

// NewStoreValidator wraps the phases section, which supplies the timezone.
func NewStoreValidator(phases config.PhasesConfig) *StoreValidator {
	return &StoreValidator{phases: phases}
}

// Name returns the validator name.
func (v *StoreValidator) Name() string { return "Store Round Trip" }

// Validate runs the round trip.
func (v *StoreValidator) Validate() TestResult {
	start := time.Now()
	result := TestResult{Name: v.Name(), Timestamp: start, Details: []string{}}

	loc, err := v.phases.Location()
	if err != nil {
		return result.fail(start, "timezone load failed: %v", err)
	}
	dir, err := os.MkdirTemp("", "gatewatch-selftest-")
	if err != nil {
		return result.fail(start, "temp dir failed: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := sqlite.Open(filepath.Join(dir, "selftest.db"), loc, 2*time.Second)
	if err != nil {
		return result.fail(start, "store open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		return result.fail(start, "schema init failed: %v", err)
	}
	result.Details = append(result.Details, "schema created")

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	date := persistence.DateOf(at)
	for i, direction := range []string{"IN", "IN", "OUT"} {
		if _, err := store.AppendEvent(ctx, at.Add(time.Duration(i)*time.Minute), direction, "selftest", int64(i+1)); err != nil {
			return result.fail(start, "event append failed: %v", err)
		}
	}
	in, out, err := store.CountDirections(ctx, date)
	if err != nil {
		return result.fail(start, "direction count failed: %v", err)
	}
	if in != 2 || out != 1 {
		return result.fail(start, "direction count got in=%d out=%d, want 2/1", in, out)
	}
	result.Details = append(result.Details, "three events written and counted back")

	baseline, frozen := 2, true
	if err := store.UpsertDailyState(ctx, date, persistence.DailyStatePatch{TotalMorning: &baseline, IsFrozen: &frozen}); err != nil {
		return result.fail(start, "daily state upsert failed: %v", err)
	}
	overwrite := 99
	if err := store.UpsertDailyState(ctx, date, persistence.DailyStatePatch{TotalMorning: &overwrite}); err != nil {
		return result.fail(start, "daily state second upsert failed: %v", err)
	}
	st, err := store.DailyState(ctx, date)
	if err != nil {
		return result.fail(start, "daily state read failed: %v", err)
	}
	if st == nil || !st.IsFrozen || st.TotalMorning != 2 {
		return result.fail(start, "freeze guard failed: frozen baseline was overwritten")
	}
	result.Details = append(result.Details, "frozen baseline survived an overwrite attempt")

	id, err := store.OpenMissingPeriod(ctx, date, domain.SessionMorning, at)
	if err != nil {
		return result.fail(start, "missing period open failed: %v", err)
	}
	if err := store.UpdateMissingPeriod(ctx, id, 1); err != nil {
		return result.fail(start, "missing period update failed: %v", err)
	}
	if err := store.CloseMissingPeriod(ctx, id, at.Add(12*time.Minute)); err != nil {
		return result.fail(start, "missing period close failed: %v", err)
	}
	if open, err := store.ActiveMissingPeriod(ctx, date); err != nil {
		return result.fail(start, "missing period lookup failed: %v", err)
	} else if open != nil {
		return result.fail(start, "closed missing period still reported active")
	}
	result.Details = append(result.Details, "missing period opened, updated, and closed")

	if _, err := store.AppendAlert(ctx, persistence.AlertLog{
		Date:          date,
		AlertTime:     at.Add(15 * time.Minute),
		ExpectedTotal: 2,
		CurrentTotal:  1,
		Missing:       1,
		Status:        domain.AlertSent,
	}); err != nil {
		return result.fail(start, "alert append failed: %v", err)
	}
	last, err := store.LastSentAlert(ctx, date)
	if err != nil {
		return result.fail(start, "sent alert lookup failed: %v", err)
	}
	if last == nil || last.Missing != 1 {
		return result.fail(start, "sent alert not found after append")
	}
	result.Details = append(result.Details, "alert log append and lookup")

	return result.pass(start, "all store paths round-tripped")
}
