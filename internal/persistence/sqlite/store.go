// Package sqlite implements the persistence.Store contract on a single-file
// SQLite database in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    event_time TEXT NOT NULL,
    date TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('IN','OUT')),
    camera_id TEXT NOT NULL DEFAULT '',
    track_id INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_date_ts ON events(date, ts);

CREATE TABLE IF NOT EXISTS daily_state (
    date TEXT PRIMARY KEY,
    total_morning INTEGER NOT NULL DEFAULT 0,
    is_frozen INTEGER NOT NULL DEFAULT 0,
    realtime_in INTEGER NOT NULL DEFAULT 0,
    realtime_out INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS missing_periods (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    session TEXT NOT NULL CHECK (session IN ('morning','afternoon')),
    start_ts INTEGER NOT NULL,
    start_time TEXT NOT NULL,
    end_ts INTEGER,
    end_time TEXT,
    duration_minutes INTEGER NOT NULL DEFAULT 0,
    missing_observed INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_missing_open ON missing_periods(date) WHERE end_time IS NULL;
CREATE INDEX IF NOT EXISTS idx_missing_date ON missing_periods(date, start_ts);

CREATE TABLE IF NOT EXISTS alert_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    alert_ts INTEGER NOT NULL,
    alert_time TEXT NOT NULL,
    expected_total INTEGER NOT NULL DEFAULT 0,
    current_total INTEGER NOT NULL DEFAULT 0,
    missing INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK (status IN ('sent','failed','skipped')),
    reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_date_ts ON alert_logs(date, alert_ts);
`

var requiredTables = []string{"events", "daily_state", "missing_periods", "alert_logs"}

// Store is the SQLite-backed persistence.Store. Writes are serialized by a
// mutex; reads go through the pool concurrently (WAL).
type Store struct {
	db      *sqlx.DB
	path    string
	loc     *time.Location
	timeout time.Duration
	mu      sync.Mutex
}

// Open opens or creates the database file, applying WAL mode and a busy
// timeout so operator reads never wedge the writer.
func Open(path string, loc *time.Location, timeout time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, path: path, loc: loc, timeout: timeout}, nil
}

// Init creates the schema if missing, verifies every required table, and
// logs the absolute storage path with per-table row counts. It fails hard
// only when the engine is unreachable or the schema cannot be created.
func (s *Store) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable at %s: %w", s.path, err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	abs, err := filepath.Abs(s.path)
	if err != nil {
		abs = s.path
	}

	counts := log.Info().Str("path", abs)
	for _, table := range requiredTables {
		var name string
		err := s.db.GetContext(ctx, &name,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		if err != nil {
			return fmt.Errorf("required table %s missing after schema init: %w", table, err)
		}
		var n int64
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		counts = counts.Int64(table, n)
	}
	counts.Msg("store verified")
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) fmtTime(t time.Time) string { return t.In(s.loc).Format(time.RFC3339) }

func (s *Store) parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t.In(s.loc)
}

// AppendEvent normalizes direction, rejects anything outside IN/OUT, and
// writes the event durably before returning.
func (s *Store) AppendEvent(ctx context.Context, eventTime time.Time, direction string, cameraID string, trackID int64) (int64, error) {
	dir, err := domain.NormalizeDirection(direction)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	local := eventTime.In(s.loc)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (ts, event_time, date, direction, camera_id, track_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		local.Unix(), s.fmtTime(local), persistence.DateOf(local), string(dir),
		cameraID, trackID, s.fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	return id, nil
}

// CountEvents returns the all-time event count.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM events"); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

type eventRow struct {
	ID        int64  `db:"id"`
	TS        int64  `db:"ts"`
	EventTime string `db:"event_time"`
	Date      string `db:"date"`
	Direction string `db:"direction"`
	CameraID  string `db:"camera_id"`
	TrackID   int64  `db:"track_id"`
	CreatedAt string `db:"created_at"`
}

func (s *Store) eventFromRow(r eventRow) persistence.Event {
	return persistence.Event{
		ID:        r.ID,
		EventTime: s.parseTime(r.EventTime),
		Direction: domain.Direction(r.Direction),
		CameraID:  r.CameraID,
		TrackID:   r.TrackID,
		CreatedAt: s.parseTime(r.CreatedAt),
	}
}

// EventsForDate returns the date's events in id order.
func (s *Store) EventsForDate(ctx context.Context, date string) ([]persistence.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, ts, event_time, date, direction, camera_id, track_id, created_at
		FROM events WHERE date = ? ORDER BY id`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for %s: %w", date, err)
	}
	out := make([]persistence.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.eventFromRow(r))
	}
	return out, nil
}

// CountDirections returns the date's IN and OUT totals.
func (s *Store) CountDirections(ctx context.Context, date string) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row struct {
		In  int `db:"n_in"`
		Out int `db:"n_out"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'IN' THEN 1 ELSE 0 END), 0) AS n_in,
			COALESCE(SUM(CASE WHEN direction = 'OUT' THEN 1 ELSE 0 END), 0) AS n_out
		FROM events WHERE date = ?`, date)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count directions for %s: %w", date, err)
	}
	return row.In, row.Out, nil
}

// MorningNet returns unclamped IN minus OUT over [from, to) on a date.
func (s *Store) MorningNet(ctx context.Context, date string, from, to time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var net int
	err := s.db.GetContext(ctx, &net, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'IN' THEN 1 ELSE -1 END), 0)
		FROM events WHERE date = ? AND ts >= ? AND ts < ?`,
		date, from.Unix(), to.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to compute morning net for %s: %w", date, err)
	}
	return net, nil
}

func (s *Store) ensureDailyState(ctx context.Context, date string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_state (date, updated_at) VALUES (?, ?)
		ON CONFLICT(date) DO NOTHING`, date, s.fmtTime(time.Now()))
	return err
}

// UpsertDailyState merges the patch into the date's row. A frozen row keeps
// its total_morning no matter what the patch says.
func (s *Store) UpsertDailyState(ctx context.Context, date string, patch persistence.DailyStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ensureDailyState(ctx, date); err != nil {
		return fmt.Errorf("failed to ensure daily state for %s: %w", date, err)
	}

	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	if patch.TotalMorning != nil {
		sets = append(sets, "total_morning = CASE WHEN is_frozen = 1 THEN total_morning ELSE ? END")
		args = append(args, *patch.TotalMorning)
	}
	if patch.IsFrozen != nil {
		sets = append(sets, "is_frozen = ?")
		args = append(args, boolToInt(*patch.IsFrozen))
	}
	if patch.RealtimeIn != nil {
		sets = append(sets, "realtime_in = ?")
		args = append(args, *patch.RealtimeIn)
	}
	if patch.RealtimeOut != nil {
		sets = append(sets, "realtime_out = ?")
		args = append(args, *patch.RealtimeOut)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.fmtTime(time.Now()))
	args = append(args, date)

	query := "UPDATE daily_state SET " + strings.Join(sets, ", ") + " WHERE date = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert daily state for %s: %w", date, err)
	}
	return nil
}

// IncrementRealtime bumps the date's realtime_in or realtime_out by one.
func (s *Store) IncrementRealtime(ctx context.Context, date string, direction domain.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ensureDailyState(ctx, date); err != nil {
		return fmt.Errorf("failed to ensure daily state for %s: %w", date, err)
	}
	col := "realtime_in"
	if direction == domain.DirectionOut {
		col = "realtime_out"
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE daily_state SET "+col+" = "+col+" + 1, updated_at = ? WHERE date = ?",
		s.fmtTime(time.Now()), date)
	if err != nil {
		return fmt.Errorf("failed to increment %s for %s: %w", col, date, err)
	}
	return nil
}

type dailyStateRow struct {
	Date         string `db:"date"`
	TotalMorning int    `db:"total_morning"`
	IsFrozen     int    `db:"is_frozen"`
	RealtimeIn   int    `db:"realtime_in"`
	RealtimeOut  int    `db:"realtime_out"`
	UpdatedAt    string `db:"updated_at"`
}

// DailyState returns the date's row, or (nil, nil) when absent.
func (s *Store) DailyState(ctx context.Context, date string) (*persistence.DailyState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var r dailyStateRow
	err := s.db.GetContext(ctx, &r, `
		SELECT date, total_morning, is_frozen, realtime_in, realtime_out, updated_at
		FROM daily_state WHERE date = ?`, date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily state for %s: %w", date, err)
	}
	return &persistence.DailyState{
		Date:         r.Date,
		TotalMorning: r.TotalMorning,
		IsFrozen:     r.IsFrozen != 0,
		RealtimeIn:   r.RealtimeIn,
		RealtimeOut:  r.RealtimeOut,
		UpdatedAt:    s.parseTime(r.UpdatedAt),
	}, nil
}

// OpenMissingPeriod opens a shortfall interval; a second open period for the
// same date is rejected (also enforced by a partial unique index).
func (s *Store) OpenMissingPeriod(ctx context.Context, date string, session domain.Session, startTime time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing, err := s.activeMissingPeriod(ctx, date)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, persistence.ErrOpenPeriodExists
	}

	local := startTime.In(s.loc)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO missing_periods (date, session, start_ts, start_time)
		VALUES (?, ?, ?, ?)`,
		date, string(session), local.Unix(), s.fmtTime(local))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, persistence.ErrOpenPeriodExists
		}
		return 0, fmt.Errorf("failed to open missing period for %s: %w", date, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read missing period id: %w", err)
	}
	return id, nil
}

// UpdateMissingPeriod refreshes the witnessed shortfall of an open period.
func (s *Store) UpdateMissingPeriod(ctx context.Context, id int64, missingObserved int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE missing_periods SET missing_observed = ?
		WHERE id = ? AND end_time IS NULL`, missingObserved, id)
	if err != nil {
		return fmt.Errorf("failed to update missing period %d: %w", id, err)
	}
	return nil
}

// CloseMissingPeriod stamps end_time and freezes duration_minutes. Closing
// an already-closed period is a no-op.
func (s *Store) CloseMissingPeriod(ctx context.Context, id int64, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var startTS int64
	err := s.db.GetContext(ctx, &startTS,
		"SELECT start_ts FROM missing_periods WHERE id = ? AND end_time IS NULL", id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read missing period %d: %w", id, err)
	}

	local := endTime.In(s.loc)
	minutes := int(math.Round(local.Sub(time.Unix(startTS, 0)).Minutes()))
	if minutes < 0 {
		minutes = 0
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE missing_periods SET end_ts = ?, end_time = ?, duration_minutes = ?
		WHERE id = ?`, local.Unix(), s.fmtTime(local), minutes, id)
	if err != nil {
		return fmt.Errorf("failed to close missing period %d: %w", id, err)
	}
	return nil
}

type missingPeriodRow struct {
	ID              int64   `db:"id"`
	Date            string  `db:"date"`
	Session         string  `db:"session"`
	StartTS         int64   `db:"start_ts"`
	StartTime       string  `db:"start_time"`
	EndTS           *int64  `db:"end_ts"`
	EndTime         *string `db:"end_time"`
	DurationMinutes int     `db:"duration_minutes"`
	MissingObserved int     `db:"missing_observed"`
}

func (s *Store) periodFromRow(r missingPeriodRow) persistence.MissingPeriod {
	p := persistence.MissingPeriod{
		ID:              r.ID,
		Date:            r.Date,
		Session:         domain.Session(r.Session),
		StartTime:       s.parseTime(r.StartTime),
		DurationMinutes: r.DurationMinutes,
		MissingObserved: r.MissingObserved,
	}
	if r.EndTime != nil {
		t := s.parseTime(*r.EndTime)
		p.EndTime = &t
	}
	return p
}

func (s *Store) activeMissingPeriod(ctx context.Context, date string) (*persistence.MissingPeriod, error) {
	var r missingPeriodRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, date, session, start_ts, start_time, end_ts, end_time, duration_minutes, missing_observed
		FROM missing_periods WHERE date = ? AND end_time IS NULL LIMIT 1`, date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active missing period for %s: %w", date, err)
	}
	p := s.periodFromRow(r)
	return &p, nil
}

// ActiveMissingPeriod returns the date's open period, or (nil, nil).
func (s *Store) ActiveMissingPeriod(ctx context.Context, date string) (*persistence.MissingPeriod, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.activeMissingPeriod(ctx, date)
}

// MissingPeriodsForDate returns all periods of the date in start order.
func (s *Store) MissingPeriodsForDate(ctx context.Context, date string) ([]persistence.MissingPeriod, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []missingPeriodRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, date, session, start_ts, start_time, end_ts, end_time, duration_minutes, missing_observed
		FROM missing_periods WHERE date = ? ORDER BY start_ts`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing periods for %s: %w", date, err)
	}
	out := make([]persistence.MissingPeriod, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.periodFromRow(r))
	}
	return out, nil
}

// AppendAlert records one alert attempt. There are no uniqueness
// constraints, so replays of the same decision cannot fail.
func (s *Store) AppendAlert(ctx context.Context, row persistence.AlertLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	local := row.AlertTime.In(s.loc)
	date := row.Date
	if date == "" {
		date = persistence.DateOf(local)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_logs (date, alert_ts, alert_time, expected_total, current_total, missing, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		date, local.Unix(), s.fmtTime(local), row.ExpectedTotal, row.CurrentTotal,
		row.Missing, string(row.Status), row.Reason, s.fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to append alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read alert id: %w", err)
	}
	return id, nil
}

type alertRow struct {
	ID            int64  `db:"id"`
	Date          string `db:"date"`
	AlertTS       int64  `db:"alert_ts"`
	AlertTime     string `db:"alert_time"`
	ExpectedTotal int    `db:"expected_total"`
	CurrentTotal  int    `db:"current_total"`
	Missing       int    `db:"missing"`
	Status        string `db:"status"`
	Reason        string `db:"reason"`
	CreatedAt     string `db:"created_at"`
}

func (s *Store) alertFromRow(r alertRow) persistence.AlertLog {
	return persistence.AlertLog{
		ID:            r.ID,
		Date:          r.Date,
		AlertTime:     s.parseTime(r.AlertTime),
		ExpectedTotal: r.ExpectedTotal,
		CurrentTotal:  r.CurrentTotal,
		Missing:       r.Missing,
		Status:        domain.AlertStatus(r.Status),
		Reason:        r.Reason,
		CreatedAt:     s.parseTime(r.CreatedAt),
	}
}

// AlertsForDate returns the date's alert attempts in time order.
func (s *Store) AlertsForDate(ctx context.Context, date string) ([]persistence.AlertLog, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, date, alert_ts, alert_time, expected_total, current_total, missing, status, reason, created_at
		FROM alert_logs WHERE date = ? ORDER BY alert_ts, id`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for %s: %w", date, err)
	}
	out := make([]persistence.AlertLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.alertFromRow(r))
	}
	return out, nil
}

// LastSentAlert returns the date's most recent sent alert, or (nil, nil).
func (s *Store) LastSentAlert(ctx context.Context, date string) (*persistence.AlertLog, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var r alertRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, date, alert_ts, alert_time, expected_total, current_total, missing, status, reason, created_at
		FROM alert_logs WHERE date = ? AND status = 'sent'
		ORDER BY alert_ts DESC, id DESC LIMIT 1`, date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sent alert for %s: %w", date, err)
	}
	a := s.alertFromRow(r)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
