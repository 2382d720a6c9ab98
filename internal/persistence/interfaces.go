package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/gatewatch/internal/domain"
)

// Event is one durable gate crossing.
type Event struct {
	ID        int64            `json:"id" db:"id"`
	EventTime time.Time        `json:"event_time" db:"event_time"`
	Direction domain.Direction `json:"direction" db:"direction"`
	CameraID  string           `json:"camera_id" db:"camera_id"`
	TrackID   int64            `json:"track_id" db:"track_id"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// DailyState is the single per-date row carrying the morning baseline and
// the live counters.
type DailyState struct {
	Date         string    `json:"date" db:"date"`
	TotalMorning int       `json:"total_morning" db:"total_morning"`
	IsFrozen     bool      `json:"is_frozen" db:"is_frozen"`
	RealtimeIn   int       `json:"realtime_in" db:"realtime_in"`
	RealtimeOut  int       `json:"realtime_out" db:"realtime_out"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// DailyStatePatch carries the fields an upsert should touch; nil fields are
// left alone. TotalMorning writes are silently ignored once the row is
// frozen.
type DailyStatePatch struct {
	TotalMorning *int
	IsFrozen     *bool
	RealtimeIn   *int
	RealtimeOut  *int
}

// MissingPeriod is a maximal interval during which live occupancy stayed
// below the frozen morning baseline. EndTime is nil while the period is
// open.
type MissingPeriod struct {
	ID              int64          `json:"id" db:"id"`
	Date            string         `json:"date" db:"date"`
	Session         domain.Session `json:"session" db:"session"`
	StartTime       time.Time      `json:"start_time" db:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty" db:"end_time"`
	DurationMinutes int            `json:"duration_minutes" db:"duration_minutes"`
	MissingObserved int            `json:"missing_observed" db:"missing_observed"`
}

// Open reports whether the period has not been closed yet.
func (p MissingPeriod) Open() bool { return p.EndTime == nil }

// AlertLog is one alert attempt, including skips, kept for audit.
type AlertLog struct {
	ID            int64              `json:"id" db:"id"`
	Date          string             `json:"date" db:"date"`
	AlertTime     time.Time          `json:"alert_time" db:"alert_time"`
	ExpectedTotal int                `json:"expected_total" db:"expected_total"`
	CurrentTotal  int                `json:"current_total" db:"current_total"`
	Missing       int                `json:"missing" db:"missing"`
	Status        domain.AlertStatus `json:"status" db:"status"`
	Reason        string             `json:"reason" db:"reason"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}

// ErrOpenPeriodExists rejects opening a second missing period for a date
// that already has one open.
var ErrOpenPeriodExists = errors.New("an open missing period already exists for this date")

// DateOf formats a timestamp as the store's calendar-date key.
func DateOf(t time.Time) string { return t.Format("2006-01-02") }

// Store owns all persistent state. Lookups that find nothing return
// (nil, nil); only engine failures surface as errors.
type Store interface {
	// Init ensures the schema exists, verifies every required table, and
	// logs the absolute storage path with per-table row counts.
	Init(ctx context.Context) error
	Close() error

	// AppendEvent normalizes and validates direction, writes durably, and
	// returns the assigned id.
	AppendEvent(ctx context.Context, eventTime time.Time, direction string, cameraID string, trackID int64) (int64, error)

	// CountEvents returns the all-time event count (startup self-test).
	CountEvents(ctx context.Context) (int64, error)
	EventsForDate(ctx context.Context, date string) ([]Event, error)
	// CountDirections returns the date's IN and OUT totals.
	CountDirections(ctx context.Context, date string) (in int, out int, err error)
	// MorningNet returns unclamped IN minus OUT over [from, to) on a date.
	MorningNet(ctx context.Context, date string, from, to time.Time) (int, error)

	UpsertDailyState(ctx context.Context, date string, patch DailyStatePatch) error
	IncrementRealtime(ctx context.Context, date string, direction domain.Direction) error
	DailyState(ctx context.Context, date string) (*DailyState, error)

	// OpenMissingPeriod fails with ErrOpenPeriodExists when the date
	// already has an open period.
	OpenMissingPeriod(ctx context.Context, date string, session domain.Session, startTime time.Time) (int64, error)
	UpdateMissingPeriod(ctx context.Context, id int64, missingObserved int) error
	CloseMissingPeriod(ctx context.Context, id int64, endTime time.Time) error
	ActiveMissingPeriod(ctx context.Context, date string) (*MissingPeriod, error)
	MissingPeriodsForDate(ctx context.Context, date string) ([]MissingPeriod, error)

	AppendAlert(ctx context.Context, row AlertLog) (int64, error)
	AlertsForDate(ctx context.Context, date string) ([]AlertLog, error)
	// LastSentAlert returns the most recent status=sent row for the date.
	LastSentAlert(ctx context.Context, date string) (*AlertLog, error)
}
