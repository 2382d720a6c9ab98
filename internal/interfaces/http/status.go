package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gatewatch/internal/scheduler"
)

// StatusSource supplies the live snapshot the ops endpoints serve.
type StatusSource interface {
	Status(ctx context.Context) (Status, error)
	Healthy(ctx context.Context) error
}

// Status is the /api/status payload. Every occupancy figure is read fresh
// from the store when the request arrives.
type Status struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	UptimeSec int64     `json:"uptime_sec"`

	Date     string `json:"date"`
	Phase    string `json:"phase"`
	CameraID string `json:"camera_id"`

	Baseline       int  `json:"baseline"`
	BaselineFrozen bool `json:"baseline_frozen"`
	Present        int  `json:"present"`
	Missing        int  `json:"missing"`
	RealtimeIn     int  `json:"realtime_in"`
	RealtimeOut    int  `json:"realtime_out"`
	EventsToday    int  `json:"events_today"`

	MissingPeriod *MissingPeriodStatus  `json:"missing_period,omitempty"`
	LastAlert     *AlertStatus          `json:"last_alert,omitempty"`
	LastExport    *ExportStatus         `json:"last_export,omitempty"`
	Jobs          []scheduler.JobStatus `json:"jobs,omitempty"`
}

// MissingPeriodStatus describes the open shortfall interval, if any.
type MissingPeriodStatus struct {
	Session     string    `json:"session"`
	StartTime   time.Time `json:"start_time"`
	DurationMin int       `json:"duration_min"`
	Missing     int       `json:"missing"`
}

// AlertStatus summarizes the date's most recent alert attempt.
type AlertStatus struct {
	At      time.Time `json:"at"`
	Status  string    `json:"status"`
	Missing int       `json:"missing"`
	Reason  string    `json:"reason,omitempty"`
}

// ExportStatus summarizes the most recent workbook build.
type ExportStatus struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Result string    `json:"result"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.source.Status(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("status snapshot failed")
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.source.Healthy(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
