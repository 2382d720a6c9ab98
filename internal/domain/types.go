package domain

import (
	"errors"
	"strings"
)

// Direction is the canonical orientation of a gate crossing.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ErrBadDirection rejects any direction outside {IN, OUT}.
var ErrBadDirection = errors.New("direction must be IN or OUT")

// NormalizeDirection upper-cases and validates a raw direction value.
func NormalizeDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case DirectionIn:
		return DirectionIn, nil
	case DirectionOut:
		return DirectionOut, nil
	default:
		return "", ErrBadDirection
	}
}

// Session names the half of the monitoring day a missing period started in.
type Session string

const (
	SessionMorning   Session = "morning"
	SessionAfternoon Session = "afternoon"
)

// AlertStatus is the outcome of one alert attempt.
type AlertStatus string

const (
	AlertSent    AlertStatus = "sent"
	AlertFailed  AlertStatus = "failed"
	AlertSkipped AlertStatus = "skipped"
)

// Skip reasons recorded in the alert log.
const (
	ReasonDisabled  = "disabled"
	ReasonPhase     = "phase"
	ReasonNoMissing = "no_missing"
	ReasonDuration  = "duration<30.5m"
	ReasonCooldown  = "cooldown"
)
