// Package gate turns the tracker's noisy per-frame boxes into validated
// directional crossings using a thick-band state machine.
package gate

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/gatewatch/internal/domain"
)

// Mode selects the gate geometry.
type Mode string

const (
	ModeHorizontalBand Mode = "HORIZONTAL_BAND"
	ModeLineBand       Mode = "LINE_BAND"
)

// Side is which side of the band a point sits on.
type Side string

const (
	SideTop    Side = "TOP"
	SideBottom Side = "BOTTOM"
	SideLeft   Side = "LEFT"
	SideRight  Side = "RIGHT"
	sideNone   Side = ""
)

// Config is the gate geometry plus the anti-jitter thresholds.
type Config struct {
	Mode Mode

	// HORIZONTAL_BAND
	GateY      float64
	GateHeight float64
	GateXMin   *float64
	GateXMax   *float64

	// LINE_BAND
	P1        domain.Point
	P2        domain.Point
	Thickness float64

	Cooldown        time.Duration
	MinFramesInGate int
	MinTravelPx     float64

	// Direction mapping per traversal orientation.
	TopBottom domain.Direction
	BottomTop domain.Direction
	LeftRight domain.Direction
	RightLeft domain.Direction
}

// Crossing is one validated gate traversal.
type Crossing struct {
	TrackID   int64
	Direction domain.Direction
	At        time.Time
	EntrySide Side
	ExitSide  Side
	TravelPx  float64
}

type trackState struct {
	inside       bool
	lastSide     Side
	entrySide    Side
	entryPoint   domain.Point
	framesInGate int
}

// Counter runs the per-track band state machine. It is not safe for
// concurrent use; the frame worker owns it.
type Counter struct {
	cfg Config

	// precomputed for LINE_BAND
	lineDX, lineDY, lineLen float64
	// sideSign normalizes the side naming so the smaller-x half plane is
	// LEFT no matter which endpoint the operator listed first.
	sideSign float64

	tracks map[int64]*trackState

	// lastCount outlives track state so a track id reactivating right
	// after a count cannot double-count within the cooldown.
	lastCount map[int64]time.Time
}

// New validates the configuration and returns a ready counter.
func New(cfg Config) (*Counter, error) {
	c := &Counter{
		cfg:       cfg,
		tracks:    make(map[int64]*trackState),
		lastCount: make(map[int64]time.Time),
	}

	switch cfg.Mode {
	case ModeHorizontalBand:
		if cfg.GateHeight <= 0 {
			return nil, fmt.Errorf("gate height must be positive, got %.1f", cfg.GateHeight)
		}
	case ModeLineBand:
		c.lineDX = cfg.P2.X - cfg.P1.X
		c.lineDY = cfg.P2.Y - cfg.P1.Y
		c.lineLen = math.Hypot(c.lineDX, c.lineDY)
		if c.lineLen == 0 {
			return nil, fmt.Errorf("gate line endpoints must differ")
		}
		if cfg.Thickness <= 0 {
			return nil, fmt.Errorf("gate thickness must be positive, got %.1f", cfg.Thickness)
		}
		c.sideSign = 1
		if c.lineDY < 0 {
			c.sideSign = -1
		}
	default:
		return nil, fmt.Errorf("unknown gate mode %q", cfg.Mode)
	}
	if cfg.MinFramesInGate < 1 {
		return nil, fmt.Errorf("min frames in gate must be at least 1, got %d", cfg.MinFramesInGate)
	}
	return c, nil
}

// ActiveTracks reports how many tracks currently hold state.
func (c *Counter) ActiveTracks() int { return len(c.tracks) }

// ProcessFrame advances every track through the state machine and returns
// the crossings this frame resolved. Tracks absent from the frame are
// purged so no pending state leaks.
func (c *Counter) ProcessFrame(f domain.Frame) []Crossing {
	var crossings []Crossing
	seen := make(map[int64]struct{}, len(f.Tracks))

	for _, box := range f.Tracks {
		seen[box.ID] = struct{}{}
		if x, ok := c.step(f.TS, box); ok {
			crossings = append(crossings, x)
		}
	}

	for id := range c.tracks {
		if _, ok := seen[id]; !ok {
			delete(c.tracks, id)
		}
	}
	for id, t := range c.lastCount {
		if f.TS.Sub(t) > c.cfg.Cooldown {
			delete(c.lastCount, id)
		}
	}
	return crossings
}

func (c *Counter) step(ts time.Time, box domain.TrackBox) (Crossing, bool) {
	p := box.BottomCenter()
	side := c.sideOf(p)
	inside := c.inGate(p)

	st, ok := c.tracks[box.ID]
	if !ok {
		st = &trackState{lastSide: side}
		c.tracks[box.ID] = st
	}

	switch {
	case !st.inside && !inside:
		st.lastSide = side
		st.framesInGate = 0

	case !st.inside && inside:
		st.inside = true
		if st.lastSide == sideNone {
			st.lastSide = side
		}
		st.entrySide = st.lastSide
		st.entryPoint = p
		st.framesInGate = 1

	case st.inside && inside:
		st.framesInGate++

	case st.inside && !inside:
		exitSide := side
		travel := math.Hypot(p.X-st.entryPoint.X, p.Y-st.entryPoint.Y)
		last, counted := c.lastCount[box.ID]
		eligible := exitSide != st.entrySide &&
			st.framesInGate >= c.cfg.MinFramesInGate &&
			travel >= c.cfg.MinTravelPx &&
			(!counted || ts.Sub(last) > c.cfg.Cooldown)

		entry := st.entrySide
		st.inside = false
		st.lastSide = exitSide
		st.framesInGate = 0

		if eligible {
			c.lastCount[box.ID] = ts
			return Crossing{
				TrackID:   box.ID,
				Direction: c.directionFor(entry, exitSide),
				At:        ts,
				EntrySide: entry,
				ExitSide:  exitSide,
				TravelPx:  travel,
			}, true
		}
	}
	return Crossing{}, false
}

// inGate reports whether the point sits inside the thick band.
func (c *Counter) inGate(p domain.Point) bool {
	switch c.cfg.Mode {
	case ModeHorizontalBand:
		if math.Abs(p.Y-c.cfg.GateY) > c.cfg.GateHeight/2 {
			return false
		}
		if c.cfg.GateXMin != nil && p.X < *c.cfg.GateXMin {
			return false
		}
		if c.cfg.GateXMax != nil && p.X > *c.cfg.GateXMax {
			return false
		}
		return true
	case ModeLineBand:
		// project onto the segment; reject beyond the endpoints
		t := ((p.X-c.cfg.P1.X)*c.lineDX + (p.Y-c.cfg.P1.Y)*c.lineDY) / (c.lineLen * c.lineLen)
		if t < 0 || t > 1 {
			return false
		}
		return math.Abs(c.signedDistance(p)) <= c.cfg.Thickness/2
	}
	return false
}

// sideOf names the side of the gate a point sits on, valid inside the band
// too (sign relative to the center line). For LINE_BAND, LEFT is the
// smaller-x side of any non-horizontal gate.
func (c *Counter) sideOf(p domain.Point) Side {
	switch c.cfg.Mode {
	case ModeHorizontalBand:
		if p.Y < c.cfg.GateY {
			return SideTop
		}
		return SideBottom
	case ModeLineBand:
		if c.signedDistance(p)*c.sideSign > 0 {
			return SideLeft
		}
		return SideRight
	}
	return sideNone
}

// signedDistance is the perpendicular distance from p to the gate line,
// signed by the cross product with the line direction.
func (c *Counter) signedDistance(p domain.Point) float64 {
	cross := c.lineDX*(p.Y-c.cfg.P1.Y) - c.lineDY*(p.X-c.cfg.P1.X)
	return cross / c.lineLen
}

func (c *Counter) directionFor(entry, exit Side) domain.Direction {
	switch {
	case entry == SideTop && exit == SideBottom:
		return c.cfg.TopBottom
	case entry == SideBottom && exit == SideTop:
		return c.cfg.BottomTop
	case entry == SideLeft && exit == SideRight:
		return c.cfg.LeftRight
	case entry == SideRight && exit == SideLeft:
		return c.cfg.RightLeft
	}
	return c.cfg.TopBottom
}
