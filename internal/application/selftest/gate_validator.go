package selftest

import (
	"time"

	"github.com/sawpanic/gatewatch/internal/domain"
	"github.com/sawpanic/gatewatch/internal/gate"
)

// GateValidator drives the crossing counter with synthetic tracks over a
// known geometry and checks the verdicts.
type GateValidator struct{}

// NewGateValidator creates the gate counter validator.
func NewGateValidator() *GateValidator { return &GateValidator{} }

// Name returns the validator name.
func (v *GateValidator) Name() string { return "Gate Counter" }

func selftestGate() gate.Config {
	return gate.Config{
		Mode:            gate.ModeHorizontalBand,
		GateY:           100,
		GateHeight:      20,
		Cooldown:        time.Second,
		MinFramesInGate: 1,
		MinTravelPx:     10,
		TopBottom:       domain.DirectionOut,
		BottomTop:       domain.DirectionIn,
		LeftRight:       domain.DirectionIn,
		RightLeft:       domain.DirectionOut,
	}
}

// trackFrames emits one box per y position, with the bottom edge at y.
func trackFrames(ts time.Time, id int64, ys ...float64) []domain.Frame {
	frames := make([]domain.Frame, 0, len(ys))
	for i, y := range ys {
		frames = append(frames, domain.Frame{
			TS:       ts.Add(time.Duration(i) * 100 * time.Millisecond),
			CameraID: "selftest",
			Tracks:   []domain.TrackBox{{ID: id, X1: 40, Y1: y - 60, X2: 60, Y2: y}},
		})
	}
	return frames
}

// Validate runs the synthetic tracks.
func (v *GateValidator) Validate() TestResult {
	start := time.Now()
	result := TestResult{Name: v.Name(), Timestamp: start, Details: []string{}}

	counter, err := gate.New(selftestGate())
	if err != nil {
		return result.fail(start, "horizontal band rejected: %v", err)
	}

	ts := time.Now()
	var crossings []gate.Crossing
	for _, f := range trackFrames(ts, 1, 130, 100, 70) {
		crossings = append(crossings, counter.ProcessFrame(f)...)
	}
	if len(crossings) != 1 {
		return result.fail(start, "bottom-to-top pass: want one crossing, got %d", len(crossings))
	}
	if crossings[0].Direction != domain.DirectionIn {
		return result.fail(start, "bottom-to-top pass counted as %s, want IN", crossings[0].Direction)
	}
	result.Details = append(result.Details, "bottom-to-top pass counted as IN")

	// a retreat out the same side must not count
	crossings = crossings[:0]
	for _, f := range trackFrames(ts, 2, 130, 105, 130) {
		crossings = append(crossings, counter.ProcessFrame(f)...)
	}
	if len(crossings) != 0 {
		return result.fail(start, "same-side retreat produced %d crossings, want 0", len(crossings))
	}
	result.Details = append(result.Details, "same-side retreat ignored")

	// vertical gate line crossed left to right
	lineCfg := selftestGate()
	lineCfg.Mode = gate.ModeLineBand
	lineCfg.P1 = domain.Point{X: 0, Y: 0}
	lineCfg.P2 = domain.Point{X: 0, Y: 400}
	lineCfg.Thickness = 40
	counter, err = gate.New(lineCfg)
	if err != nil {
		return result.fail(start, "line band rejected: %v", err)
	}
	crossings = crossings[:0]
	for i, x := range []float64{-60, -10, 10, 60} {
		f := domain.Frame{
			TS:       ts.Add(time.Duration(i) * 100 * time.Millisecond),
			CameraID: "selftest",
			Tracks:   []domain.TrackBox{{ID: 3, X1: x - 10, Y1: 140, X2: x + 10, Y2: 200}},
		}
		crossings = append(crossings, counter.ProcessFrame(f)...)
	}
	if len(crossings) != 1 || crossings[0].Direction != domain.DirectionIn {
		return result.fail(start, "line band pass: want one IN crossing, got %d", len(crossings))
	}
	result.Details = append(result.Details, "line band left-to-right pass counted as IN")

	return result.pass(start, "crossing verdicts match geometry")
}
