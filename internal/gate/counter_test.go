package gate

import (
	"testing"
	"time"

	"github.com/sawpanic/gatewatch/internal/domain"
)

func bandConfig() Config {
	return Config{
		Mode:            ModeHorizontalBand,
		GateY:           300,
		GateHeight:      60, // band covers y in [270, 330]
		Cooldown:        time.Second,
		MinFramesInGate: 2,
		MinTravelPx:     15,
		TopBottom:       domain.DirectionOut,
		BottomTop:       domain.DirectionIn,
		LeftRight:       domain.DirectionIn,
		RightLeft:       domain.DirectionOut,
	}
}

// boxAt builds a person-sized box whose bottom-center lands on (x, y).
func boxAt(id int64, x, y float64) domain.TrackBox {
	return domain.TrackBox{ID: id, X1: x - 20, Y1: y - 80, X2: x + 20, Y2: y}
}

func frameAt(ts time.Time, boxes ...domain.TrackBox) domain.Frame {
	return domain.Frame{TS: ts, CameraID: "camera_01", Tracks: boxes}
}

func mustCounter(t *testing.T, cfg Config) *Counter {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestWalkThroughCountsOnce(t *testing.T) {
	c := mustCounter(t, bandConfig())
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	var crossings []Crossing
	path := []float64{200, 250, 280, 300, 320, 360, 400}
	for i, y := range path {
		crossings = append(crossings, c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(7, 100, y)))...)
	}

	if len(crossings) != 1 {
		t.Fatalf("expected exactly one crossing, got %d", len(crossings))
	}
	x := crossings[0]
	if x.Direction != domain.DirectionOut {
		t.Errorf("TOP->BOTTOM should map to OUT, got %s", x.Direction)
	}
	if x.EntrySide != SideTop || x.ExitSide != SideBottom {
		t.Errorf("unexpected sides: entry=%s exit=%s", x.EntrySide, x.ExitSide)
	}
	if x.TrackID != 7 {
		t.Errorf("unexpected track id %d", x.TrackID)
	}
}

func TestJitterOnOneSideNeverCounts(t *testing.T) {
	c := mustCounter(t, bandConfig())
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// oscillates across the top band edge without ever traversing
	var total int
	ys := []float64{260, 275, 262, 278, 265, 280, 261}
	for i, y := range ys {
		total += len(c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(3, 100, y))))
	}
	if total != 0 {
		t.Errorf("same-side jitter produced %d crossings, want 0", total)
	}
}

func TestMinFramesInGateRejectsFlicker(t *testing.T) {
	cfg := bandConfig()
	cfg.MinFramesInGate = 3
	c := mustCounter(t, cfg)
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// only two frames inside the band before exiting below
	var total int
	for i, y := range []float64{250, 280, 320, 360} {
		total += len(c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(4, 100, y))))
	}
	if total != 0 {
		t.Errorf("two-frame dwell counted with min_frames=3, got %d crossings", total)
	}
}

func TestMinTravelRejectsShortHop(t *testing.T) {
	cfg := bandConfig()
	cfg.MinTravelPx = 100
	c := mustCounter(t, cfg)
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	var total int
	for i, y := range []float64{260, 285, 310, 335} {
		total += len(c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(5, 100, y))))
	}
	if total != 0 {
		t.Errorf("sub-threshold travel counted, got %d crossings", total)
	}
}

func TestCooldownSuppressesReactivatedTrack(t *testing.T) {
	c := mustCounter(t, bandConfig())
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	walk := func(start time.Time, id int64) int {
		n := 0
		for i, y := range []float64{250, 280, 310, 350} {
			n += len(c.ProcessFrame(frameAt(start.Add(time.Duration(i)*50*time.Millisecond), boxAt(id, 100, y))))
		}
		return n
	}

	if n := walk(ts, 7); n != 1 {
		t.Fatalf("first pass: expected 1 crossing, got %d", n)
	}
	// track disappears for a frame, then the same id reappears within the
	// cooldown window and repeats the move
	c.ProcessFrame(frameAt(ts.Add(250 * time.Millisecond)))
	if n := walk(ts.Add(300*time.Millisecond), 7); n != 0 {
		t.Errorf("reactivated track within cooldown counted, got %d crossings", n)
	}
	// after the cooldown the same id may count again
	if n := walk(ts.Add(3*time.Second), 7); n != 1 {
		t.Errorf("post-cooldown pass: expected 1 crossing, got %d", n)
	}
}

func TestBottomToTopMapsToIn(t *testing.T) {
	c := mustCounter(t, bandConfig())
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	var crossings []Crossing
	for i, y := range []float64{400, 330, 300, 270, 240} {
		crossings = append(crossings, c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(9, 100, y)))...)
	}
	if len(crossings) != 1 {
		t.Fatalf("expected one crossing, got %d", len(crossings))
	}
	if crossings[0].Direction != domain.DirectionIn {
		t.Errorf("BOTTOM->TOP should map to IN, got %s", crossings[0].Direction)
	}
}

func TestHorizontalBandXBounds(t *testing.T) {
	cfg := bandConfig()
	xMin, xMax := 50.0, 150.0
	cfg.GateXMin, cfg.GateXMax = &xMin, &xMax
	c := mustCounter(t, cfg)
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// crosses the band vertically but outside the x window
	var total int
	for i, y := range []float64{250, 280, 310, 350} {
		total += len(c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(11, 400, y))))
	}
	if total != 0 {
		t.Errorf("crossing outside x bounds counted, got %d", total)
	}

	for i, y := range []float64{250, 280, 310, 350} {
		total += len(c.ProcessFrame(frameAt(ts.Add(time.Duration(i+10)*100*time.Millisecond), boxAt(12, 100, y))))
	}
	if total != 1 {
		t.Errorf("crossing inside x bounds should count once, got %d", total)
	}
}

func TestLineBandCrossing(t *testing.T) {
	cfg := Config{
		Mode:            ModeLineBand,
		P1:              domain.Point{X: 0, Y: 0},
		P2:              domain.Point{X: 0, Y: 400}, // vertical gate line
		Thickness:       40,
		Cooldown:        time.Second,
		MinFramesInGate: 1,
		MinTravelPx:     10,
		TopBottom:       domain.DirectionOut,
		BottomTop:       domain.DirectionIn,
		LeftRight:       domain.DirectionIn,
		RightLeft:       domain.DirectionOut,
	}
	c := mustCounter(t, cfg)
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	var crossings []Crossing
	for i, x := range []float64{-60, -10, 10, 60} {
		crossings = append(crossings, c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(2, x, 200)))...)
	}
	if len(crossings) != 1 {
		t.Fatalf("expected one line-band crossing, got %d", len(crossings))
	}
	if crossings[0].Direction != domain.DirectionIn {
		t.Errorf("LEFT->RIGHT should map to IN, got %s", crossings[0].Direction)
	}

	// walking past the segment's end must not register
	var total int
	for i, x := range []float64{-60, -10, 10, 60} {
		total += len(c.ProcessFrame(frameAt(ts.Add(time.Duration(i+10)*100*time.Millisecond), boxAt(3, x, 500))))
	}
	if total != 0 {
		t.Errorf("crossing beyond segment end counted, got %d", total)
	}
}

func TestLineBandSidesIgnoreEndpointOrder(t *testing.T) {
	base := Config{
		Mode:            ModeLineBand,
		Thickness:       40,
		Cooldown:        time.Second,
		MinFramesInGate: 1,
		MinTravelPx:     10,
		TopBottom:       domain.DirectionOut,
		BottomTop:       domain.DirectionIn,
		LeftRight:       domain.DirectionIn,
		RightLeft:       domain.DirectionOut,
	}
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	endpoints := []struct {
		name   string
		p1, p2 domain.Point
	}{
		{"top first", domain.Point{X: 0, Y: 0}, domain.Point{X: 0, Y: 400}},
		{"bottom first", domain.Point{X: 0, Y: 400}, domain.Point{X: 0, Y: 0}},
	}
	for _, ep := range endpoints {
		t.Run(ep.name, func(t *testing.T) {
			cfg := base
			cfg.P1, cfg.P2 = ep.p1, ep.p2
			c := mustCounter(t, cfg)

			var crossings []Crossing
			for i, x := range []float64{-60, -10, 10, 60} {
				crossings = append(crossings, c.ProcessFrame(frameAt(ts.Add(time.Duration(i)*100*time.Millisecond), boxAt(2, x, 200)))...)
			}
			if len(crossings) != 1 {
				t.Fatalf("expected one crossing, got %d", len(crossings))
			}
			if crossings[0].EntrySide != SideLeft || crossings[0].ExitSide != SideRight {
				t.Errorf("unexpected sides: entry=%s exit=%s", crossings[0].EntrySide, crossings[0].ExitSide)
			}
			if crossings[0].Direction != domain.DirectionIn {
				t.Errorf("LEFT->RIGHT should map to IN, got %s", crossings[0].Direction)
			}
		})
	}
}

func TestTrackLossPurgesState(t *testing.T) {
	c := mustCounter(t, bandConfig())
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	c.ProcessFrame(frameAt(ts, boxAt(1, 100, 250), boxAt(2, 200, 250)))
	if got := c.ActiveTracks(); got != 2 {
		t.Fatalf("expected 2 active tracks, got %d", got)
	}
	c.ProcessFrame(frameAt(ts.Add(100*time.Millisecond), boxAt(1, 100, 255)))
	if got := c.ActiveTracks(); got != 1 {
		t.Errorf("expected lost track purged, got %d active", got)
	}

	// a track lost while inside the band must not count on reappearance
	c.ProcessFrame(frameAt(ts.Add(200*time.Millisecond), boxAt(1, 100, 300)))
	c.ProcessFrame(frameAt(ts.Add(300 * time.Millisecond)))
	got := c.ProcessFrame(frameAt(ts.Add(400*time.Millisecond), boxAt(1, 100, 350)))
	if len(got) != 0 {
		t.Errorf("reappearing track counted without a full traversal, got %d crossings", len(got))
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "DIAGONAL" }},
		{"zero band height", func(c *Config) { c.GateHeight = 0 }},
		{"zero min frames", func(c *Config) { c.MinFramesInGate = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := bandConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Errorf("expected config error for %s", tc.name)
			}
		})
	}

	t.Run("coincident line endpoints", func(t *testing.T) {
		cfg := bandConfig()
		cfg.Mode = ModeLineBand
		cfg.P1 = domain.Point{X: 5, Y: 5}
		cfg.P2 = domain.Point{X: 5, Y: 5}
		cfg.Thickness = 20
		if _, err := New(cfg); err == nil {
			t.Error("expected error for coincident endpoints")
		}
	})
}
