package domain

import "time"

// Point is a pixel coordinate in the camera plane.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TrackBox is one tracked rectangle reported by the external tracker.
type TrackBox struct {
	ID int64   `json:"id"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BottomCenter is the anchor point used for gate decisions; for a person box
// it approximates the feet.
func (b TrackBox) BottomCenter() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// Frame is one tracker update: every live track at one instant.
type Frame struct {
	TS       time.Time  `json:"ts"`
	CameraID string     `json:"camera_id"`
	Tracks   []TrackBox `json:"tracks"`
}
