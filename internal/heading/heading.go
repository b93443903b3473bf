// Package heading resolves magnetic compass headings into the orientation of
// the user marker in the building frame.
package heading

import "math"

// Tracker holds the building rotation offset and the last resolved
// orientation. Orientation is in radians, counter-clockwise positive, with
// zero facing the building's +Y axis.
type Tracker struct {
	offsetDeg float64

	rawDeg      float64
	orientation float64
	have        bool
}

func NewTracker(rotationOffsetDeg float64) *Tracker {
	return &Tracker{offsetDeg: rotationOffsetDeg}
}

// Update resolves a raw magnetic heading (degrees clockwise from magnetic
// north) and returns the new orientation.
func (t *Tracker) Update(rawDeg float64) float64 {
	t.rawDeg = rawDeg
	t.orientation = Orientation(rawDeg, t.offsetDeg)
	t.have = true
	return t.orientation
}

// Orientation returns the last resolved orientation and whether any heading
// has been seen since the tracker was created.
func (t *Tracker) Orientation() (float64, bool) {
	return t.orientation, t.have
}

// RawDeg returns the last raw heading.
func (t *Tracker) RawDeg() float64 { return t.rawDeg }

// OffsetDeg returns the building rotation offset.
func (t *Tracker) OffsetDeg() float64 { return t.offsetDeg }

// Forward returns the unit vector the user faces.
func (t *Tracker) Forward() (x, y float64) {
	return Forward(t.orientation)
}

// Orientation maps a heading into the building frame:
// -(offset + heading), in radians, wrapped to (-pi, pi].
func Orientation(rawDeg, offsetDeg float64) float64 {
	return WrapRad(-(offsetDeg + rawDeg) * math.Pi / 180)
}

// Forward rotates the +Y axis by orientation.
func Forward(orientation float64) (x, y float64) {
	s, c := math.Sincos(orientation)
	return -s, c
}

// TrueHeadingDeg recovers the building-relative heading in [0, 360) from an
// orientation.
func TrueHeadingDeg(orientation, offsetDeg float64) float64 {
	return NormalizeDeg(-orientation*180/math.Pi - offsetDeg)
}

// NormalizeDeg wraps degrees into [0, 360).
func NormalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	// Mod can leave -0 or round a tiny negative up to 360.
	if d >= 360 {
		d -= 360
	}
	return d
}

// WrapRad wraps radians into (-pi, pi].
func WrapRad(r float64) float64 {
	r = math.Mod(r, 2*math.Pi)
	if r <= -math.Pi {
		r += 2 * math.Pi
	} else if r > math.Pi {
		r -= 2 * math.Pi
	}
	return r
}
