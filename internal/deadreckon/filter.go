package deadreckon

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vector is a 3-axis acceleration or velocity in the building frame.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Filter is a fixed-coefficient per-axis low-pass with a zero deadband.
//
// The first sample after a reset seeds the state as if the signal had been
// constant before it (the leading edge is mirrored), so there is no ramp-up
// from zero.
type Filter struct {
	alpha    float64
	deadband float64

	state  Vector
	primed bool
}

func NewFilter(p Params) *Filter {
	p = p.WithDefaults()
	dt := 1.0 / p.SampleRateHz
	rc := 1.0 / (2 * math.Pi * p.CutoffHz)
	return &Filter{
		alpha:    dt / (dt + rc),
		deadband: p.Deadband,
	}
}

// Filter feeds one raw sample and returns the smoothed, deadbanded value.
func (f *Filter) Filter(raw Vector) Vector {
	if !f.primed {
		f.state = raw
		f.primed = true
	} else {
		f.state.X += f.alpha * (raw.X - f.state.X)
		f.state.Y += f.alpha * (raw.Y - f.state.Y)
		f.state.Z += f.alpha * (raw.Z - f.state.Z)
	}
	return Vector{
		X: f.snap(f.state.X),
		Y: f.snap(f.state.Y),
		Z: f.snap(f.state.Z),
	}
}

// Reset drops the smoothed state; the next sample re-seeds it.
func (f *Filter) Reset() {
	f.state = Vector{}
	f.primed = false
}

func (f *Filter) snap(v float64) float64 {
	if math.Abs(v) < f.deadband {
		return 0
	}
	return v
}

// Rotate applies a row-major 3x3 attitude matrix to a device-frame
// acceleration. An all-zero matrix means no attitude was reported and a is
// returned unchanged.
func Rotate(r [9]float64, a Vector) Vector {
	if r == ([9]float64{}) {
		return a
	}
	m := mat.NewDense(3, 3, r[:])
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{a.X, a.Y, a.Z}))
	return Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}
