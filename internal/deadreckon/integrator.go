package deadreckon

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// windowLen is the Simpson 3/8 window: four samples, three intervals.
const windowLen = 4

var simpsonWeights = []float64{1, 3, 3, 1}

// Integrator accumulates velocity from filtered acceleration and emits a
// step along the current heading while the user is moving.
//
// Velocity is only ever cleared by the stationary heuristic: once any axis
// has reported exactly zero acceleration for ZeroVelocitySamples samples in a
// row, all velocity sums and zero counters are cleared.
type Integrator struct {
	p     Params
	scale float64

	window   [3][windowLen]float64
	count    int
	velocity [3]float64
	zeroRun  [3]int
}

func NewIntegrator(p Params) *Integrator {
	p = p.WithDefaults()
	return &Integrator{
		p:     p,
		scale: (4.0 / 8.0) * (1.0 / p.SampleRateHz),
	}
}

// Integrate feeds one filtered sample. forwardX/forwardY is the unit vector
// the user faces. When the velocity estimate shows planar movement it returns
// the displacement to apply and true.
func (in *Integrator) Integrate(a Vector, forwardX, forwardY float64) (dx, dy float64, moved bool) {
	axes := [3]float64{a.X, a.Y, a.Z}

	slot := in.count % windowLen
	for i, v := range axes {
		in.window[i][slot] = v
	}
	if slot == windowLen-1 {
		for i := range in.velocity {
			in.velocity[i] += in.scale * floats.Dot(simpsonWeights, in.window[i][:])
		}
	}
	in.count = (slot + 1) % windowLen

	stationary := false
	for i, v := range axes {
		if v == 0 {
			in.zeroRun[i]++
		} else {
			in.zeroRun[i] = 0
		}
		if in.zeroRun[i] >= in.p.ZeroVelocitySamples {
			stationary = true
		}
	}
	if stationary {
		in.velocity = [3]float64{}
		in.zeroRun = [3]int{}
	}

	vx, vy := in.velocity[0], in.velocity[1]
	if math.Abs(vx) <= in.p.MoveThreshold && math.Abs(vy) <= in.p.MoveThreshold {
		return 0, 0, false
	}
	step := in.StepLength()
	return forwardX * step, forwardY * step, true
}

// StepLength maps the current speed estimate to a capped planar step.
func (in *Integrator) StepLength() float64 {
	speed := math.Sqrt(in.velocity[0]*in.velocity[0] + in.velocity[1]*in.velocity[1] + in.velocity[2]*in.velocity[2])
	step := (speed * in.p.SpeedScale) / in.p.StepDivisor
	if step > in.p.MaxStep {
		step = in.p.MaxStep
	}
	return step
}

// Velocity returns the running velocity sums.
func (in *Integrator) Velocity() Vector {
	return Vector{X: in.velocity[0], Y: in.velocity[1], Z: in.velocity[2]}
}

// Reset clears the window, the counters and the velocity sums.
func (in *Integrator) Reset() {
	in.window = [3][windowLen]float64{}
	in.count = 0
	in.velocity = [3]float64{}
	in.zeroRun = [3]int{}
}
