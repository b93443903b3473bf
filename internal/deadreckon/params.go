// Package deadreckon turns filtered device acceleration into planar step
// displacements.
//
// The step model is empirical drift control tuned for handheld walking, not
// physical inertial navigation; its constants live in Params so deployments
// can retune them without touching the integrator.
package deadreckon

import "fmt"

// Params holds the motion filter and integrator tuning.
type Params struct {
	// Motion filter.
	SampleRateHz float64
	CutoffHz     float64
	Deadband     float64

	// Integrator.
	ZeroVelocitySamples int
	MoveThreshold       float64
	SpeedScale          float64
	StepDivisor         float64
	MaxStep             float64
}

// DefaultParams returns the tuning the engine ships with.
func DefaultParams() Params {
	return Params{
		SampleRateHz:        60,
		CutoffHz:            3,
		Deadband:            0.03,
		ZeroVelocitySamples: 20,
		MoveThreshold:       0.012,
		SpeedScale:          1.0 / 6.0,
		StepDivisor:         10,
		MaxStep:             0.00063,
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.SampleRateHz <= 0 {
		p.SampleRateHz = d.SampleRateHz
	}
	if p.CutoffHz <= 0 {
		p.CutoffHz = d.CutoffHz
	}
	if p.Deadband <= 0 {
		p.Deadband = d.Deadband
	}
	if p.ZeroVelocitySamples <= 0 {
		p.ZeroVelocitySamples = d.ZeroVelocitySamples
	}
	if p.MoveThreshold <= 0 {
		p.MoveThreshold = d.MoveThreshold
	}
	if p.SpeedScale <= 0 {
		p.SpeedScale = d.SpeedScale
	}
	if p.StepDivisor <= 0 {
		p.StepDivisor = d.StepDivisor
	}
	if p.MaxStep <= 0 {
		p.MaxStep = d.MaxStep
	}
	return p
}

// Validate rejects parameter sets the filter or integrator cannot run with.
func (p Params) Validate() error {
	if p.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be > 0")
	}
	if p.CutoffHz <= 0 || p.CutoffHz >= p.SampleRateHz/2 {
		return fmt.Errorf("cutoff_hz must be in (0, sample_rate_hz/2)")
	}
	if p.Deadband < 0 {
		return fmt.Errorf("deadband must be >= 0")
	}
	if p.ZeroVelocitySamples < 1 {
		return fmt.Errorf("zero_velocity_samples must be >= 1")
	}
	if p.StepDivisor <= 0 {
		return fmt.Errorf("step_divisor must be > 0")
	}
	if p.MaxStep <= 0 {
		return fmt.Errorf("max_step must be > 0")
	}
	return nil
}
