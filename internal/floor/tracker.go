// Package floor detects floor changes from relative barometric altitude.
package floor

import (
	"encoding/json"
	"fmt"
)

type Direction int

const (
	None Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "none"
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "up":
		*d = Up
	case "down":
		*d = Down
	case "none", "":
		*d = None
	default:
		return fmt.Errorf("floor: unknown direction %q", s)
	}
	return nil
}

type State int

const (
	Stable State = iota
	RisingAdvisory
	FallingAdvisory
)

func (s State) String() string {
	switch s {
	case RisingAdvisory:
		return "rising"
	case FallingAdvisory:
		return "falling"
	}
	return "stable"
}

type Config struct {
	TotalFloors int
	// Delta is the altitude change, in meters, between adjacent floors.
	Delta float64
	// AdvisoryFraction of Delta raises the "changing floor" advisory.
	AdvisoryFraction float64
}

// Result describes what a single altitude sample did to the tracker.
type Result struct {
	State           State
	Advisory        Direction
	AdvisoryChanged bool
	Committed       bool
	Direction       Direction
	Level           int
}

// Tracker is a hysteresis state machine: crossing AdvisoryFraction*Delta
// raises an advisory, falling back below it cancels, and reaching the full
// Delta commits the floor change and re-baselines the altitude to zero.
//
// The advisory is visible exactly while the state is not Stable.
type Tracker struct {
	cfg Config

	level    int
	state    State
	baseline float64
	relative float64
	pending  bool
	active   bool
}

func NewTracker(cfg Config, level int) (*Tracker, error) {
	if cfg.TotalFloors < 1 {
		return nil, fmt.Errorf("floor: total floors must be >= 1")
	}
	if cfg.Delta <= 0 {
		return nil, fmt.Errorf("floor: delta must be > 0")
	}
	if cfg.AdvisoryFraction <= 0 || cfg.AdvisoryFraction >= 1 {
		cfg.AdvisoryFraction = 0.6
	}
	t := &Tracker{cfg: cfg, active: true}
	t.level = t.clamp(level)
	return t, nil
}

// Update feeds one altitude sample, relative to an arbitrary origin that is
// stable until the next Restart.
func (t *Tracker) Update(raw float64) Result {
	if !t.active {
		return t.result(Stable)
	}
	if t.pending {
		t.baseline = raw
		t.relative = 0
		t.pending = false
		return t.result(t.state)
	}

	prev := t.state
	rel := raw - t.baseline
	t.relative = rel
	threshold := t.cfg.Delta * t.cfg.AdvisoryFraction

	if t.state == Stable {
		if rel >= threshold && t.level < t.cfg.TotalFloors {
			t.state = RisingAdvisory
		} else if rel <= -threshold && t.level > 1 {
			t.state = FallingAdvisory
		}
	}

	switch t.state {
	case RisingAdvisory:
		if rel < threshold {
			t.state = Stable
		}
	case FallingAdvisory:
		if rel > -threshold {
			t.state = Stable
		}
	}

	res := t.result(prev)
	switch {
	case t.state == RisingAdvisory && rel >= t.cfg.Delta:
		t.commit(raw, 1)
		res = t.result(prev)
		res.Committed = true
		res.Direction = Up
	case t.state == FallingAdvisory && rel <= -t.cfg.Delta:
		t.commit(raw, -1)
		res = t.result(prev)
		res.Committed = true
		res.Direction = Down
	}
	return res
}

func (t *Tracker) commit(raw float64, step int) {
	t.level = t.clamp(t.level + step)
	t.baseline = raw
	t.relative = 0
	t.state = Stable
}

func (t *Tracker) result(prev State) Result {
	return Result{
		State:           t.state,
		Advisory:        advisoryFor(t.state),
		AdvisoryChanged: prev != t.state,
		Level:           t.level,
	}
}

// Restart marks the altitude stream as restarted; the next sample becomes the
// new zero. Any pending advisory is dropped.
func (t *Tracker) Restart() {
	t.state = Stable
	t.relative = 0
	t.pending = true
}

// Reset moves the tracker to level (clamped) and restarts the baseline.
func (t *Tracker) Reset(level int) {
	t.level = t.clamp(level)
	t.baseline = 0
	t.Restart()
}

// SetActive enables or disables the tracker. An inactive tracker ignores
// samples and stays Stable; it is how an unavailable altimeter is modeled.
func (t *Tracker) SetActive(v bool) {
	t.active = v
	if !v {
		t.state = Stable
	}
}

func (t *Tracker) Level() int        { return t.level }
func (t *Tracker) State() State      { return t.state }
func (t *Tracker) Relative() float64 { return t.relative }
func (t *Tracker) Baseline() float64 { return t.baseline }

// Advisory returns the pending floor-change direction, if any.
func (t *Tracker) Advisory() (Direction, bool) {
	d := advisoryFor(t.state)
	return d, d != None
}

func (t *Tracker) clamp(level int) int {
	if level < 1 {
		return 1
	}
	if level > t.cfg.TotalFloors {
		return t.cfg.TotalFloors
	}
	return level
}

func advisoryFor(s State) Direction {
	switch s {
	case RisingAdvisory:
		return Up
	case FallingAdvisory:
		return Down
	}
	return None
}
