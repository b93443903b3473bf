package sim

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"indoornav/internal/floor"
	"indoornav/internal/replay"
)

// WalkScript is a deterministic, script-driven indoor walk.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe or scan time.
//
// YAML schema (v1):
//
//	version: 1
//	rate_hz: 60
//	duration: 20s
//	pressure: false        # emit baro records instead of relative altitude
//	attitude: [1,0,0, 0,1,0, 0,0,1]
//	keyframes:
//	  - t: 0s
//	    heading_deg: 90
//	    altitude_m: 0
//	    accel: [0.3, 0, 0.1]
//	scans:
//	  - t: 12s
//	    payload: "MAIN::3::room-301"
//	altitude_errors:
//	  - t: 15s
//	    message: "sensor offline"
//
// Keyframes must use non-decreasing t values.
type WalkScript struct {
	Version  int           `yaml:"version"`
	RateHz   float64       `yaml:"rate_hz"`
	Duration time.Duration `yaml:"duration"`
	Pressure bool          `yaml:"pressure"`
	Attitude []float64     `yaml:"attitude"`

	Keyframes      []Keyframe      `yaml:"keyframes"`
	Scans          []ScanEvent     `yaml:"scans"`
	AltitudeErrors []AltitudeError `yaml:"altitude_errors"`
}

// Keyframe is a time-stamped device state.
type Keyframe struct {
	T          time.Duration `yaml:"t"`
	HeadingDeg float64       `yaml:"heading_deg"`
	AltitudeM  float64       `yaml:"altitude_m"`
	Accel      []float64     `yaml:"accel"`
}

type ScanEvent struct {
	T       time.Duration `yaml:"t"`
	Payload string        `yaml:"payload"`
}

type AltitudeError struct {
	T       time.Duration `yaml:"t"`
	Message string        `yaml:"message"`
}

// Walk is the validated, runtime representation.
type Walk struct {
	script   WalkScript
	duration time.Duration
	period   time.Duration
}

// WalkState is the interpolated device state at a time.
type WalkState struct {
	HeadingDeg float64
	AltitudeM  float64
	Accel      [3]float64
}

// LoadWalkScript reads and unmarshals a YAML walk script from path.
func LoadWalkScript(path string) (WalkScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return WalkScript{}, err
	}
	return ParseWalkScriptYAML(b)
}

// ParseWalkScriptYAML parses a YAML walk script.
func ParseWalkScriptYAML(b []byte) (WalkScript, error) {
	var s WalkScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return WalkScript{}, err
	}
	return s, nil
}

// NewWalk validates script and returns a runtime Walk.
func NewWalk(script WalkScript) (*Walk, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported walk script version %d", script.Version)
	}
	if script.RateHz == 0 {
		script.RateHz = 60
	}
	if script.RateHz < 0 || script.RateHz > 1000 {
		return nil, fmt.Errorf("rate_hz must be in (0,1000]")
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	if n := len(script.Attitude); n != 0 && n != 9 {
		return nil, fmt.Errorf("attitude must have 9 values, got %d", n)
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if n := len(kf.Accel); n != 0 && n != 3 {
			return nil, fmt.Errorf("keyframes[%d].accel must have 3 values, got %d", i, n)
		}
	}
	for i, sc := range script.Scans {
		if sc.T < 0 {
			return nil, fmt.Errorf("scans[%d].t must be >= 0", i)
		}
		if strings.TrimSpace(sc.Payload) == "" {
			return nil, fmt.Errorf("scans[%d].payload is required", i)
		}
	}
	for i, ae := range script.AltitudeErrors {
		if ae.T < 0 {
			return nil, fmt.Errorf("altitude_errors[%d].t must be >= 0", i)
		}
		if strings.TrimSpace(ae.Message) == "" {
			return nil, fmt.Errorf("altitude_errors[%d].message is required", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = maxEventTime(script)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}

	period := time.Duration(float64(time.Second) / script.RateHz)
	return &Walk{script: script, duration: dur, period: period}, nil
}

func (w *Walk) Duration() time.Duration {
	if w == nil {
		return 0
	}
	return w.duration
}

// StateAt computes the device state at elapsed, clamped to [0, Duration()].
func (w *Walk) StateAt(elapsed time.Duration) WalkState {
	if w == nil {
		return WalkState{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > w.duration {
		elapsed = w.duration
	}

	k0, k1, alpha := selectSegment(w.script.Keyframes, elapsed)
	st := WalkState{
		HeadingDeg: lerpAngleDeg(k0.HeadingDeg, k1.HeadingDeg, alpha),
		AltitudeM:  lerp(k0.AltitudeM, k1.AltitudeM, alpha),
	}
	a0, a1 := accelOf(k0), accelOf(k1)
	for i := range st.Accel {
		st.Accel[i] = lerp(a0[i], a1[i], alpha)
	}
	return st
}

// Records renders the walk as a sensor log: a START marker, then heading,
// altitude (or pressure) and motion samples at rate_hz, with scans and
// altitude errors merged in time order.
func (w *Walk) Records() []replay.Record {
	if w == nil {
		return nil
	}
	n := int(w.duration/w.period) + 1
	out := make([]replay.Record, 0, 1+3*n+len(w.script.Scans)+len(w.script.AltitudeErrors))
	out = append(out, replay.Start(0))

	var attitude []float64
	if len(w.script.Attitude) == 9 {
		attitude = append([]float64(nil), w.script.Attitude...)
	}
	for i := 0; i < n; i++ {
		at := time.Duration(i) * w.period
		st := w.StateAt(at)
		out = append(out, replay.Heading(at, st.HeadingDeg))
		if w.script.Pressure {
			out = append(out, replay.Pressure(at, floor.AltitudeToPressure(st.AltitudeM)))
		} else {
			out = append(out, replay.Altitude(at, st.AltitudeM))
		}
		out = append(out, replay.Motion(at, st.Accel, attitude))
	}
	for _, sc := range w.script.Scans {
		out = append(out, replay.Scan(sc.T, sc.Payload))
	}
	for _, ae := range w.script.AltitudeErrors {
		out = append(out, replay.AltitudeError(ae.T, ae.Message))
	}

	// START stays first since it sorts at 0 and is stable.
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// Generate validates script and renders its records.
func Generate(script WalkScript) ([]replay.Record, error) {
	w, err := NewWalk(script)
	if err != nil {
		return nil, err
	}
	return w.Records(), nil
}

func accelOf(kf Keyframe) [3]float64 {
	var a [3]float64
	copy(a[:], kf.Accel)
	return a
}

func maxEventTime(s WalkScript) time.Duration {
	max := time.Duration(0)
	for _, kf := range s.Keyframes {
		if kf.T > max {
			max = kf.T
		}
	}
	for _, sc := range s.Scans {
		if sc.T > max {
			max = sc.T
		}
	}
	for _, ae := range s.AltitudeErrors {
		if ae.T > max {
			max = ae.T
		}
	}
	return max
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpAngleDeg(a0, a1, t float64) float64 {
	// Shortest-path interpolation across wraparound.
	norm := func(x float64) float64 {
		for x < 0 {
			x += 360
		}
		for x >= 360 {
			x -= 360
		}
		return x
	}
	a0 = norm(a0)
	a1 = norm(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return norm(a0 + delta*t)
}
