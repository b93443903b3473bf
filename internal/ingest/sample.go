// Package ingest decodes JSON sensor samples and forwards them to the engine.
// The same message shape is accepted on the sensors websocket and on the
// NDJSON TCP link.
package ingest

import (
	"encoding/json"
	"fmt"

	"indoornav/internal/deadreckon"
	"indoornav/internal/engine"
	"indoornav/internal/floor"
)

// Sink receives decoded samples. The push methods report false when the
// sample was dropped.
type Sink interface {
	PushHeading(deg float64) bool
	PushAltitude(a engine.AltitudeSample) bool
	PushMotion(m engine.MotionSample) bool
}

// Sample is one sensor message.
//
//	{"type":"heading","deg":90}
//	{"type":"altitude","relative_m":1.2}
//	{"type":"altitude","error":"sensor offline"}
//	{"type":"pressure","pa":101300}
//	{"type":"motion","accel":{"x":0.1,"y":0,"z":0},"attitude":[1,0,0,0,1,0,0,0,1]}
type Sample struct {
	Type      string             `json:"type"`
	Deg       *float64           `json:"deg,omitempty"`
	RelativeM *float64           `json:"relative_m,omitempty"`
	Error     string             `json:"error,omitempty"`
	Pa        *float64           `json:"pa,omitempty"`
	Accel     *deadreckon.Vector `json:"accel,omitempty"`
	Attitude  []float64          `json:"attitude,omitempty"`
}

func Decode(raw []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(raw, &s); err != nil {
		return Sample{}, fmt.Errorf("invalid json: %w", err)
	}
	return s, nil
}

// Apply validates s and forwards it to sink. The bool is the sink's result.
func Apply(sink Sink, s Sample) (bool, error) {
	switch s.Type {
	case "heading":
		if s.Deg == nil {
			return false, fmt.Errorf("heading requires deg")
		}
		return sink.PushHeading(*s.Deg), nil
	case "altitude":
		if s.Error != "" {
			return sink.PushAltitude(engine.AltitudeSample{Err: s.Error}), nil
		}
		if s.RelativeM == nil {
			return false, fmt.Errorf("altitude requires relative_m or error")
		}
		return sink.PushAltitude(engine.AltitudeSample{RelativeM: *s.RelativeM}), nil
	case "pressure":
		if s.Pa == nil || *s.Pa <= 0 {
			return false, fmt.Errorf("pressure requires pa > 0")
		}
		return sink.PushAltitude(engine.AltitudeSample{RelativeM: floor.PressureToAltitude(*s.Pa)}), nil
	case "motion":
		if s.Accel == nil {
			return false, fmt.Errorf("motion requires accel")
		}
		var att [9]float64
		switch len(s.Attitude) {
		case 0:
		case 9:
			copy(att[:], s.Attitude)
		default:
			return false, fmt.Errorf("attitude must have 9 values, got %d", len(s.Attitude))
		}
		return sink.PushMotion(engine.MotionSample{Accel: *s.Accel, Attitude: att}), nil
	default:
		return false, fmt.Errorf("unknown sample type %q", s.Type)
	}
}
