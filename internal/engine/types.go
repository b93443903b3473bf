package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"indoornav/internal/arrival"
	"indoornav/internal/building"
	"indoornav/internal/deadreckon"
	"indoornav/internal/floor"
)

// Sensor is a bit set of sensor streams.
type Sensor uint8

const (
	SensorHeading Sensor = 1 << iota
	SensorAltitude
	SensorMotion

	AllSensors = SensorHeading | SensorAltitude | SensorMotion
)

func (s Sensor) String() string {
	var names []string
	if s&SensorHeading != 0 {
		names = append(names, "heading")
	}
	if s&SensorAltitude != 0 {
		names = append(names, "altitude")
	}
	if s&SensorMotion != 0 {
		names = append(names, "motion")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

func ParseSensor(name string) (Sensor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "heading", "compass", "magnetometer":
		return SensorHeading, nil
	case "altitude", "altimeter", "baro":
		return SensorAltitude, nil
	case "motion", "accel", "accelerometer":
		return SensorMotion, nil
	}
	return 0, fmt.Errorf("engine: unknown sensor %q", name)
}

type Mode int

const (
	ModeIdle Mode = iota
	ModeLive
	ModeCapturing
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeCapturing:
		return "capturing"
	}
	return "idle"
}

func (m Mode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "idle":
		*m = ModeIdle
	case "live":
		*m = ModeLive
	case "capturing":
		*m = ModeCapturing
	default:
		return fmt.Errorf("engine: unknown mode %q", s)
	}
	return nil
}

// Position is the user's location in the building frame.
type Position = building.Point

type Destination struct {
	X          float64 `json:"x" yaml:"x"`
	Y          float64 `json:"y" yaml:"y"`
	FloorLevel int     `json:"floor" yaml:"floor"`
	Title      string  `json:"title" yaml:"title"`
	Subtitle   string  `json:"subtitle,omitempty" yaml:"subtitle"`
}

func (d Destination) Point() building.Point {
	return building.Point{X: d.X, Y: d.Y, FloorLevel: d.FloorLevel}
}

// Label is "Title (Subtitle)", or just Title.
func (d Destination) Label() string {
	if d.Subtitle == "" {
		return d.Title
	}
	return fmt.Sprintf("%s (%s)", d.Title, d.Subtitle)
}

// AltitudeSample is a relative altitude in meters. A non-empty Err reports
// that the altimeter failed; the altitude stream stops until sensors restart.
type AltitudeSample struct {
	RelativeM float64 `json:"relative_m"`
	Err       string  `json:"error,omitempty"`
}

// MotionSample is a raw acceleration with the device attitude at the time of
// the sample, row-major. An all-zero Attitude means the identity.
type MotionSample struct {
	Accel    deadreckon.Vector `json:"accel"`
	Attitude [9]float64        `json:"attitude"`
}

type TargetKind string

const (
	TargetDestination TargetKind = "destination"
	TargetStaircase   TargetKind = "staircase"
)

// Target is what the user should walk toward on the current floor. Off the
// destination floor it is the nearest staircase and Direction says which way
// to go.
type Target struct {
	Kind      TargetKind      `json:"kind"`
	Point     building.Point  `json:"point"`
	Direction floor.Direction `json:"direction"`
}

type SensorStatus struct {
	Active      bool   `json:"active"`
	Unavailable bool   `json:"unavailable"`
	Samples     uint64 `json:"samples"`
}

type SensorsSnapshot struct {
	Heading  SensorStatus `json:"heading"`
	Altitude SensorStatus `json:"altitude"`
	Motion   SensorStatus `json:"motion"`
}

type Snapshot struct {
	SessionID   string             `json:"session_id,omitempty"`
	Mode        Mode               `json:"mode"`
	Building    *building.Building `json:"building,omitempty"`
	Position    Position           `json:"position"`
	FloorName   string             `json:"floor_name,omitempty"`
	Destination *Destination       `json:"destination,omitempty"`
	Target      *Target            `json:"target,omitempty"`
	Arrival     arrival.Status     `json:"arrival"`

	OrientationRad float64 `json:"orientation_rad"`
	TrueHeadingDeg float64 `json:"true_heading_deg"`
	HeadingValid   bool    `json:"heading_valid"`

	FloorState   string            `json:"floor_state"`
	Advisory     floor.Direction   `json:"advisory"`
	RelativeAltM float64           `json:"relative_alt_m"`
	Velocity     deadreckon.Vector `json:"velocity"`

	Sensors SensorsSnapshot `json:"sensors"`
	Steps   uint64          `json:"steps"`
	Dropped uint64          `json:"dropped"`
	// EventsMissed counts events subscribers did not receive because
	// their buffers were full.
	EventsMissed uint64 `json:"events_missed"`

	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EventKind string

const (
	EventSessionStarted      EventKind = "session_started"
	EventSessionEnded        EventKind = "session_ended"
	EventSensorsStarted      EventKind = "sensors_started"
	EventSensorsStopped      EventKind = "sensors_stopped"
	EventSensorUnavailable   EventKind = "sensor_unavailable"
	EventPosition            EventKind = "position"
	EventAdvisory            EventKind = "advisory"
	EventFloorChanged        EventKind = "floor_changed"
	EventVicinity            EventKind = "vicinity"
	EventArrived             EventKind = "arrived"
	EventCaptureStarted      EventKind = "capture_started"
	EventCaptureStopped      EventKind = "capture_stopped"
	EventRecalibrated        EventKind = "recalibrated"
	EventRecalibrationFailed EventKind = "recalibration_failed"
)

// Event is emitted by the engine for renderers and UIs. Only the fields
// relevant to Kind are set.
type Event struct {
	Seq       uint64          `json:"seq"`
	Kind      EventKind       `json:"kind"`
	At        time.Time       `json:"at"`
	SessionID string          `json:"session_id,omitempty"`
	Position  *Position       `json:"position,omitempty"`
	Floor     int             `json:"floor,omitempty"`
	FloorName string          `json:"floor_name,omitempty"`
	Direction floor.Direction `json:"direction,omitempty"`
	Hint      arrival.Hint    `json:"hint,omitempty"`
	Sensor    string          `json:"sensor,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}
