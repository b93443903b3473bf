package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"indoornav/internal/deadreckon"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Engine  EngineConfig  `yaml:"engine"`
	Feed    FeedConfig    `yaml:"feed"`
	Web     WebConfig     `yaml:"web"`
	Output  OutputConfig  `yaml:"output"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	TailLines int    `yaml:"tail_lines"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// Seed is an optional YAML building file loaded at startup.
	Seed     string `yaml:"seed"`
	Building string `yaml:"building"`
}

type PointConfig struct {
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Floor int     `yaml:"floor"`
}

type DestinationConfig struct {
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Floor    int     `yaml:"floor"`
	Title    string  `yaml:"title"`
	Subtitle string  `yaml:"subtitle"`
}

// SessionConfig optionally starts a navigation session at boot.
type SessionConfig struct {
	Start       *PointConfig       `yaml:"start"`
	Destination *DestinationConfig `yaml:"destination"`
}

type EngineConfig struct {
	SampleRateHz        float64 `yaml:"sample_rate_hz"`
	CutoffHz            float64 `yaml:"cutoff_hz"`
	Deadband            float64 `yaml:"deadband"`
	ZeroVelocitySamples int     `yaml:"zero_velocity_samples"`
	MoveThreshold       float64 `yaml:"move_threshold"`
	SpeedScale          float64 `yaml:"speed_scale"`
	StepDivisor         float64 `yaml:"step_divisor"`
	MaxStep             float64 `yaml:"max_step"`

	AdvisoryFraction float64 `yaml:"advisory_fraction"`
	ArrivedRadius    float64 `yaml:"arrived_radius"`
	VicinityRadius   float64 `yaml:"vicinity_radius"`
	QueueSize        int     `yaml:"queue_size"`

	// ResumeAfterRecalibration defaults to true when omitted.
	ResumeAfterRecalibration *bool    `yaml:"resume_after_recalibration"`
	Unavailable              []string `yaml:"unavailable"`
}

// Params converts the tuning fields to deadreckon.Params.
func (e EngineConfig) Params() deadreckon.Params {
	return deadreckon.Params{
		SampleRateHz:        e.SampleRateHz,
		CutoffHz:            e.CutoffHz,
		Deadband:            e.Deadband,
		ZeroVelocitySamples: e.ZeroVelocitySamples,
		MoveThreshold:       e.MoveThreshold,
		SpeedScale:          e.SpeedScale,
		StepDivisor:         e.StepDivisor,
		MaxStep:             e.MaxStep,
	}
}

type FeedConfig struct {
	Replay ReplayConfig `yaml:"replay"`
	Sim    SimConfig    `yaml:"sim"`
	Record RecordConfig `yaml:"record"`
	TCP    TCPConfig    `yaml:"tcp"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type SimConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
}

// TCPConfig dials a sensor bridge that streams NDJSON samples.
type TCPConfig struct {
	Enable         bool          `yaml:"enable"`
	Addr           string        `yaml:"addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type OutputConfig struct {
	// UDPDest receives JSON snapshots, e.g. "127.0.0.1:4100". Empty disables.
	UDPDest string `yaml:"udp_dest"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and rejects inconsistent
// settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if cfg.Log.TailLines <= 0 {
		cfg.Log.TailLines = 2000
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}

	if err := defaultEngine(&cfg.Engine); err != nil {
		return err
	}

	if s := cfg.Session; s.Start != nil || s.Destination != nil {
		if s.Start == nil || s.Destination == nil {
			return fmt.Errorf("session.start and session.destination must be set together")
		}
		if s.Start.Floor < 1 || s.Destination.Floor < 1 {
			return fmt.Errorf("session floors must be >= 1")
		}
	}

	f := &cfg.Feed
	if f.Replay.Enable && f.Sim.Enable {
		return fmt.Errorf("feed.replay and feed.sim cannot both be enabled")
	}
	if f.Replay.Enable {
		if f.Replay.Path == "" {
			return fmt.Errorf("feed.replay.path is required when feed.replay.enable is true")
		}
		if f.Replay.Speed == 0 {
			f.Replay.Speed = 1
		}
		if f.Replay.Speed < 0 {
			return fmt.Errorf("feed.replay.speed must be > 0")
		}
	}
	if f.Sim.Enable {
		if f.Sim.Path == "" {
			return fmt.Errorf("feed.sim.path is required when feed.sim.enable is true")
		}
		if f.Sim.Speed == 0 {
			f.Sim.Speed = 1
		}
		if f.Sim.Speed < 0 {
			return fmt.Errorf("feed.sim.speed must be > 0")
		}
	}
	if f.Record.Enable {
		if f.Record.Path == "" {
			return fmt.Errorf("feed.record.path is required when feed.record.enable is true")
		}
		if f.Replay.Enable {
			return fmt.Errorf("feed.record and feed.replay cannot both be enabled")
		}
	}

	if f.TCP.Enable {
		if f.TCP.Addr == "" {
			return fmt.Errorf("feed.tcp.addr is required when feed.tcp.enable is true")
		}
		if f.Replay.Enable || f.Sim.Enable {
			return fmt.Errorf("feed.tcp cannot be combined with feed.replay or feed.sim")
		}
		if f.TCP.ReconnectDelay < 0 {
			return fmt.Errorf("feed.tcp.reconnect_delay must be >= 0")
		}
		if f.TCP.ReconnectDelay == 0 {
			f.TCP.ReconnectDelay = time.Second
		}
	}

	if cfg.Web.Enable && cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}

func defaultEngine(e *EngineConfig) error {
	d := deadreckon.DefaultParams()
	if e.SampleRateHz <= 0 {
		e.SampleRateHz = d.SampleRateHz
	}
	if e.CutoffHz <= 0 {
		e.CutoffHz = d.CutoffHz
	}
	if e.Deadband <= 0 {
		e.Deadband = d.Deadband
	}
	if e.ZeroVelocitySamples <= 0 {
		e.ZeroVelocitySamples = d.ZeroVelocitySamples
	}
	if e.MoveThreshold <= 0 {
		e.MoveThreshold = d.MoveThreshold
	}
	if e.SpeedScale <= 0 {
		e.SpeedScale = d.SpeedScale
	}
	if e.StepDivisor <= 0 {
		e.StepDivisor = d.StepDivisor
	}
	if e.MaxStep <= 0 {
		e.MaxStep = d.MaxStep
	}
	if err := e.Params().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if e.AdvisoryFraction == 0 {
		e.AdvisoryFraction = 0.6
	}
	if e.AdvisoryFraction <= 0 || e.AdvisoryFraction >= 1 {
		return fmt.Errorf("engine.advisory_fraction must be in (0,1)")
	}
	if e.ArrivedRadius <= 0 {
		e.ArrivedRadius = 0.04
	}
	if e.VicinityRadius <= 0 {
		e.VicinityRadius = 0.17
	}
	if e.ArrivedRadius > e.VicinityRadius {
		return fmt.Errorf("engine.arrived_radius must be <= engine.vicinity_radius")
	}
	if e.QueueSize <= 0 {
		e.QueueSize = 512
	}
	if e.ResumeAfterRecalibration == nil {
		v := true
		e.ResumeAfterRecalibration = &v
	}
	for _, name := range e.Unavailable {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "heading", "altitude", "motion":
		default:
			return fmt.Errorf("engine.unavailable: unknown sensor %q", name)
		}
	}
	return nil
}
