package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"indoornav/internal/arrival"
	"indoornav/internal/config"
	"indoornav/internal/engine"
	"indoornav/internal/ingest"
	"indoornav/internal/logging"
	"indoornav/internal/markerstore"
	"indoornav/internal/replay"
	"indoornav/internal/sim"
	"indoornav/internal/udp"
	"indoornav/internal/web"
)

type runtime struct {
	cfg    config.Config
	log    *slog.Logger
	tail   *logging.Tail
	status *web.Status

	store    *markerstore.Store
	eng      *engine.Engine
	nav      navigator
	recorder *replay.Writer
	sender   *udp.Sender
	link     *ingest.Client
}

// engineConfig maps the YAML engine section onto engine.Config.
func engineConfig(c config.EngineConfig) (engine.Config, error) {
	var unavailable engine.Sensor
	for _, name := range c.Unavailable {
		s, err := engine.ParseSensor(name)
		if err != nil {
			return engine.Config{}, err
		}
		unavailable |= s
	}
	resume := true
	if c.ResumeAfterRecalibration != nil {
		resume = *c.ResumeAfterRecalibration
	}
	return engine.Config{
		Params:                   c.Params(),
		AdvisoryFraction:         c.AdvisoryFraction,
		Radii:                    arrival.Radii{Arrived: c.ArrivedRadius, Vicinity: c.VicinityRadius},
		QueueSize:                c.QueueSize,
		ResumeAfterRecalibration: resume,
		Unavailable:              unavailable,
		Logger:                   logging.Component("engine"),
	}, nil
}

func newRuntime(ctx context.Context, cfg config.Config, tail *logging.Tail) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	ecfg, err := engineConfig(c.Engine)
	if err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:    c,
		log:    logging.Component("runtime"),
		tail:   tail,
		status: web.NewStatus(),
	}

	store, err := markerstore.Open(c.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.store = store
	if c.Store.Seed != "" {
		if err := store.SeedFromFile(ctx, c.Store.Seed); err != nil {
			r.Close()
			return nil, fmt.Errorf("seed store: %w", err)
		}
		r.log.Info("store seeded", "path", c.Store.Seed)
	}
	if c.Store.Building != "" {
		if err := store.SetCurrentBuilding(ctx, c.Store.Building); err != nil {
			r.Close()
			return nil, fmt.Errorf("select building: %w", err)
		}
	}

	r.eng = engine.New(ecfg, store)
	if err := r.eng.Start(ctx); err != nil {
		r.Close()
		return nil, err
	}
	r.nav = r.eng

	if c.Feed.Record.Enable {
		w, err := replay.CreateWriter(c.Feed.Record.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create record log: %w", err)
		}
		r.recorder = w
		r.nav = &recordingNav{Engine: r.eng, w: w, log: r.log}
		r.log.Info("recording sensor input", "path", c.Feed.Record.Path)
	}

	if c.Output.UDPDest != "" {
		s, err := udp.NewSender(c.Output.UDPDest)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("udp sender: %w", err)
		}
		r.sender = s
	}
	if c.Feed.TCP.Enable {
		link, err := ingest.NewClient(ingest.ClientConfig{Addr: c.Feed.TCP.Addr, ReconnectDelay: c.Feed.TCP.ReconnectDelay})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("sensor link: %w", err)
		}
		r.link = link
		r.status.SetLink(link.Snapshot)
	}
	r.status.SetStatic(r.feedName(), c.Output.UDPDest)

	if s := c.Session; s.Start != nil && s.Destination != nil {
		start := engine.Position{X: s.Start.X, Y: s.Start.Y, FloorLevel: s.Start.Floor}
		dest := engine.Destination{
			X: s.Destination.X, Y: s.Destination.Y, FloorLevel: s.Destination.Floor,
			Title: s.Destination.Title, Subtitle: s.Destination.Subtitle,
		}
		if err := r.eng.BeginSession(ctx, start, dest); err != nil {
			r.Close()
			return nil, fmt.Errorf("begin session: %w", err)
		}
		if err := r.eng.StartSensors(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("start sensors: %w", err)
		}
	}
	return r, nil
}

func (r *runtime) feedName() string {
	switch {
	case r.cfg.Feed.Replay.Enable:
		return "replay"
	case r.cfg.Feed.Sim.Enable:
		return "sim"
	case r.cfg.Feed.TCP.Enable:
		return "tcp"
	}
	return "live"
}

// loadFeed returns the records, speed and loop flag of the configured
// replay or sim feed. It returns no records for live input.
func loadFeed(cfg config.Config) ([]replay.Record, float64, bool, error) {
	switch {
	case cfg.Feed.Replay.Enable:
		recs, err := replay.ReadFile(cfg.Feed.Replay.Path)
		if err != nil {
			return nil, 0, false, fmt.Errorf("read replay log: %w", err)
		}
		return recs, cfg.Feed.Replay.Speed, cfg.Feed.Replay.Loop, nil
	case cfg.Feed.Sim.Enable:
		script, err := sim.LoadWalkScript(cfg.Feed.Sim.Path)
		if err != nil {
			return nil, 0, false, fmt.Errorf("load walk script: %w", err)
		}
		recs, err := sim.Generate(script)
		if err != nil {
			return nil, 0, false, fmt.Errorf("walk script %s: %w", cfg.Feed.Sim.Path, err)
		}
		return recs, cfg.Feed.Sim.Speed, false, nil
	}
	return nil, 0, false, nil
}

// Run serves until ctx is cancelled or a component fails. A finished
// replay or sim feed does not stop the process.
func (r *runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	if r.cfg.Web.Enable {
		go func() {
			r.log.Info("web listening", "addr", r.cfg.Web.Listen)
			err := web.Serve(ctx, r.cfg.Web.Listen, web.Options{
				Nav:    r.nav,
				Status: r.status,
				Logs:   r.tail,
				Log:    logging.Component("web"),
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("web: %w", err)
			}
		}()
	}

	if r.sender != nil {
		go r.sender.Stream(ctx, 100*time.Millisecond, r.eng.Snapshot, logging.Component("udp"))
	}

	if r.link != nil {
		if err := r.link.Start(ctx, r.nav); err != nil {
			return fmt.Errorf("sensor link: %w", err)
		}
		r.log.Info("sensor link started", "addr", r.cfg.Feed.TCP.Addr)
	}

	recs, speed, loop, err := loadFeed(r.cfg)
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		go func() {
			err := runFeed(ctx, recs, speed, loop, ctxSleeper{ctx: ctx}, r.nav, r.log)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("feed: %w", err)
				return
			}
			if ctx.Err() == nil {
				r.log.Info("feed finished", "feed", r.feedName(), "records", len(recs))
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	if r.link != nil {
		r.link.Close()
	}
	if r.eng != nil {
		r.eng.Close()
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			r.log.Warn("record log close failed", "err", err)
		}
	}
	if r.sender != nil {
		_ = r.sender.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}
