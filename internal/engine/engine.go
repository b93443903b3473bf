// Package engine is the navigation engine: it owns the position, floor and
// heading state for one navigation session and serializes every sensor
// sample and control request through a single goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"indoornav/internal/arrival"
	"indoornav/internal/building"
	"indoornav/internal/deadreckon"
	"indoornav/internal/floor"
	"indoornav/internal/logging"
	"indoornav/internal/recal"
)

// Store is what the engine needs from the marker/building store.
type Store interface {
	recal.Store
	CurrentBuilding(ctx context.Context) (building.Building, error)
	Staircases(ctx context.Context, alias string, floor int) ([]building.Point, error)
}

type Config struct {
	Params           deadreckon.Params
	AdvisoryFraction float64
	Radii            arrival.Radii

	// QueueSize bounds the inbox shared by sensor samples and control calls.
	QueueSize int

	ResumeAfterRecalibration bool

	// Unavailable lists streams the host cannot provide.
	Unavailable Sensor

	Logger *slog.Logger
	Clock  func() time.Time
}

func (c Config) withDefaults() Config {
	c.Params = c.Params.WithDefaults()
	if c.AdvisoryFraction <= 0 || c.AdvisoryFraction >= 1 {
		c.AdvisoryFraction = 0.6
	}
	if c.Radii.Arrived <= 0 {
		c.Radii.Arrived = arrival.DefaultArrivedRadius
	}
	if c.Radii.Vicinity <= 0 {
		c.Radii.Vicinity = arrival.DefaultVicinityRadius
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.Logger == nil {
		c.Logger = logging.Component("engine")
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type msgKind int

const (
	msgHeading msgKind = iota
	msgAltitude
	msgMotion
	msgBeginSession
	msgEndSession
	msgStartSensors
	msgStopSensors
	msgStartCapture
	msgStopCapture
	msgRecalibrate
)

type message struct {
	kind msgKind

	heading  float64
	altitude AltitudeSample
	motion   MotionSample

	start   Position
	dest    Destination
	payload string

	ctx   context.Context
	reply chan reply
}

type reply struct {
	res recal.Result
	err error
}

type Engine struct {
	cfg   Config
	store Store
	log   *slog.Logger

	inbox chan message
	bcast *Broadcaster

	mu   sync.RWMutex
	snap Snapshot

	dropped      atomic.Uint64
	lastDropWarn atomic.Int64

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func New(cfg Config, store Store) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		store:  store,
		log:    cfg.Logger,
		inbox:  make(chan message, cfg.QueueSize),
		bcast:  NewBroadcaster(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	e.snap = newState(cfg, store, nil).snapshot(0, cfg.Clock())
	return e
}

// Start launches the run loop. It stops when ctx is cancelled or Close is
// called.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("engine: engine is nil")
	}
	if ctx == nil {
		return fmt.Errorf("engine: ctx is nil")
	}
	if e.store == nil {
		return fmt.Errorf("engine: store is nil")
	}
	if err := e.cfg.Params.Validate(); err != nil {
		return err
	}
	err := fmt.Errorf("engine: already started")
	e.startOnce.Do(func() {
		err = nil
		e.started.Store(true)
		go e.run(ctx)
	})
	return err
}

// Close stops the run loop and waits for it to exit. Subscriber channels are
// closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.started.Load() {
		<-e.doneCh
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

func (e *Engine) CurrentPosition() Position { return e.Snapshot().Position }

func (e *Engine) CurrentFloor() int { return e.Snapshot().Position.FloorLevel }

// FloorChangeAdvisory returns the pending floor-change direction, if any.
func (e *Engine) FloorChangeAdvisory() (floor.Direction, bool) {
	d := e.Snapshot().Advisory
	return d, d != floor.None
}

func (e *Engine) Subscribe(buffer int) (int, <-chan Event) { return e.bcast.Subscribe(buffer) }

func (e *Engine) Unsubscribe(id int) { e.bcast.Unsubscribe(id) }

// Dropped counts sensor samples discarded because the inbox was full.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

func (e *Engine) BeginSession(ctx context.Context, start Position, dest Destination) error {
	_, err := e.call(ctx, message{kind: msgBeginSession, start: start, dest: dest})
	return err
}

func (e *Engine) EndSession(ctx context.Context) error {
	_, err := e.call(ctx, message{kind: msgEndSession})
	return err
}

func (e *Engine) StartSensors(ctx context.Context) error {
	_, err := e.call(ctx, message{kind: msgStartSensors})
	return err
}

func (e *Engine) StopSensors(ctx context.Context) error {
	_, err := e.call(ctx, message{kind: msgStopSensors})
	return err
}

// StartRecalibrationCapture stops the sensor streams and enters capture
// mode. Once it returns, no sensor sample is applied until sensors are
// started again.
func (e *Engine) StartRecalibrationCapture(ctx context.Context) error {
	_, err := e.call(ctx, message{kind: msgStartCapture})
	return err
}

func (e *Engine) StopRecalibrationCapture(ctx context.Context) error {
	_, err := e.call(ctx, message{kind: msgStopCapture})
	return err
}

// Recalibrate resolves a scanned marker payload and, on success, overwrites
// the position and floor. It requires capture mode; on failure capture stays
// active so the caller can retry or cancel.
func (e *Engine) Recalibrate(ctx context.Context, payload string) (recal.Result, error) {
	r, err := e.call(ctx, message{kind: msgRecalibrate, payload: payload})
	return r.res, err
}

// PushHeading queues a magnetic heading in degrees. It never blocks; it
// returns false if the sample was dropped.
func (e *Engine) PushHeading(deg float64) bool {
	return e.push(message{kind: msgHeading, heading: deg})
}

func (e *Engine) PushAltitude(a AltitudeSample) bool {
	return e.push(message{kind: msgAltitude, altitude: a})
}

func (e *Engine) PushMotion(m MotionSample) bool {
	return e.push(message{kind: msgMotion, motion: m})
}

func (e *Engine) push(m message) bool {
	select {
	case <-e.stopCh:
		return false
	default:
	}
	select {
	case e.inbox <- m:
		return true
	default:
	}
	n := e.dropped.Add(1)
	now := time.Now().UnixNano()
	last := e.lastDropWarn.Load()
	if now-last >= int64(time.Second) && e.lastDropWarn.CompareAndSwap(last, now) {
		e.log.Warn("sensor queue full, dropping samples", "dropped_total", n)
	}
	return false
}

func (e *Engine) call(ctx context.Context, m message) (reply, error) {
	if e == nil {
		return reply{}, fmt.Errorf("engine: engine is nil")
	}
	if ctx == nil {
		return reply{}, fmt.Errorf("engine: ctx is nil")
	}
	if !e.started.Load() {
		return reply{}, ErrNotStarted
	}
	m.ctx = ctx
	m.reply = make(chan reply, 1)
	select {
	case e.inbox <- m:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.stopCh:
		return reply{}, ErrClosed
	}
	select {
	case r := <-m.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.stopCh:
		return reply{}, ErrClosed
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)
	defer e.bcast.CloseAll()

	st := newState(e.cfg, e.store, e.bcast.Publish)
	st.ctx = ctx
	e.log.Debug("engine started")

	for {
		select {
		case <-ctx.Done():
			e.stopOnce.Do(func() { close(e.stopCh) })
			return
		case <-e.stopCh:
			return
		case m := <-e.inbox:
			r := e.handle(st, m)
			// Publish before replying so a caller sees its own change.
			e.publish(st)
			if m.reply != nil {
				m.reply <- r
			}
		}
	}
}

func (e *Engine) handle(st *state, m message) reply {
	var r reply
	switch m.kind {
	case msgHeading:
		st.onHeading(m.heading)
	case msgAltitude:
		st.onAltitude(m.altitude)
	case msgMotion:
		st.onMotion(m.motion)
	case msgBeginSession:
		r.err = st.beginSession(m.ctx, m.start, m.dest)
	case msgEndSession:
		r.err = st.endSession()
	case msgStartSensors:
		r.err = st.startSensors()
	case msgStopSensors:
		st.stopSensors()
	case msgStartCapture:
		r.err = st.startCapture()
	case msgStopCapture:
		st.stopCapture()
	case msgRecalibrate:
		r.res, r.err = st.recalibrate(m.ctx, m.payload)
	default:
		r.err = fmt.Errorf("engine: unknown message kind %d", m.kind)
	}
	return r
}

func (e *Engine) publish(st *state) {
	snap := st.snapshot(e.dropped.Load(), e.cfg.Clock())
	snap.EventsMissed = e.bcast.Missed()
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
}
