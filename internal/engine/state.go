package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"indoornav/internal/arrival"
	"indoornav/internal/building"
	"indoornav/internal/deadreckon"
	"indoornav/internal/floor"
	"indoornav/internal/heading"
	"indoornav/internal/recal"
)

// session is everything created by BeginSession and destroyed by EndSession
// or the next BeginSession.
type session struct {
	id    string
	dest  Destination
	bld   building.Building
	pos   Position
	shown arrival.Session

	heading *heading.Tracker
	floor   *floor.Tracker
	filter  *deadreckon.Filter
	integ   *deadreckon.Integrator
	target  *Target
	status  arrival.Status
}

// state is the engine core. It is owned by a single goroutine and is not
// safe for concurrent use.
type state struct {
	cfg      Config
	store    Store
	resolver *recal.Resolver
	log      *slog.Logger
	emitFn   func(Event)

	ctx context.Context

	mode    Mode
	sess    *session
	active  Sensor
	samples [3]uint64
	steps   uint64
	seq     uint64
	lastErr string
}

func newState(cfg Config, store Store, emit func(Event)) *state {
	if emit == nil {
		emit = func(Event) {}
	}
	return &state{
		cfg:      cfg,
		store:    store,
		resolver: recal.NewResolver(store),
		log:      cfg.Logger,
		emitFn:   emit,
		ctx:      context.Background(),
	}
}

func (s *state) emit(ev Event) {
	s.seq++
	ev.Seq = s.seq
	ev.At = s.cfg.Clock()
	if s.sess != nil && ev.SessionID == "" {
		ev.SessionID = s.sess.id
	}
	s.emitFn(ev)
}

func (s *state) fail(err error) error {
	s.lastErr = err.Error()
	return err
}

func (s *state) beginSession(ctx context.Context, start Position, dest Destination) error {
	b, err := s.store.CurrentBuilding(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("engine: current building: %w", err))
	}
	if err := b.Validate(); err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	if start.FloorLevel < 1 || start.FloorLevel > b.Floors {
		return s.fail(fmt.Errorf("%w: start floor %d outside 1..%d", ErrInvalidArgument, start.FloorLevel, b.Floors))
	}
	if dest.FloorLevel < 1 || dest.FloorLevel > b.Floors {
		return s.fail(fmt.Errorf("%w: destination floor %d outside 1..%d", ErrInvalidArgument, dest.FloorLevel, b.Floors))
	}

	ft, err := floor.NewTracker(floor.Config{
		TotalFloors:      b.Floors,
		Delta:            b.AltitudeDelta,
		AdvisoryFraction: s.cfg.AdvisoryFraction,
	}, start.FloorLevel)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}

	if s.sess != nil {
		s.teardown()
	}

	s.sess = &session{
		id:      uuid.NewString(),
		dest:    dest,
		bld:     b,
		pos:     start,
		heading: heading.NewTracker(b.RotationOffset),
		floor:   ft,
		filter:  deadreckon.NewFilter(s.cfg.Params),
		integ:   deadreckon.NewIntegrator(s.cfg.Params),
	}
	s.samples = [3]uint64{}
	s.steps = 0
	s.lastErr = ""
	s.recomputeTarget(ctx)

	s.log.Info("session started",
		"session", s.sess.id,
		"building", b.Alias,
		"floor", start.FloorLevel,
		"destination", dest.Label(),
		"destination_floor", dest.FloorLevel,
	)
	p := s.sess.pos
	s.emit(Event{Kind: EventSessionStarted, Position: &p, Floor: p.FloorLevel, FloorName: s.floorName(p.FloorLevel), Message: dest.Label()})
	s.evaluateArrival()
	return nil
}

func (s *state) endSession() error {
	if s.sess == nil {
		return ErrNoSession
	}
	s.teardown()
	return nil
}

// teardown stops whatever is running and drops the session.
func (s *state) teardown() {
	switch s.mode {
	case ModeLive:
		s.stopSensors()
	case ModeCapturing:
		s.stopCapture()
	}
	id := s.sess.id
	s.emit(Event{Kind: EventSessionEnded})
	s.log.Info("session ended", "session", id)
	s.sess = nil
}

func (s *state) startSensors() error {
	if s.sess == nil {
		return ErrNoSession
	}
	switch s.mode {
	case ModeLive:
		return nil
	case ModeCapturing:
		return s.fail(fmt.Errorf("%w: recalibration capture is active", ErrInvalidSessionState))
	}

	s.mode = ModeLive
	s.active = AllSensors &^ s.cfg.Unavailable
	s.sess.filter.Reset()
	s.sess.integ.Reset()
	s.sess.floor.Restart()
	s.sess.floor.SetActive(s.active&SensorAltitude != 0)

	for _, sn := range []Sensor{SensorHeading, SensorAltitude, SensorMotion} {
		if s.cfg.Unavailable&sn != 0 {
			s.log.Warn("sensor unavailable", "session", s.sess.id, "sensor", sn.String())
			s.emit(Event{Kind: EventSensorUnavailable, Sensor: sn.String(), Error: ErrSensorUnavailable.Error()})
		}
	}
	s.log.Info("sensors started", "session", s.sess.id, "active", s.active.String())
	s.emit(Event{Kind: EventSensorsStarted, Sensor: s.active.String()})
	return nil
}

func (s *state) stopSensors() {
	if s.mode != ModeLive {
		return
	}
	s.mode = ModeIdle
	s.active = 0
	s.log.Info("sensors stopped", "session", s.sess.id)
	s.emit(Event{Kind: EventSensorsStopped})
}

func (s *state) startCapture() error {
	if s.sess == nil {
		return ErrNoSession
	}
	if s.mode == ModeCapturing {
		return s.fail(fmt.Errorf("%w: recalibration capture already active", ErrInvalidSessionState))
	}
	// No sample queued after this point reaches the dead-reckoning path.
	s.stopSensors()
	s.mode = ModeCapturing
	s.log.Info("recalibration capture started", "session", s.sess.id)
	s.emit(Event{Kind: EventCaptureStarted})
	return nil
}

func (s *state) stopCapture() {
	if s.mode != ModeCapturing {
		return
	}
	s.mode = ModeIdle
	s.log.Info("recalibration capture stopped", "session", s.sess.id)
	s.emit(Event{Kind: EventCaptureStopped})
}

func (s *state) recalibrate(ctx context.Context, payload string) (recal.Result, error) {
	if s.sess == nil {
		return recal.Result{}, ErrNoSession
	}
	if s.mode != ModeCapturing {
		return recal.Result{}, s.fail(fmt.Errorf("%w: recalibrate requires an active capture (mode %s)", ErrInvalidSessionState, s.mode))
	}

	res, err := s.resolver.Resolve(ctx, payload, s.sess.bld, s.sess.pos.FloorLevel)
	if err != nil {
		s.lastErr = err.Error()
		s.log.Warn("recalibration failed", "session", s.sess.id, "err", err)
		s.emit(Event{Kind: EventRecalibrationFailed, Message: recal.FailureMessage(err), Error: err.Error()})
		return recal.Result{}, err
	}

	sess := s.sess
	sess.pos = res.Position
	sess.floor.Reset(res.Position.FloorLevel)
	sess.filter.Reset()
	sess.integ.Reset()
	sess.shown.Reset()
	s.recomputeTarget(ctx)

	s.log.Info("recalibrated",
		"session", sess.id,
		"marker", res.Marker.URL,
		"floor", res.Position.FloorLevel,
		"floor_changed", res.FloorChanged,
	)
	p := sess.pos
	s.emit(Event{Kind: EventRecalibrated, Position: &p, Floor: p.FloorLevel, FloorName: s.floorName(p.FloorLevel), Message: res.Message})
	if res.FloorChanged {
		dir := floor.Up
		if p.FloorLevel < res.PreviousFloor {
			dir = floor.Down
		}
		s.emit(Event{Kind: EventFloorChanged, Position: &p, Floor: p.FloorLevel, FloorName: s.floorName(p.FloorLevel), Direction: dir})
	}

	s.stopCapture()
	s.evaluateArrival()
	if s.cfg.ResumeAfterRecalibration {
		if err := s.startSensors(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *state) onHeading(deg float64) {
	if !s.accepting(SensorHeading) {
		return
	}
	s.samples[0]++
	s.sess.heading.Update(deg)
}

func (s *state) onAltitude(a AltitudeSample) {
	if !s.accepting(SensorAltitude) {
		return
	}
	s.samples[1]++
	sess := s.sess

	if a.Err != "" {
		s.active &^= SensorAltitude
		sess.floor.SetActive(false)
		s.lastErr = "altitude: " + a.Err
		s.log.Warn("altitude stream stopped", "session", sess.id, "err", a.Err)
		s.emit(Event{Kind: EventSensorUnavailable, Sensor: SensorAltitude.String(), Error: a.Err})
		return
	}

	r := sess.floor.Update(a.RelativeM)
	if r.AdvisoryChanged && !r.Committed {
		s.log.Debug("floor advisory", "session", sess.id, "state", r.State.String(), "relative_m", a.RelativeM)
		s.emit(Event{Kind: EventAdvisory, Direction: r.Advisory, Floor: sess.pos.FloorLevel})
	}
	if !r.Committed {
		return
	}

	sess.pos.FloorLevel = r.Level
	// The altitude source was re-baselined; velocity integrated against the
	// old floor must not carry over.
	sess.filter.Reset()
	sess.integ.Reset()
	sess.shown.Reset()
	s.recomputeTarget(s.ctx)

	s.log.Info("floor changed", "session", sess.id, "floor", r.Level, "direction", r.Direction.String())
	p := sess.pos
	s.emit(Event{Kind: EventFloorChanged, Position: &p, Floor: r.Level, FloorName: s.floorName(r.Level), Direction: r.Direction})
	s.evaluateArrival()
}

func (s *state) onMotion(m MotionSample) {
	if !s.accepting(SensorMotion) {
		return
	}
	s.samples[2]++
	sess := s.sess

	a := deadreckon.Rotate(m.Attitude, m.Accel)
	f := sess.filter.Filter(a)
	fx, fy := sess.heading.Forward()
	dx, dy, moved := sess.integ.Integrate(f, fx, fy)
	if !moved {
		return
	}
	sess.pos.X += dx
	sess.pos.Y += dy
	s.steps++
	p := sess.pos
	s.emit(Event{Kind: EventPosition, Position: &p, Floor: p.FloorLevel})
	s.evaluateArrival()
}

func (s *state) accepting(sn Sensor) bool {
	return s.sess != nil && s.mode == ModeLive && s.active&sn != 0
}

func (s *state) evaluateArrival() {
	sess := s.sess
	dest := sess.dest.Point()
	sess.status = arrival.Evaluate(sess.pos, dest, s.cfg.Radii)
	arrived, vicinity := sess.shown.Observe(sess.status)
	if !arrived && !vicinity {
		return
	}
	orientation, _ := sess.heading.Orientation()
	hint := arrival.LeftOrRight(orientation, sess.bld.RotationOffset, sess.pos, dest)
	p := sess.pos
	if arrived {
		s.log.Info("arrived", "session", sess.id, "destination", sess.dest.Label())
		s.emit(Event{Kind: EventArrived, Position: &p, Floor: p.FloorLevel, Hint: hint, Message: sess.dest.Label()})
	}
	if vicinity {
		s.log.Info("destination nearby", "session", sess.id, "hint", string(hint))
		msg := fmt.Sprintf("%s is nearby. Your destination is on your %s.", sess.dest.Label(), hint)
		s.emit(Event{Kind: EventVicinity, Position: &p, Floor: p.FloorLevel, Hint: hint, Message: msg})
	}
}

func (s *state) recomputeTarget(ctx context.Context) {
	sess := s.sess
	dest := sess.dest.Point()
	if sess.pos.FloorLevel == dest.FloorLevel {
		sess.target = &Target{Kind: TargetDestination, Point: dest}
		return
	}
	dir := floor.Up
	if dest.FloorLevel < sess.pos.FloorLevel {
		dir = floor.Down
	}
	stairs, err := s.store.Staircases(ctx, sess.bld.Alias, sess.pos.FloorLevel)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("staircase lookup failed", "session", sess.id, "floor", sess.pos.FloorLevel, "err", err)
	}
	if p, ok := arrival.NearestPoint(sess.pos, stairs); ok {
		sess.target = &Target{Kind: TargetStaircase, Point: p, Direction: dir}
		return
	}
	sess.target = &Target{Kind: TargetDestination, Point: dest, Direction: dir}
}

func (s *state) floorName(level int) string {
	if s.sess == nil {
		return ""
	}
	return building.Ordinal(level, s.sess.bld.HasLGF, false)
}

func (s *state) snapshot(dropped uint64, now time.Time) Snapshot {
	snap := Snapshot{
		Mode:       s.mode,
		FloorState: floor.Stable.String(),
		Steps:      s.steps,
		Dropped:    dropped,
		LastError:  s.lastErr,
		UpdatedAt:  now,
	}
	status := func(sn Sensor, i int) SensorStatus {
		return SensorStatus{
			Active:      s.active&sn != 0,
			Unavailable: s.cfg.Unavailable&sn != 0,
			Samples:     s.samples[i],
		}
	}
	snap.Sensors = SensorsSnapshot{
		Heading:  status(SensorHeading, 0),
		Altitude: status(SensorAltitude, 1),
		Motion:   status(SensorMotion, 2),
	}
	sess := s.sess
	if sess == nil {
		return snap
	}
	b := sess.bld
	dest := sess.dest
	snap.SessionID = sess.id
	snap.Building = &b
	snap.Position = sess.pos
	snap.FloorName = s.floorName(sess.pos.FloorLevel)
	snap.Destination = &dest
	if sess.target != nil {
		t := *sess.target
		snap.Target = &t
	}
	snap.Arrival = sess.status
	if o, ok := sess.heading.Orientation(); ok {
		snap.OrientationRad = o
		snap.TrueHeadingDeg = heading.TrueHeadingDeg(o, b.RotationOffset)
		snap.HeadingValid = true
	}
	snap.FloorState = sess.floor.State().String()
	snap.Advisory, _ = sess.floor.Advisory()
	snap.RelativeAltM = sess.floor.Relative()
	snap.Velocity = sess.integ.Velocity()
	return snap
}
