package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"indoornav/internal/deadreckon"
	"indoornav/internal/engine"
	"indoornav/internal/recal"
	"indoornav/internal/replay"
)

// recordingNav forwards to the engine and appends every sensor sample and
// scan to a sensor log.
type recordingNav struct {
	*engine.Engine
	w        *replay.Writer
	log      *slog.Logger
	failures atomic.Uint64
}

func (n *recordingNav) record(rec replay.Record) {
	if err := n.w.Write(time.Now(), rec); err != nil {
		// Warn on the first failure and every 100th after.
		if n.failures.Add(1)%100 == 1 {
			n.log.Warn("record write failed", "err", err)
		}
	}
}

func (n *recordingNav) PushHeading(deg float64) bool {
	n.record(replay.Heading(0, deg))
	return n.Engine.PushHeading(deg)
}

func (n *recordingNav) PushAltitude(a engine.AltitudeSample) bool {
	if a.Err != "" {
		n.record(replay.AltitudeError(0, a.Err))
	} else {
		n.record(replay.Altitude(0, a.RelativeM))
	}
	return n.Engine.PushAltitude(a)
}

func (n *recordingNav) PushMotion(m engine.MotionSample) bool {
	var attitude []float64
	if m.Attitude != ([9]float64{}) {
		attitude = m.Attitude[:]
	}
	n.record(replay.Motion(0, [3]float64{m.Accel.X, m.Accel.Y, m.Accel.Z}, attitude))
	return n.Engine.PushMotion(m)
}

func (n *recordingNav) Recalibrate(ctx context.Context, payload string) (recal.Result, error) {
	n.record(replay.Scan(0, payload))
	return n.Engine.Recalibrate(ctx, payload)
}

func engineVector(a [3]float64) deadreckon.Vector {
	return deadreckon.Vector{X: a[0], Y: a[1], Z: a[2]}
}
