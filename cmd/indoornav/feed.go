package main

import (
	"context"
	"log/slog"
	"time"

	"indoornav/internal/engine"
	"indoornav/internal/floor"
	"indoornav/internal/recal"
	"indoornav/internal/replay"
	"indoornav/internal/web"
)

// navigator is the engine surface the feeds and the web UI use.
type navigator = web.Navigator

// ctxSleeper makes replay waits cancellable.
type ctxSleeper struct {
	ctx context.Context
}

func (s ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-t.C:
	}
}

func runFeed(ctx context.Context, recs []replay.Record, speed float64, loop bool, sleeper replay.Sleeper, nav navigator, log *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return replay.Play(recs, speed, loop, sleeper, func(rec replay.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		applyRecord(ctx, nav, rec, log)
		return nil
	})
}

// applyRecord feeds one sensor log record into the engine. Scans run the
// full capture and recalibrate sequence.
func applyRecord(ctx context.Context, nav navigator, rec replay.Record, log *slog.Logger) {
	switch rec.Kind {
	case replay.KindHeading:
		nav.PushHeading(rec.Value)
	case replay.KindAltitude:
		nav.PushAltitude(engine.AltitudeSample{RelativeM: rec.Value})
	case replay.KindAltErr:
		nav.PushAltitude(engine.AltitudeSample{Err: rec.Text})
	case replay.KindBaro:
		nav.PushAltitude(engine.AltitudeSample{RelativeM: floor.PressureToAltitude(rec.Value)})
	case replay.KindMotion:
		m := engine.MotionSample{Accel: engineVector(rec.Accel)}
		copy(m.Attitude[:], rec.Attitude)
		nav.PushMotion(m)
	case replay.KindScan:
		scan(ctx, nav, rec.Text, log)
	}
}

func scan(ctx context.Context, nav navigator, payload string, log *slog.Logger) {
	if err := nav.StartRecalibrationCapture(ctx); err != nil {
		log.Warn("scan ignored", "payload", payload, "err", err)
		return
	}
	res, err := nav.Recalibrate(ctx, payload)
	if err == nil {
		log.Info("scan applied", "payload", payload, "floor", res.Position.FloorLevel)
		return
	}
	log.Warn("scan rejected", "payload", payload, "err", err, "message", recal.FailureMessage(err))
	if err := nav.StopRecalibrationCapture(ctx); err != nil {
		log.Warn("capture stop failed", "err", err)
		return
	}
	if err := nav.StartSensors(ctx); err != nil {
		log.Warn("sensor restart failed", "err", err)
	}
}
