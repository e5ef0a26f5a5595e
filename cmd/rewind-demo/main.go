// Command rewind-demo runs an authority and a follower in one process,
// connected by a lossy in-memory link. The follower predicts a mover ahead of
// the authority, the clock sync controllers steer its clock, and the
// authority's states are periodically reconciled back into the follower's
// timeline.
//
// The loopback link carries the clock sync frames; input packs and state
// corrections are handed over in-process, as transporting game payloads is
// the embedding application's concern.
package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/lxshades/rewind"
	"github.com/lxshades/rewind/clocksync"
	"github.com/lxshades/rewind/examples/mover"
	"github.com/lxshades/rewind/internal/timemath"
	"github.com/lxshades/rewind/timeline"
	"github.com/lxshades/rewind/transport"
)

const (
	frameRate    = 120.0
	duration     = 12.0
	followerSkew = 3.7
)

func main() {
	log := slog.Default()
	conf, err := rewind.ReadConfig("rewind.toml")
	if err != nil {
		log.Error("Load config.", "err", err)
		os.Exit(1)
	}
	set := conf.TimelineSettings(log)

	authTL := timeline.New(set)
	followTL := timeline.New(set)
	authMover, followMover := mover.NewMover(), mover.NewMover()
	authEnt, err := timeline.Add[mover.Input, mover.State](authTL, "player", 0, authMover)
	if err != nil {
		log.Error("Add authority entity.", "err", err)
		os.Exit(1)
	}
	followEnt, err := timeline.Add[mover.Input, mover.State](followTL, "player", 0, followMover)
	if err != nil {
		log.Error("Add follower entity.", "err", err)
		os.Exit(1)
	}

	authCS := clocksync.NewController(clocksync.RoleAuthority, conf.ClockSyncConfig(log))
	followCS := clocksync.NewController(clocksync.RoleFollower, conf.ClockSyncConfig(log))
	followerID := uuid.New()

	now := 0.0
	authEnd, followEnd := transport.NewLoopback(transport.LoopbackConfig{
		DropRate: 0.1,
		Latency:  0.05,
		Jitter:   0.02,
		Seed:     1,
		Now:      func() float64 { return now },
	})
	defer authEnd.Close()

	dt := 1 / frameRate
	frames := int(duration * frameRate)
	var lastReport, lastReconcile, lastPack float64

	for frame := 0; frame <= frames; frame++ {
		now = float64(frame) * dt
		authLocal, followLocal := now, now+followerSkew

		for _, out := range followCS.Update(followLocal) {
			_ = followEnd.Send(out.Frame)
		}
		for _, out := range authCS.Update(authLocal) {
			_ = authEnd.Send(out.Frame)
		}
		for {
			buf, ok := authEnd.Receive()
			if !ok {
				break
			}
			if err := authCS.Handle(buf, followerID, authLocal); err != nil {
				log.Debug("Drop bad frame.", "err", err)
			}
		}
		for {
			buf, ok := followEnd.Receive()
			if !ok {
				break
			}
			if err := followCS.Handle(buf, uuid.Nil, followLocal); err != nil {
				log.Debug("Drop bad frame.", "err", err)
			}
		}

		// The follower samples its input at game time, predicts forward and
		// periodically ships its recent inputs to the authority.
		gameTime := followCS.GameTime(followLocal)
		followEnt.InsertQuantizedInput(scriptedInput(gameTime), gameTime)
		followTL.Seek(gameTime, 0)

		if now-lastPack >= 0.1 {
			lastPack = now
			authEnt.InsertInputPack(followEnt.MakeInputPack(0.5))
		}
		authTL.Seek(authCS.GameTime(authLocal), 0)

		// Once a second the authority's recent confirmed state corrects the
		// follower's history, which replays its prediction on top.
		if now-lastReconcile >= 1 && now > 2 {
			lastReconcile = now
			t := timemath.Stable(authTL.PlaybackTime()-0.2, set.FixedTickRate)
			if i, ok := authEnt.States().ClosestIndexBefore(t, timemath.Tolerance); ok {
				st, _ := authEnt.States().Value(i)
				at, _ := authEnt.States().Time(i)
				followEnt.Reconcile(st, at)
			}
		}

		if now-lastReport >= 1 {
			lastReport = now
			ap, fp := authMover.Pos(), followMover.Pos()
			log.Info("Step.",
				"t", fmt.Sprintf("%.2f", now),
				"authPos", fmt.Sprintf("(%.2f, %.2f)", ap.X(), ap.Z()),
				"followPos", fmt.Sprintf("(%.2f, %.2f)", fp.X(), fp.Z()),
				"autoOffset", fmt.Sprintf("%.3f", followCS.AutoOffset()),
				"samples", followCS.SampleCount(),
				"landings", followMover.Landings,
			)
		}
	}

	if math.Abs(followCS.AutoOffset()+followerSkew) > 1 {
		log.Warn("Follower clock did not converge.", "autoOffset", followCS.AutoOffset())
	}
	log.Info("Done.", "autoOffset", followCS.AutoOffset(), "remaining", followCS.RemainingAdjustment())
}

// scriptedInput generates a deterministic input pattern: a drifting movement
// direction with a jump every other second.
func scriptedInput(t float64) mover.Input {
	return mover.Input{
		Move: mgl64.Vec2{math.Sin(t * 0.5), math.Cos(t * 0.7)},
		Jump: math.Mod(t, 2) < 0.25,
	}
}
