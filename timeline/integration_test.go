package timeline_test

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/lxshades/rewind/examples/mover"
	"github.com/lxshades/rewind/timeline"
)

func moverSettings() timeline.Settings {
	return timeline.Settings{
		FixedTickRate: 20,
		MaxTickRate:   20,
		MaxDeltaTime:  0.5,
		HistoryLength: 10,
	}
}

func TestMoverPredictionReconcile(t *testing.T) {
	// The follower predicts with a wrong input; the authority simulates the
	// real one. Reconciling the authority's state into the follower's history
	// must converge the follower onto the authority's trajectory.
	authority := timeline.New(moverSettings())
	followTL := timeline.New(moverSettings())
	am, fm := mover.NewMover(), mover.NewMover()
	ae, err := timeline.Add[mover.Input, mover.State](authority, "player", 0, am)
	if err != nil {
		t.Fatalf("add authority mover: %v", err)
	}
	fe, err := timeline.Add[mover.Input, mover.State](followTL, "player", 0, fm)
	if err != nil {
		t.Fatalf("add follower mover: %v", err)
	}

	actual := mover.Input{Move: mgl64.Vec2{1, 0}}
	wrong := mover.Input{Move: mgl64.Vec2{0, 1}}
	ae.InsertInput(actual, 0)
	fe.InsertInput(wrong, 0)

	authority.Seek(1.0, 0)
	followTL.Seek(1.0, 0)

	if am.Pos().ApproxEqual(fm.Pos()) {
		t.Fatalf("expected the mispredicted follower to diverge")
	}

	// The follower learns the real inputs and the authoritative state at 0.5.
	fe.InsertInputPack(ae.MakeInputPack(1.0))
	i, ok := ae.States().ClosestIndexBefore(0.5, 1e-6)
	if !ok {
		t.Fatalf("expected an authority state at 0.5")
	}
	st, _ := ae.States().Value(i)
	at, _ := ae.States().Time(i)
	fe.Reconcile(st, at)

	if got := followTL.PlaybackTime(); got != 1.0 {
		t.Fatalf("expected playback time restored to 1.0, got %v", got)
	}
	if !am.Pos().ApproxEqual(fm.Pos()) {
		t.Fatalf("expected convergence after reconcile: authority %v, follower %v", am.Pos(), fm.Pos())
	}
}

func TestMoverLandingNotRecountedOnReplay(t *testing.T) {
	tl := timeline.New(moverSettings())
	m := mover.NewMover()
	e, err := timeline.Add[mover.Input, mover.State](tl, "player", 0, m)
	if err != nil {
		t.Fatalf("add mover: %v", err)
	}

	e.InsertInput(mover.Input{}, 0)
	e.InsertInput(mover.Input{Jump: true}, 0.1)
	e.InsertInput(mover.Input{}, 0.2)

	tl.Seek(2.0, 0)
	if m.Landings != 1 {
		t.Fatalf("expected exactly one landing, got %d", m.Landings)
	}

	// Scrub back before the jump and replay the whole flight: the landing
	// must not be counted twice.
	tl.Seek(0.05, 0)
	tl.Seek(2.0, timeline.TreatAsReplay)
	if m.Landings != 1 {
		t.Fatalf("expected landings to stay at 1 after replay, got %d", m.Landings)
	}
}

func TestMoverDeterministicTrajectory(t *testing.T) {
	run := func() mgl64.Vec3 {
		tl := timeline.New(moverSettings())
		m := mover.NewMover()
		e, err := timeline.Add[mover.Input, mover.State](tl, "player", 0, m)
		if err != nil {
			t.Fatalf("add mover: %v", err)
		}
		for i := 0; i < 40; i++ {
			tm := float64(i) / 20
			e.InsertInput(mover.Input{
				Move: mgl64.Vec2{math.Sin(tm), math.Cos(tm)},
				Jump: i%10 == 0,
			}, tm)
		}
		tl.Seek(1.0, 0)
		tl.Seek(0.4, 0)
		tl.Seek(2.0, 0)
		return m.Pos()
	}
	a, b := run(), run()
	if a != b {
		t.Fatalf("expected bit-identical trajectories, got %v and %v", a, b)
	}
}
