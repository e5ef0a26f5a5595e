package timeline

import (
	"fmt"
	"math"
	"testing"

	"github.com/segmentio/fasthash/fnv1a"
)

// axisInput is the input element used by the package tests: a single axis and
// a button with an edge-triggered derived signal.
type axisInput struct {
	X       float32
	Held    bool
	Pressed bool
}

func (i axisInput) WithDeltas(previous axisInput) axisInput {
	i.Pressed = i.Held && !previous.Held
	return i
}

// counterState accumulates X*dt per tick, which makes expected values easy to
// derive by hand.
type counterState struct {
	Counter float32
	Presses int
}

func (s counterState) Equal(other counterState) bool { return s == other }

type counterTarget struct {
	state counterState

	// tickTimes records the Time of every tick the target ran, in order.
	tickTimes []float64
	infos     []TickInfo
	panicAt   float64
}

func (c *counterTarget) MakeState() counterState   { return c.state }
func (c *counterTarget) ApplyState(s counterState) { c.state = s }

func (c *counterTarget) Tick(dt float32, input axisInput, info TickInfo) {
	if c.panicAt != 0 && math.Abs(info.Time-c.panicAt) < 1e-9 {
		panic("counter exploded")
	}
	c.tickTimes = append(c.tickTimes, info.Time)
	c.infos = append(c.infos, info)
	c.state.Counter += input.X * dt
	if input.Pressed {
		c.state.Presses++
	}
}

func testSettings() Settings {
	return Settings{
		FixedTickRate: 10,
		MaxTickRate:   10,
		MaxDeltaTime:  0.2,
		HistoryLength: 10,
	}
}

func newCounterTimeline(t *testing.T, set Settings) (*Timeline, *Entity[axisInput, counterState], *counterTarget) {
	t.Helper()
	tl := New(set)
	target := &counterTarget{}
	e, err := Add[axisInput, counterState](tl, "counter", 0, target)
	if err != nil {
		t.Fatalf("add entity: %v", err)
	}
	return tl, e, target
}

// stateTimes flattens a state track's times for comparison.
func stateTimes[S any](tr *StateTrack[S]) []float64 {
	out := make([]float64, tr.Len())
	for i := range out {
		out[i] = tr.timeAt(i)
	}
	return out
}

func stateValues[S any](tr *StateTrack[S]) []S {
	out := make([]S, tr.Len())
	for i := range out {
		out[i] = tr.valueAt(i)
	}
	return out
}

func TestSeekForwardConfirmsOnGrid(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(1.0, 0)

	if got := tl.PlaybackTime(); got != 1.0 {
		t.Fatalf("expected playback time 1.0, got %v", got)
	}
	if got := e.States().Len(); got != 11 {
		t.Fatalf("expected 11 confirmed states at 0.0..1.0, got %d", got)
	}
	for i := 0; i < e.States().Len(); i++ {
		wantTime := float64(10-i) / 10
		if math.Abs(e.States().timeAt(i)-wantTime) > 1e-6 {
			t.Fatalf("state %d: expected time %v, got %v", i, wantTime, e.States().timeAt(i))
		}
		wantCounter := float32(wantTime)
		if got := e.States().valueAt(i).Counter; math.Abs(float64(got-wantCounter)) > 1e-4 {
			t.Fatalf("state %d: expected counter %v, got %v", i, wantCounter, got)
		}
	}
	if got := target.state.Counter; math.Abs(float64(got-1)) > 1e-4 {
		t.Fatalf("expected final counter 1.0, got %v", got)
	}
}

func TestTrackMonotonicAfterSeek(t *testing.T) {
	tl, e, _ := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)
	e.InsertInput(axisInput{X: -1}, 0.42)
	tl.Seek(1.0, 0)
	tl.Seek(0.3, 0)
	tl.Seek(0.95, 0)

	for _, track := range [][]float64{stateTimes(e.States())} {
		for i := 0; i+1 < len(track); i++ {
			if track[i] <= track[i+1] {
				t.Fatalf("track times not strictly decreasing at %d: %v", i, track)
			}
		}
	}
}

func TestRewindReplayEquivalence(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(1.0, 0)
	firstTimes := stateTimes(e.States())
	firstValues := stateValues(e.States())

	tl.Seek(0.3, 0)
	if got := tl.PlaybackTime(); got != 0.3 {
		t.Fatalf("expected playback time 0.3, got %v", got)
	}
	tl.Seek(1.0, 0)

	if math.Abs(float64(target.state.Counter-1)) > 1e-4 {
		t.Fatalf("expected counter 1.0 after rewind-replay, got %v", target.state.Counter)
	}
	secondTimes := stateTimes(e.States())
	secondValues := stateValues(e.States())
	if len(firstTimes) != len(secondTimes) {
		t.Fatalf("state count diverged: %d vs %d", len(firstTimes), len(secondTimes))
	}
	for i := range firstTimes {
		if firstTimes[i] != secondTimes[i] || firstValues[i] != secondValues[i] {
			t.Fatalf("state %d diverged after replay: (%v, %+v) vs (%v, %+v)",
				i, firstTimes[i], firstValues[i], secondTimes[i], secondValues[i])
		}
	}
}

func TestReconcileMidHistory(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(1.0, 0)
	if !e.StoreStateAt(counterState{Counter: 5}, 0.5, 1e-5) {
		t.Fatalf("expected differing state to invalidate history")
	}
	if latest, _ := e.LatestStateTime(); latest > 0.5+1e-6 {
		t.Fatalf("expected states after 0.5 to be trimmed, latest is %v", latest)
	}
	tl.Seek(1.0, 0)

	if got := target.state.Counter; math.Abs(float64(got-5.5)) > 1e-4 {
		t.Fatalf("expected counter 5.5 after reconcile, got %v", got)
	}
}

func TestStoreStateAtEqualStateKeepsHistory(t *testing.T) {
	tl, e, _ := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)
	tl.Seek(1.0, 0)

	stored, err := e.States().Value(5)
	if err != nil {
		t.Fatalf("read stored state: %v", err)
	}
	at, _ := e.States().Time(5)
	if e.StoreStateAt(stored, at, 1e-5) {
		t.Fatalf("expected equal state to leave history untouched")
	}
	if got := e.States().Len(); got != 11 {
		t.Fatalf("expected all 11 states preserved, got %d", got)
	}
}

func TestStoreStateAtAlwaysReconcile(t *testing.T) {
	set := testSettings()
	set.AlwaysReconcile = true
	tl, e, _ := newCounterTimeline(t, set)
	e.InsertInput(axisInput{X: 1}, 0)
	tl.Seek(1.0, 0)

	stored, _ := e.States().Value(5)
	at, _ := e.States().Time(5)
	if !e.StoreStateAt(stored, at, 1e-5) {
		t.Fatalf("expected AlwaysReconcile to invalidate history on an equal state")
	}
	if latest, _ := e.LatestStateTime(); latest > at+1e-6 {
		t.Fatalf("expected trim after %v, latest is %v", at, latest)
	}
}

// mirrorTarget reads another target's live counter during its own tick,
// modelling an entity that depends on a peer within the same sub-step.
type mirrorTarget struct {
	peer  *counterTarget
	state counterState
}

func (m *mirrorTarget) MakeState() counterState   { return m.state }
func (m *mirrorTarget) ApplyState(s counterState) { m.state = s }

func (m *mirrorTarget) Tick(dt float32, input axisInput, info TickInfo) {
	m.state.Counter = m.peer.state.Counter
}

func TestCrossEntityOrdering(t *testing.T) {
	tl := New(testSettings())
	peer := &counterTarget{}
	mirror := &mirrorTarget{peer: peer}

	// The mirror has the smaller priority, so it ticks before the peer it
	// reads and must observe the peer's pre-tick value for each sub-step.
	me, err := Add[axisInput, counterState](tl, "mirror", 0, mirror)
	if err != nil {
		t.Fatalf("add mirror: %v", err)
	}
	pe, err := Add[axisInput, counterState](tl, "peer", 1, peer)
	if err != nil {
		t.Fatalf("add peer: %v", err)
	}
	me.InsertInput(axisInput{}, 0)
	pe.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(0.5, 0)

	if me.States().Len() != pe.States().Len() {
		t.Fatalf("expected matching confirmation counts, got %d vs %d", me.States().Len(), pe.States().Len())
	}
	for i := 0; i < me.States().Len()-1; i++ {
		mt := me.States().timeAt(i)
		mirrored := me.States().valueAt(i).Counter
		// The mirror stored at time mt what the peer was before its tick to
		// mt: the peer's confirmed value one sub-step earlier.
		prev, err := pe.States().Value(i + 1)
		if err != nil {
			t.Fatalf("peer state at %d: %v", i+1, err)
		}
		if mirrored != prev.Counter {
			t.Fatalf("state at %v: mirror stored %v, expected peer's pre-tick %v", mt, mirrored, prev.Counter)
		}
	}
}

func TestSeekMaxIterations(t *testing.T) {
	set := testSettings()
	set.MaxSeekIterations = 3
	tl, e, _ := newCounterTimeline(t, set)
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(1.0, 0)

	if got := tl.PlaybackTime(); got != 1.0 {
		t.Fatalf("expected playback time 1.0 despite iteration cap, got %v", got)
	}
	found := false
	for _, op := range tl.LastSeekWarnings() {
		if op.Kind == SeekOpReachedMaxIterations {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a ReachedMaxIterations warning, got %v", tl.LastSeekWarnings())
	}
}

func TestDeltaTooBigClampsButAdvances(t *testing.T) {
	set := testSettings()
	set.FixedTickRate = 1
	set.MaxDeltaTime = 0.2
	tl, e, target := newCounterTimeline(t, set)
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(1.0, 0)

	if got := tl.PlaybackTime(); got != 1.0 {
		t.Fatalf("expected playback time 1.0, got %v", got)
	}
	// One whole tick of 1.0s, clamped to 0.2s of simulation.
	if got := target.state.Counter; math.Abs(float64(got-0.2)) > 1e-4 {
		t.Fatalf("expected clamped counter 0.2, got %v", got)
	}
	warned := false
	for _, op := range tl.LastSeekWarnings() {
		if op.Kind == SeekOpDeltaTooBig {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a DeltaTooBig warning")
	}
}

func TestDeterministicReplay(t *testing.T) {
	run := func() ([]float64, []counterState) {
		tl, e, _ := newCounterTimeline(t, testSettings())
		e.InsertInput(axisInput{X: 1}, 0)
		e.InsertInput(axisInput{X: -0.5, Held: true}, 0.35)
		e.InsertInput(axisInput{X: 2}, 0.7)
		tl.Seek(0.4, 0)
		tl.Seek(1.0, 0)
		return stateTimes(e.States()), stateValues(e.States())
	}
	t1, v1 := run()
	t2, v2 := run()
	if len(t1) != len(t2) {
		t.Fatalf("runs diverged in length: %d vs %d", len(t1), len(t2))
	}
	for i := range t1 {
		if t1[i] != t2[i] || v1[i] != v2[i] {
			t.Fatalf("runs diverged at %d: (%v, %+v) vs (%v, %+v)", i, t1[i], v1[i], t2[i], v2[i])
		}
	}
}

func TestInputEdgeDerivation(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{}, 0)
	e.InsertInput(axisInput{Held: true}, 0.3)

	tl.Seek(1.0, 0)

	// Held rises at 0.3 and stays: exactly one press despite seven held ticks.
	if got := target.state.Presses; got != 1 {
		t.Fatalf("expected exactly one derived press, got %d", got)
	}
}

func TestIgnoreDeltasSuppressesEdges(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{}, 0)
	e.InsertInput(axisInput{Held: true}, 0.3)

	tl.Seek(1.0, IgnoreDeltas)

	if got := target.state.Presses; got != 0 {
		t.Fatalf("expected no derived presses under IgnoreDeltas, got %d", got)
	}
}

func TestDontConfirmIsReadOnly(t *testing.T) {
	tl, e, _ := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)
	tl.Seek(1.0, 0)
	times := stateTimes(e.States())
	values := stateValues(e.States())

	tl.Seek(0.4, DontConfirm)
	tl.Seek(1.0, DontConfirm)

	if got := tl.PlaybackTime(); got != 1.0 {
		t.Fatalf("expected playback time 1.0, got %v", got)
	}
	if got := stateTimes(e.States()); len(got) != len(times) {
		t.Fatalf("expected scrubbing to keep %d states, got %d", len(times), len(got))
	}
	for i, v := range stateValues(e.States()) {
		if v != values[i] {
			t.Fatalf("state %d changed during read-only scrub", i)
		}
	}
}

func TestTreatAsReplayForcesReplaying(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(0.5, TreatAsReplay)

	if len(target.infos) == 0 {
		t.Fatalf("expected ticks to run")
	}
	for _, info := range target.infos {
		if !info.IsReplaying {
			t.Fatalf("expected IsReplaying on every tick, got %+v", info)
		}
		if info.ConfirmingForward() {
			t.Fatalf("expected no confirming-forward ticks under TreatAsReplay")
		}
	}
}

func TestReplayingFlagOnResimulation(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)
	tl.Seek(1.0, 0)
	for _, info := range target.infos {
		if info.IsReplaying {
			t.Fatalf("expected fresh seek to not replay, got %+v", info)
		}
	}

	target.infos = nil
	e.StoreStateAt(counterState{Counter: 3}, 0.5, 1e-5)
	tl.Seek(1.0, 0)

	for _, info := range target.infos {
		if !info.IsReplaying {
			t.Fatalf("expected re-derivation below the last seek target to replay, got %+v", info)
		}
	}
}

func TestNoDebugSequence(t *testing.T) {
	tl, e, _ := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(1.0, NoDebugSequence)

	if got := len(tl.LastSeekOps()); got != 0 {
		t.Fatalf("expected no recorded ops, got %d", got)
	}
}

func TestTickPanicContained(t *testing.T) {
	set := testSettings()
	set.Metrics = NewMetrics()
	tl := New(set)
	broken := &counterTarget{panicAt: 0.3}
	healthy := &counterTarget{}
	be, err := Add[axisInput, counterState](tl, "broken", 0, broken)
	if err != nil {
		t.Fatalf("add broken: %v", err)
	}
	he, err := Add[axisInput, counterState](tl, "healthy", 1, healthy)
	if err != nil {
		t.Fatalf("add healthy: %v", err)
	}
	be.InsertInput(axisInput{X: 1}, 0)
	he.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(1.0, 0)

	if got := tl.PlaybackTime(); got != 1.0 {
		t.Fatalf("expected playback time 1.0 after a tick panic, got %v", got)
	}
	if got := len(healthy.tickTimes); got != 10 {
		t.Fatalf("expected the healthy entity to run all 10 ticks, got %d", got)
	}
	panicked := false
	for _, op := range tl.LastSeekWarnings() {
		if op.Kind == SeekOpTickPanic && op.Entity == "broken" {
			panicked = true
		}
	}
	if !panicked {
		t.Fatalf("expected a TickPanic warning for the broken entity")
	}
	if got := set.Metrics.Panics(fnv1a.HashString64("broken")); got != 1 {
		t.Fatalf("expected one recorded panic, got %d", got)
	}
}

func TestDebugPauseGatesSeek(t *testing.T) {
	tl, e, target := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)

	tl.SetDebugPaused(true)
	tl.Seek(1.0, 0)

	if got := tl.PlaybackTime(); got != 0 {
		t.Fatalf("expected paused seek to be a no-op, playback moved to %v", got)
	}
	if len(target.tickTimes) != 0 {
		t.Fatalf("expected no ticks while paused, got %d", len(target.tickTimes))
	}

	tl.SetDebugPaused(false)
	tl.Seek(1.0, 0)
	if got := tl.PlaybackTime(); got != 1.0 {
		t.Fatalf("expected unpaused seek to run, got %v", got)
	}
}

func TestNoValidStartStateSynthesises(t *testing.T) {
	tl, e, _ := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)
	tl.Seek(1.0, 0)

	// With every confirmed state cleared there is nothing to rewind to, which
	// forces a synthesised start.
	e.States().Clear()
	tl.Seek(1.2, 0)

	if got := tl.PlaybackTime(); got != 1.2 {
		t.Fatalf("expected playback time 1.2, got %v", got)
	}
	found := false
	for _, op := range tl.LastSeekWarnings() {
		if op.Kind == SeekOpNoValidStartState {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a NoValidStartState warning, got %v", tl.LastSeekWarnings())
	}
}

func TestHistoryCleanup(t *testing.T) {
	set := testSettings()
	set.HistoryLength = 0.5
	tl, e, _ := newCounterTimeline(t, set)
	e.InsertInput(axisInput{X: 1}, 0)

	tl.Seek(2.0, 0)

	if earliest := e.States().timeAt(e.States().Len() - 1); earliest < 2.0-0.5-1e-6 {
		t.Fatalf("expected states before %v to be trimmed, found %v", 2.0-0.5, earliest)
	}
	if e.Inputs().Len() == 0 {
		t.Fatalf("expected the latest input to survive cleanup")
	}
}

func TestRemoveEntity(t *testing.T) {
	tl, e, _ := newCounterTimeline(t, testSettings())
	e.InsertInput(axisInput{X: 1}, 0)
	tl.Seek(0.5, 0)

	if !tl.RemoveEntity("counter") {
		t.Fatalf("expected removal to succeed")
	}
	if tl.RemoveEntity("counter") {
		t.Fatalf("expected second removal to fail")
	}
	if got := e.States().Len(); got != 0 {
		t.Fatalf("expected cleared state track, got %d entries", got)
	}
	if got := tl.EntityCount(); got != 0 {
		t.Fatalf("expected no entities, got %d", got)
	}
}

func TestDuplicateEntityName(t *testing.T) {
	tl, _, _ := newCounterTimeline(t, testSettings())
	if _, err := Add[axisInput, counterState](tl, "counter", 0, &counterTarget{}); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
}

func TestPriorityResort(t *testing.T) {
	tl := New(testSettings())
	var order []string
	mk := func(name string, priority int) *Entity[axisInput, counterState] {
		e, err := Add[axisInput, counterState](tl, name, priority, &orderTarget{name: name, order: &order})
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		e.InsertInput(axisInput{}, 0)
		return e
	}
	a := mk("a", 2)
	mk("b", 1)

	tl.Seek(0.1, 0)
	if fmt.Sprint(order) != "[b a]" {
		t.Fatalf("expected priority order [b a], got %v", order)
	}

	order = order[:0]
	a.SetPriority(0)
	tl.Seek(0.2, 0)
	if fmt.Sprint(order) != "[a b]" {
		t.Fatalf("expected re-sorted order [a b], got %v", order)
	}
}

type orderTarget struct {
	name  string
	order *[]string
	state counterState
}

func (o *orderTarget) MakeState() counterState   { return o.state }
func (o *orderTarget) ApplyState(s counterState) { o.state = s }
func (o *orderTarget) Tick(dt float32, input axisInput, info TickInfo) {
	*o.order = append(*o.order, o.name)
}
