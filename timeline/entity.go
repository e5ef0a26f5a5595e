package timeline

import (
	"fmt"

	"github.com/lxshades/rewind/internal/tickguard"
	"github.com/lxshades/rewind/internal/timemath"
	"github.com/segmentio/fasthash/fnv1a"
)

// Tickable is the capability set the timeline requires of a simulation
// target. MakeState must snapshot every simulation-affecting field and be
// cheap and pure; ApplyState must fully restore from a snapshot so that a
// subsequent MakeState returns an equivalent value. Tick must not read the
// wall clock or live input devices: all signals come from the input argument.
type Tickable[I, S any] interface {
	MakeState() S
	ApplyState(s S)
	Tick(dt float32, input I, info TickInfo)
}

// Input is the capability set required of an input element. WithDeltas
// returns a copy of the input enriched with edge-triggered signals derived
// against the previous input, such as "jump pressed this tick".
type Input[I any] interface {
	WithDeltas(previous I) I
}

// State is the capability set required of a state element. Equal is used to
// decide whether a reported state differs from the stored one.
type State[S any] interface {
	Equal(other S) bool
}

// DiffDescriber is an optional extension of State. When a reported state
// invalidates a stored one and seek warning logging is enabled, the
// description of the difference is logged alongside the reconciliation.
type DiffDescriber[S any] interface {
	DescribeDiff(other S) string
}

// InputPack is a batched, ordered set of timestamped inputs as delivered over
// the wire. Times are strictly decreasing: index 0 is the newest. Packs are
// idempotent; re-applying one overwrites by time slot.
type InputPack[I any] struct {
	Times  []float64
	Inputs []I
}

// Entity binds a Tickable target to its input and state tracks on a Timeline.
type Entity[I Input[I], S State[S]] struct {
	tl       *Timeline
	name     string
	id       uint64
	priority int
	order    int

	target Tickable[I, S]
	inputs *InputTrack[I]
	states *StateTrack[S]
}

// Add registers a target on the timeline under a stable name. Entities with a
// smaller priority tick earlier; ties tick in insertion order. The target's
// current state is captured at the timeline's playback time, so an entity
// always holds at least one state.
func Add[I Input[I], S State[S]](tl *Timeline, name string, priority int, target Tickable[I, S]) (*Entity[I, S], error) {
	if _, ok := tl.byName[name]; ok {
		return nil, fmt.Errorf("add entity %q: %w", name, ErrDuplicateEntity)
	}
	e := &Entity[I, S]{
		tl:       tl,
		name:     name,
		id:       fnv1a.HashString64(name),
		priority: priority,
		order:    tl.nextOrder,
		target:   target,
		inputs:   NewInputTrack[I](tl.set.MaxTickRate),
		states:   &StateTrack[S]{},
	}
	tl.nextOrder++
	e.states.Set(tl.playbackTime, target.MakeState(), timemath.Tolerance)
	tl.entities = append(tl.entities, e)
	tl.byName[name] = e
	tl.sortDirty = true
	return e, nil
}

// Name returns the stable name the entity was registered under.
func (e *Entity[I, S]) Name() string { return e.name }

// Priority returns the entity's tick priority. Smaller ticks earlier.
func (e *Entity[I, S]) Priority() int { return e.priority }

// SetPriority changes the tick priority. The timeline re-sorts its entities
// on the next seek.
func (e *Entity[I, S]) SetPriority(priority int) {
	if e.priority == priority {
		return
	}
	e.priority = priority
	e.tl.sortDirty = true
}

// Inputs exposes the entity's input track.
func (e *Entity[I, S]) Inputs() *InputTrack[I] { return e.inputs }

// States exposes the entity's confirmed state track.
func (e *Entity[I, S]) States() *StateTrack[S] { return e.states }

// LatestInputTime returns the time of the newest input, if any.
func (e *Entity[I, S]) LatestInputTime() (float64, bool) { return e.inputs.LatestTime() }

// LatestStateTime returns the time of the newest confirmed state, if any.
func (e *Entity[I, S]) LatestStateTime() (float64, bool) { return e.states.LatestTime() }

// InsertInput records an input at the given time, honouring the timeline's
// maximum input rate policy. It reports whether the input was accepted.
func (e *Entity[I, S]) InsertInput(input I, time float64) bool {
	set := e.tl.set
	switch set.MaxTickRateConstraint {
	case RateQuantized:
		if e.inputs.HasBucket(time) {
			return false
		}
		e.inputs.Set(time, input, timemath.Tolerance)
		return true
	default:
		if latest, ok := e.inputs.LatestTime(); ok && time-latest < 1/set.MaxTickRate-timemath.Tolerance {
			return false
		}
		e.inputs.Set(time, input, timemath.Tolerance)
		return true
	}
}

// InsertQuantizedInput quantises the time to the 1/MaxTickRate grid before
// inserting, then applies the rate policy as InsertInput does.
func (e *Entity[I, S]) InsertQuantizedInput(input I, time float64) bool {
	return e.InsertInput(input, timemath.Stable(time, e.tl.set.MaxTickRate))
}

// InsertInputPack applies a received pack oldest-first, so that the most
// recent input wins when two land in the same slot. Pack application bypasses
// the rate policy's duplicate rejection: packs overwrite by time slot.
func (e *Entity[I, S]) InsertInputPack(pack InputPack[I]) {
	rate := e.tl.set.MaxTickRate
	for i := len(pack.Times) - 1; i >= 0; i-- {
		e.inputs.Set(timemath.Stable(pack.Times[i], rate), pack.Inputs[i], timemath.Tolerance)
	}
}

// MakeInputPack copies the inputs of the last window seconds into a pack for
// wire dispatch, newest first.
func (e *Entity[I, S]) MakeInputPack(window float64) InputPack[I] {
	var pack InputPack[I]
	latest, ok := e.inputs.LatestTime()
	if !ok {
		return pack
	}
	for i := 0; i < e.inputs.Len(); i++ {
		t := e.inputs.timeAt(i)
		if t < latest-window {
			break
		}
		pack.Times = append(pack.Times, t)
		pack.Inputs = append(pack.Inputs, e.inputs.valueAt(i))
	}
	return pack
}

// StoreCurrentState captures the target's current state into the state track
// at the given time. If clearFuture is set, states after that time are
// trimmed. If reapply is set, the captured state is pushed straight back into
// the target, which defends against targets whose state round-trip is lossy.
func (e *Entity[I, S]) StoreCurrentState(time float64, clearFuture, reapply bool) S {
	s := e.target.MakeState()
	i := e.states.Set(time, s, timemath.Tolerance)
	if clearFuture {
		e.states.TrimAfter(e.states.timeAt(i))
	}
	if reapply {
		e.target.ApplyState(s)
	}
	return s
}

// StoreStateAt writes a reported state into the history at the given time. If
// it differs from the state already stored there, or AlwaysReconcile is set,
// every state after it is trimmed so that a later seek re-derives the present
// from the correction. It reports whether the history was invalidated.
func (e *Entity[I, S]) StoreStateAt(state S, time float64, precision float64) bool {
	if i, ok := e.states.IndexAt(time, precision); ok {
		existing := e.states.valueAt(i)
		if existing.Equal(state) && !e.tl.set.AlwaysReconcile {
			return false
		}
		if e.tl.set.DebugLogSeekWarnings {
			if d, ok := any(state).(DiffDescriber[S]); ok {
				e.tl.log.Debug("state reconciled", "entity", e.name, "time", time, "diff", d.DescribeDiff(existing))
			}
		}
	}
	i := e.states.Set(time, state, precision)
	// Trim strictly after, never at, the written time: a second write landing
	// on the same instant replaces rather than erases.
	e.states.TrimAfter(e.states.timeAt(i))
	return true
}

// Reconcile corrects the past with an authoritative state and re-derives the
// present by seeking back to the current playback time as a replay.
func (e *Entity[I, S]) Reconcile(state S, time float64) {
	e.StoreStateAt(state, time, timemath.Tolerance)
	e.tl.Seek(e.tl.playbackTime, TreatAsReplay)
}

// ApplyStateAt rewinds the target itself to the confirmed state at or before
// the given time. It reports whether such a state existed.
func (e *Entity[I, S]) ApplyStateAt(time float64) bool {
	i, ok := e.states.ClosestIndexBefore(time, timemath.Tolerance)
	if !ok {
		return false
	}
	e.target.ApplyState(e.states.valueAt(i))
	return true
}

// Target returns the wrapped simulation target. It must only be accessed
// outside a running seek.
func (e *Entity[I, S]) Target() Tickable[I, S] { return e.target }

// timelineEntity is the non-generic surface the Timeline drives entities
// through; Entity[I, S] is its only implementation.
type timelineEntity interface {
	entityName() string
	entityID() uint64
	entityPriority() int
	entityOrder() int

	confirmedTimeAt(t float64) (float64, bool)
	rewindTo(t float64, trimFuture bool) bool
	captureAt(t float64, confirm bool)
	seekTick(current float64, dt float32, info TickInfo) error
	confirmAt(t float64)
	cleanupHistory(tMin, tMax float64)
	clearTracks()
}

func (e *Entity[I, S]) entityName() string  { return e.name }
func (e *Entity[I, S]) entityID() uint64    { return e.id }
func (e *Entity[I, S]) entityPriority() int { return e.priority }
func (e *Entity[I, S]) entityOrder() int    { return e.order }

// confirmedTimeAt returns the time of the newest confirmed state at or before
// t, used to determine how far a seek has to rewind.
func (e *Entity[I, S]) confirmedTimeAt(t float64) (float64, bool) {
	i, ok := e.states.ClosestIndexBefore(t, timemath.Tolerance)
	if !ok {
		return 0, false
	}
	return e.states.timeAt(i), true
}

// rewindTo applies the confirmed state at or before t to the target and, when
// trimFuture is set, discards the states after t so the replay rebuilds them.
func (e *Entity[I, S]) rewindTo(t float64, trimFuture bool) bool {
	i, ok := e.states.ClosestIndexBefore(t, timemath.Tolerance)
	if !ok {
		return false
	}
	e.target.ApplyState(e.states.valueAt(i))
	if trimFuture {
		e.states.TrimAfter(t + timemath.Tolerance)
	}
	return true
}

// captureAt synthesises a start state from the target's current fields when
// no confirmed state covers the rewind point.
func (e *Entity[I, S]) captureAt(t float64, confirm bool) {
	if confirm {
		e.states.Set(t, e.target.MakeState(), timemath.Tolerance)
	}
}

// seekTick runs one sub-step of the target. The current input is looked up at
// the quantised step start; the previous input one fixed tick earlier. When
// the two differ and deltas are not suppressed, the target receives the
// current input enriched with edge-triggered signals derived from the
// previous one. Panics from the target are contained and reported.
func (e *Entity[I, S]) seekTick(current float64, dt float32, info TickInfo) error {
	rate := e.tl.set.FixedTickRate
	curIdx, haveCur := e.inputs.ClosestIndexBeforeOrEarliest(timemath.Stable(current, rate), timemath.Tolerance)
	prevIdx, havePrev := e.inputs.ClosestIndexBeforeOrEarliest(timemath.Stable(current-(1/rate-timemath.GridEpsilon), rate), timemath.Tolerance)

	var input I
	if haveCur {
		input = e.inputs.valueAt(curIdx)
	}
	if info.SeekFlags&IgnoreDeltas == 0 && havePrev && prevIdx != curIdx {
		input = input.WithDeltas(e.inputs.valueAt(prevIdx))
	} else {
		input = input.WithDeltas(input)
	}
	if err := tickguard.Run(func() { e.target.Tick(dt, input, info) }); err != nil {
		return &TickPanicError{Entity: e.name, Time: info.Time, Err: err}
	}
	return nil
}

// confirmAt stores the target's state at a grid time. Called after every
// entity has ticked the sub-step, so cross-entity effects are baked in.
func (e *Entity[I, S]) confirmAt(t float64) {
	e.states.Set(t, e.target.MakeState(), timemath.Tolerance)
}

// cleanupHistory prunes both tracks to the retained history window.
func (e *Entity[I, S]) cleanupHistory(tMin, tMax float64) {
	e.states.TrimBeforeExceptLatest(tMin)
	e.states.TrimAfter(tMax)
	e.inputs.TrimBeforeExceptLatest(tMin)
	e.inputs.TrimAfter(tMax)
}

// clearTracks releases both tracks when the entity is removed.
func (e *Entity[I, S]) clearTracks() {
	e.inputs.Clear()
	e.states.Clear()
}
