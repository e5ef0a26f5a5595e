package timeline

import (
	"math"

	"github.com/lxshades/rewind/internal/timemath"
)

// SeekFlags adjust how a single seek runs. Flags compose with |.
type SeekFlags uint32

const (
	// IgnoreDeltas makes every tick use the current input as its own
	// previous, so no edge-triggered signals are derived.
	IgnoreDeltas SeekFlags = 1 << iota
	// DontConfirm runs the seek read-only: no states are written and no
	// history is trimmed, so the timeline can be scrubbed without being
	// changed.
	DontConfirm
	// TreatAsReplay forces IsReplaying on every tick regardless of the time
	// comparison. Used when externally re-running already-played time so
	// targets suppress sounds and effects.
	TreatAsReplay
	// NoDebugSequence suppresses recording of the per-operation debug log.
	NoDebugSequence
)

// TickInfo is passed into every tick of a seek.
type TickInfo struct {
	// Time is the time the tick advances the target to.
	Time float64
	// IsWholeTick reports if Time lies on the fixed tick grid, which is when
	// the resulting state is confirmed.
	IsWholeTick bool
	// IsReplaying reports if this time range has been played before.
	IsReplaying bool
	// SeekFlags are the flags of the running seek.
	SeekFlags SeekFlags
}

// ConfirmingForward reports if the tick is new simulation progress whose
// state will be confirmed, which is when one-shot effects should fire.
func (i TickInfo) ConfirmingForward() bool { return !i.IsReplaying && i.IsWholeTick }

// Seek advances the playback time to target, rewinding to the earliest
// confirmed state covering it and replaying fixed-rate ticks across all
// entities in priority order. On return the playback time equals target even
// if ticks failed or the iteration cap was hit, so the outer loop can never
// deadlock on a stuck timeline. While the timeline is debug-paused, Seek is a
// no-op.
func (tl *Timeline) Seek(target float64, flags SeekFlags) {
	if tl.debugPaused {
		return
	}
	record := flags&NoDebugSequence == 0
	tl.lastSeekOps = tl.lastSeekOps[:0]

	confirming := flags&DontConfirm == 0
	replayThreshold := tl.lastSeekTarget
	if flags&TreatAsReplay != 0 {
		replayThreshold = math.Inf(1)
	}

	// Whatever happens below, the timeline must present the target time when
	// the seek returns.
	defer func() {
		tl.playbackTime = target
		tl.lastSeekTarget = target
	}()

	if tl.sortDirty {
		tl.sortEntities()
		tl.recordOp(record, SeekOp{Kind: SeekOpSort, Time: target})
	}

	rate := tl.set.FixedTickRate
	dtTick := 1 / rate

	// The replay starts from the minimum confirmed time across entities, so
	// that every entity begins from a confirmed state, snapped to the grid.
	start := target
	for _, e := range tl.entities {
		if ct, ok := e.confirmedTimeAt(target); ok && ct < start {
			start = ct
		}
	}
	start = timemath.Stable(start, rate)
	if start > target {
		start = target
	}

	for _, e := range tl.entities {
		if e.rewindTo(start, confirming) {
			tl.recordOp(record, SeekOp{Kind: SeekOpRewind, Time: start, Entity: e.entityName(), EntityID: e.entityID()})
			continue
		}
		e.captureAt(start, confirming)
		tl.warn(record, SeekOp{Kind: SeekOpNoValidStartState, Time: start, Entity: e.entityName(), EntityID: e.entityID()})
	}

	current := start
	iterations := 0
	for current < target-timemath.GridEpsilon {
		iterations++
		next := timemath.Quantize(current+dtTick+timemath.GridEpsilon, rate)
		if next > target {
			next = target
		}
		canStore := timemath.OnGrid(next, rate)
		if iterations >= tl.set.MaxSeekIterations && next < target-timemath.GridEpsilon {
			next = target
			canStore = true
			tl.warn(record, SeekOp{Kind: SeekOpReachedMaxIterations, Time: next})
		}

		delta := timemath.Delta(next, current)
		if delta > tl.set.MaxDeltaTime {
			// The delta is clamped but time still advances to next; the
			// simulation silently loses the overrun.
			delta = tl.set.MaxDeltaTime
			tl.warn(record, SeekOp{Kind: SeekOpDeltaTooBig, Time: next})
		}

		info := TickInfo{
			Time:        next,
			IsWholeTick: canStore,
			IsReplaying: next <= replayThreshold+timemath.GridEpsilon,
			SeekFlags:   flags,
		}

		if fired := tl.events.fire(current, next, info); fired > 0 {
			tl.recordOp(record, SeekOp{Kind: SeekOpFireEvents, Time: current})
		}

		for _, e := range tl.entities {
			tl.inTick = true
			err := e.seekTick(current, delta, info)
			tl.inTick = false
			if err != nil {
				tl.set.Metrics.IncPanic(e.entityID())
				tl.warn(record, SeekOp{Kind: SeekOpTickPanic, Time: next, Entity: e.entityName(), EntityID: e.entityID(), Detail: err.Error()})
				continue
			}
			tl.set.Metrics.AddTicks(e.entityID(), 1)
			tl.recordOp(record, SeekOp{Kind: SeekOpTick, Time: next, Entity: e.entityName(), EntityID: e.entityID()})
		}

		// States are stored only after the whole priority pass, so forces an
		// entity imparted on another within this tick are part of both
		// confirmed states.
		if canStore && confirming {
			for _, e := range tl.entities {
				e.confirmAt(next)
				tl.set.Metrics.IncConfirm(e.entityID())
				tl.recordOp(record, SeekOp{Kind: SeekOpConfirm, Time: next, Entity: e.entityName(), EntityID: e.entityID()})
			}
		}

		current = next
		tl.playbackTime = current
		tl.lastSeekTarget = current
	}

	if confirming {
		tMin, tMax := target-tl.set.HistoryLength, target+tl.set.HistoryLength
		for _, e := range tl.entities {
			e.cleanupHistory(tMin, tMax)
		}
		tl.events.cleanup(tMin, tMax)
		tl.recordOp(record, SeekOp{Kind: SeekOpCleanup, Time: target})
	}
	tl.set.Metrics.AddSeek(iterations)
}

func (tl *Timeline) recordOp(record bool, op SeekOp) {
	if record {
		tl.lastSeekOps = append(tl.lastSeekOps, op)
	}
}

// warn records a warning op and optionally logs it.
func (tl *Timeline) warn(record bool, op SeekOp) {
	tl.recordOp(record, op)
	tl.set.Metrics.IncWarning(op.Kind)
	if tl.set.DebugLogSeekWarnings {
		tl.log.Warn("seek warning", "kind", op.Kind.String(), "time", op.Time, "entity", op.Entity, "detail", op.Detail)
	}
}
