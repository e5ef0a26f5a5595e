package timeline

import "sync"

// SeekOpKind enumerates the operations and warnings a seek records in its
// debug sequence.
type SeekOpKind uint8

const (
	SeekOpSort SeekOpKind = iota
	SeekOpRewind
	SeekOpFireEvents
	SeekOpTick
	SeekOpConfirm
	SeekOpCleanup

	// Warning kinds. IsWarning reports true for these.

	// SeekOpNoValidStartState: an entity had no confirmed state at or before
	// the rewind point; a fresh one was synthesised from its current fields.
	SeekOpNoValidStartState
	// SeekOpReachedMaxIterations: the replay loop hit its iteration cap and
	// jumped the remaining time without ticking it.
	SeekOpReachedMaxIterations
	// SeekOpDeltaTooBig: a sub-step exceeded MaxDeltaTime and its delta was
	// clamped while time still advanced to the sub-step target.
	SeekOpDeltaTooBig
	// SeekOpTickPanic: the entity's target panicked; the seek continued.
	SeekOpTickPanic
)

// String returns the kind's name for logs and debug output.
func (k SeekOpKind) String() string {
	switch k {
	case SeekOpSort:
		return "Sort"
	case SeekOpRewind:
		return "Rewind"
	case SeekOpFireEvents:
		return "FireEvents"
	case SeekOpTick:
		return "Tick"
	case SeekOpConfirm:
		return "Confirm"
	case SeekOpCleanup:
		return "Cleanup"
	case SeekOpNoValidStartState:
		return "NoValidStartState"
	case SeekOpReachedMaxIterations:
		return "ReachedMaxIterations"
	case SeekOpDeltaTooBig:
		return "DeltaTooBig"
	case SeekOpTickPanic:
		return "TickPanic"
	}
	return "Unknown"
}

// IsWarning reports if the kind describes a seek warning rather than a
// regular operation.
func (k SeekOpKind) IsWarning() bool { return k >= SeekOpNoValidStartState }

// SeekOp is one recorded operation of the last seek.
type SeekOp struct {
	Kind   SeekOpKind
	Time   float64
	Entity string
	// EntityID is the compact hash id of the entity, matching the keys the
	// Metrics registry uses. Zero when the op is not entity-scoped.
	EntityID uint64
	Detail   string
}

// LastSeekOps returns the debug operation sequence recorded by the most
// recent seek. Empty when the seek ran with NoDebugSequence.
func (tl *Timeline) LastSeekOps() []SeekOp { return tl.lastSeekOps }

// LastSeekWarnings filters LastSeekOps down to warnings.
func (tl *Timeline) LastSeekWarnings() []SeekOp {
	var warns []SeekOp
	for _, op := range tl.lastSeekOps {
		if op.Kind.IsWarning() {
			warns = append(warns, op)
		}
	}
	return warns
}

// The debug registry tracks live timelines for debug tooling. It is opt-in:
// nothing registers itself, and production builds simply never call
// RegisterDebug.
var (
	debugMu        sync.Mutex
	debugTimelines []*Timeline
)

// RegisterDebug adds a timeline to the global debug registry.
func RegisterDebug(tl *Timeline) {
	debugMu.Lock()
	defer debugMu.Unlock()
	for _, t := range debugTimelines {
		if t == tl {
			return
		}
	}
	debugTimelines = append(debugTimelines, tl)
}

// DeregisterDebug removes a timeline from the global debug registry.
func DeregisterDebug(tl *Timeline) {
	debugMu.Lock()
	defer debugMu.Unlock()
	for i, t := range debugTimelines {
		if t == tl {
			debugTimelines = append(debugTimelines[:i], debugTimelines[i+1:]...)
			return
		}
	}
}

// DebugTimelines returns a snapshot of the registered timelines.
func DebugTimelines() []*Timeline {
	debugMu.Lock()
	defer debugMu.Unlock()
	out := make([]*Timeline, len(debugTimelines))
	copy(out, debugTimelines)
	return out
}
