// Package timeline implements a deterministic rewindable simulation timeline.
//
// A Timeline owns a set of entities, each binding a simulation target to a
// track of timestamped inputs and a track of confirmed states. Seek rewinds
// every entity to the earliest confirmed state covering the target time and
// replays fixed-rate ticks across all of them in priority order, recording
// fresh confirmed states on the tick grid. Correcting a past state and
// seeking again re-derives the present, which is how client-side prediction
// is reconciled against an authority.
package timeline

import (
	"log/slog"
	"slices"
)

// Timeline owns a set of entities, a shared event track and the seek engine
// that advances them. All methods must be called from a single logical
// thread; a seek runs to completion without suspending.
type Timeline struct {
	set Settings
	log *slog.Logger

	entities  []timelineEntity
	byName    map[string]timelineEntity
	sortDirty bool
	nextOrder int

	events EventTrack

	playbackTime   float64
	lastSeekTarget float64
	inTick         bool
	debugPaused    bool

	lastSeekOps []SeekOp
}

// New creates a timeline with the given settings, starting at playback time
// zero.
func New(set Settings) *Timeline {
	set = set.withDefaults()
	return &Timeline{
		set:    set,
		log:    set.Logger,
		byName: make(map[string]timelineEntity),
	}
}

// Settings returns the normalised settings the timeline runs with.
func (tl *Timeline) Settings() Settings { return tl.set }

// PlaybackTime returns the logical simulation time the timeline currently
// presents. It moves with Seek.
func (tl *Timeline) PlaybackTime() float64 { return tl.playbackTime }

// LastSeekTargetTime returns the target of the most recent seek. While a seek
// runs, it is the time reached by the seek's last completed iteration.
func (tl *Timeline) LastSeekTargetTime() float64 { return tl.lastSeekTarget }

// InTick reports if the timeline is currently inside a single entity's tick
// call.
func (tl *Timeline) InTick() bool { return tl.inTick }

// EntityCount returns the number of entities on the timeline.
func (tl *Timeline) EntityCount() int { return len(tl.entities) }

// RemoveEntity clears and releases the tracks of the named entity and removes
// it from the timeline. It reports whether the entity existed.
func (tl *Timeline) RemoveEntity(name string) bool {
	e, ok := tl.byName[name]
	if !ok {
		return false
	}
	e.clearTracks()
	delete(tl.byName, name)
	tl.entities = slices.DeleteFunc(tl.entities, func(o timelineEntity) bool { return o == e })
	return true
}

// Clear removes every entity and event. The playback time is kept.
func (tl *Timeline) Clear() {
	for _, e := range tl.entities {
		e.clearTracks()
	}
	tl.entities = tl.entities[:0]
	clear(tl.byName)
	tl.events = EventTrack{}
}

// CallEvent plants a callback at the current playback time. It fires during a
// later seek, before the ticks of the sub-step that crosses it. A callback
// planted at an instant that already holds one is composed onto it and fires
// after it.
func (tl *Timeline) CallEvent(f EventFunc) {
	tl.events.add(tl.playbackTime, f)
}

// Events exposes the timeline's event track.
func (tl *Timeline) Events() *EventTrack { return &tl.events }

// SetDebugPaused gates seeks: while paused, Seek is a no-op and the playback
// time does not change.
func (tl *Timeline) SetDebugPaused(paused bool) { tl.debugPaused = paused }

// DebugPaused reports if the timeline is paused for debugging.
func (tl *Timeline) DebugPaused() bool { return tl.debugPaused }

// sortEntities orders entities by ascending priority, preserving insertion
// order among ties.
func (tl *Timeline) sortEntities() {
	slices.SortFunc(tl.entities, func(a, b timelineEntity) int {
		if d := a.entityPriority() - b.entityPriority(); d != 0 {
			return d
		}
		return a.entityOrder() - b.entityOrder()
	})
	tl.sortDirty = false
}
