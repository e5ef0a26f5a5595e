package timeline

import (
	"github.com/lxshades/rewind/internal/timemath"
)

// EventFunc is a callback planted on the event track. It receives the tick
// info of the sub-step that crosses it.
type EventFunc func(info TickInfo)

// EventTrack is the timeline-wide track of scheduled callbacks. Multiple
// events planted at the same instant are composed into one entry and fire in
// insertion order.
type EventTrack struct {
	track Track[[]EventFunc]
}

// Len returns the number of distinct event times on the track.
func (t *EventTrack) Len() int { return t.track.Len() }

// add plants a callback at the given time, composing it onto an existing
// entry at exactly that time if one exists.
func (t *EventTrack) add(time float64, f EventFunc) {
	if i, ok := t.track.IndexAt(time, timemath.GridEpsilon); ok {
		t.track.entries[i].value = append(t.track.entries[i].value, f)
		return
	}
	t.track.Set(time, []EventFunc{f}, timemath.GridEpsilon)
}

// fire invokes every event with a time in [from, to), oldest first, passing
// the tick info of the sub-step about to run. It returns the number of
// callbacks fired.
func (t *EventTrack) fire(from, to float64, info TickInfo) int {
	fired := 0
	for i := t.track.Len() - 1; i >= 0; i-- {
		time := t.track.timeAt(i)
		if time < from {
			continue
		}
		if time >= to {
			break
		}
		for _, f := range t.track.valueAt(i) {
			f(info)
		}
		fired += len(t.track.valueAt(i))
	}
	return fired
}

// cleanup prunes events outside the retained history window.
func (t *EventTrack) cleanup(tMin, tMax float64) {
	t.track.TrimBefore(tMin)
	t.track.TrimAfter(tMax)
}
