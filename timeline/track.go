package timeline

import (
	"math"

	"github.com/brentp/intintmap"
	"github.com/lxshades/rewind/internal/timemath"
)

// entry is a single timestamped value on a track.
type entry[T any] struct {
	time  float64
	value T
}

// Track is an ordered time-keyed store. Entries are kept newest-first: index 0
// is the latest, and times are strictly monotonically decreasing across
// indices. Histories are expected to stay small, so mutations use linear
// scans over a contiguous slice.
type Track[T any] struct {
	entries []entry[T]
}

// Len returns the number of entries on the track.
func (t *Track[T]) Len() int { return len(t.entries) }

// Time returns the time of the entry at index i.
func (t *Track[T]) Time(i int) (float64, error) {
	if i < 0 || i >= len(t.entries) {
		return 0, ErrOutOfRange
	}
	return t.entries[i].time, nil
}

// Value returns the value of the entry at index i.
func (t *Track[T]) Value(i int) (T, error) {
	if i < 0 || i >= len(t.entries) {
		var zero T
		return zero, ErrOutOfRange
	}
	return t.entries[i].value, nil
}

// LatestTime returns the time of the newest entry, if any.
func (t *Track[T]) LatestTime() (float64, bool) {
	if len(t.entries) == 0 {
		return 0, false
	}
	return t.entries[0].time, true
}

// timeAt and valueAt are the unchecked accessors used on hot paths where the
// index was produced by a search on the same track.
func (t *Track[T]) timeAt(i int) float64 { return t.entries[i].time }
func (t *Track[T]) valueAt(i int) T      { return t.entries[i].value }

// Set writes v at time time. An existing entry within ±tolerance is replaced
// in place, keeping its original time so that repeated writes do not creep
// across bucket boundaries; otherwise a new entry is inserted preserving the
// newest-first order. The index of the written entry is returned.
func (t *Track[T]) Set(time float64, v T, tolerance float64) int {
	for i := range t.entries {
		if math.Abs(t.entries[i].time-time) <= tolerance {
			t.entries[i].value = v
			return i
		}
		if t.entries[i].time < time {
			t.entries = append(t.entries, entry[T]{})
			copy(t.entries[i+1:], t.entries[i:])
			t.entries[i] = entry[T]{time: time, value: v}
			return i
		}
	}
	t.entries = append(t.entries, entry[T]{time: time, value: v})
	return len(t.entries) - 1
}

// IndexAt returns the index of the entry within ±tolerance of time, or -1 and
// false if there is none.
func (t *Track[T]) IndexAt(time float64, tolerance float64) (int, bool) {
	for i := range t.entries {
		if math.Abs(t.entries[i].time-time) <= tolerance {
			return i, true
		}
		if t.entries[i].time < time-tolerance {
			break
		}
	}
	return -1, false
}

// ClosestIndexBefore returns the smallest index whose time is at or before
// time+tolerance, or -1 and false if every entry is later.
func (t *Track[T]) ClosestIndexBefore(time float64, tolerance float64) (int, bool) {
	for i := range t.entries {
		if t.entries[i].time <= time+tolerance {
			return i, true
		}
	}
	return -1, false
}

// ClosestIndexBeforeInclusive is ClosestIndexBefore with an inclusive bound on
// time itself.
func (t *Track[T]) ClosestIndexBeforeInclusive(time float64) (int, bool) {
	return t.ClosestIndexBefore(time, 0)
}

// ClosestIndexBeforeOrEarliest is ClosestIndexBefore, falling back to the
// earliest entry when no entry lies at or before the time. It only fails on an
// empty track.
func (t *Track[T]) ClosestIndexBeforeOrEarliest(time float64, tolerance float64) (int, bool) {
	if i, ok := t.ClosestIndexBefore(time, tolerance); ok {
		return i, true
	}
	if len(t.entries) == 0 {
		return -1, false
	}
	return len(t.entries) - 1, true
}

// TrimBefore removes all entries with a time before tMin.
func (t *Track[T]) TrimBefore(tMin float64) {
	for i := range t.entries {
		if t.entries[i].time < tMin {
			clearEntries(t.entries[i:])
			t.entries = t.entries[:i]
			return
		}
	}
}

// TrimBeforeExceptLatest is TrimBefore, but the newest entry is preserved
// unconditionally.
func (t *Track[T]) TrimBeforeExceptLatest(tMin float64) {
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].time < tMin {
			clearEntries(t.entries[i:])
			t.entries = t.entries[:i]
			return
		}
	}
}

// TrimAfter removes all entries with a time after tMax.
func (t *Track[T]) TrimAfter(tMax float64) {
	for i := range t.entries {
		if t.entries[i].time <= tMax {
			if i == 0 {
				return
			}
			n := copy(t.entries, t.entries[i:])
			clearEntries(t.entries[n:])
			t.entries = t.entries[:n]
			return
		}
	}
	t.Clear()
}

// Clear removes every entry.
func (t *Track[T]) Clear() {
	clearEntries(t.entries)
	t.entries = t.entries[:0]
}

// clearEntries zeroes a removed range so that trimmed values do not keep
// referenced memory alive.
func clearEntries[T any](s []entry[T]) {
	var zero entry[T]
	for i := range s {
		s[i] = zero
	}
}

// StateTrack stores the confirmed state history of an entity.
type StateTrack[S any] struct {
	Track[S]
}

// InputTrack stores the input history of an entity. When constructed with a
// positive rate it additionally maintains an occupancy index over the
// 1/rate buckets of its entries, giving the quantised input-rate policy an
// O(1) duplicate check.
type InputTrack[I any] struct {
	Track[I]

	rate    float64
	buckets *intintmap.Map
}

// NewInputTrack creates an input track enforcing bucket occupancy at the given
// maximum tick rate in Hz. A rate of 0 or lower disables the bucket index.
func NewInputTrack[I any](rate float64) *InputTrack[I] {
	tr := &InputTrack[I]{rate: rate}
	if rate > 0 {
		tr.buckets = intintmap.New(64, 0.6)
	}
	return tr
}

// HasBucket reports if an entry already occupies the bucket that time falls
// into. Always false when the bucket index is disabled.
func (t *InputTrack[I]) HasBucket(time float64) bool {
	if t.buckets == nil {
		return false
	}
	_, ok := t.buckets.Get(timemath.Bucket(time, t.rate))
	return ok
}

// Set writes an input, keeping the bucket index in sync.
func (t *InputTrack[I]) Set(time float64, v I, tolerance float64) int {
	i := t.Track.Set(time, v, tolerance)
	if t.buckets != nil {
		t.buckets.Put(timemath.Bucket(t.timeAt(i), t.rate), 1)
	}
	return i
}

// TrimBefore removes all entries with a time before tMin.
func (t *InputTrack[I]) TrimBefore(tMin float64) {
	t.Track.TrimBefore(tMin)
	t.rebuildBuckets()
}

// TrimBeforeExceptLatest is TrimBefore, preserving the newest entry.
func (t *InputTrack[I]) TrimBeforeExceptLatest(tMin float64) {
	t.Track.TrimBeforeExceptLatest(tMin)
	t.rebuildBuckets()
}

// TrimAfter removes all entries with a time after tMax.
func (t *InputTrack[I]) TrimAfter(tMax float64) {
	t.Track.TrimAfter(tMax)
	t.rebuildBuckets()
}

// Clear removes every entry.
func (t *InputTrack[I]) Clear() {
	t.Track.Clear()
	t.rebuildBuckets()
}

// rebuildBuckets re-derives the occupancy index after a trim. The map has no
// removal path that keeps its probe sequences intact, so survivors are
// re-inserted into a fresh map instead.
func (t *InputTrack[I]) rebuildBuckets() {
	if t.buckets == nil {
		return
	}
	m := intintmap.New(max(64, t.Len()), 0.6)
	for i := range t.entries {
		m.Put(timemath.Bucket(t.entries[i].time, t.rate), 1)
	}
	t.buckets = m
}
