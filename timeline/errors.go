package timeline

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when a track is indexed outside [0, Len).
	ErrOutOfRange = errors.New("timeline: track index out of range")
	// ErrDuplicateEntity is returned when an entity is added under a name that
	// is already taken on the timeline.
	ErrDuplicateEntity = errors.New("timeline: entity name already in use")
)

// TickPanicError wraps a panic raised by an entity's target during a seek. The
// seek itself continues; the error is recorded in the seek debug sequence.
type TickPanicError struct {
	Entity string
	Time   float64
	Err    error
}

func (e *TickPanicError) Error() string {
	return fmt.Sprintf("timeline: entity %q panicked ticking to %v: %v", e.Entity, e.Time, e.Err)
}

func (e *TickPanicError) Unwrap() error { return e.Err }
