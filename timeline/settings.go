package timeline

import (
	"log/slog"
)

// RateConstraint selects how the maximum input rate of an entity is enforced.
type RateConstraint uint8

const (
	// RateQuantized buckets input times into 1/MaxTickRate slots and drops an
	// insert whose slot is already occupied.
	RateQuantized RateConstraint = iota
	// RateVariable rejects an insert that follows the previous input by less
	// than 1/MaxTickRate, without snapping times to a grid.
	RateVariable
)

// Settings holds the tunable parameters of a Timeline. The zero value is
// usable; sensible defaults are applied by withDefaults.
type Settings struct {
	// Logger receives seek warnings when DebugLogSeekWarnings is set. If nil,
	// slog.Default() is used.
	Logger *slog.Logger
	// MaxDeltaTime is the upper bound on a single tick's delta. A larger step
	// is clamped, but playback time still advances to the tick's target.
	MaxDeltaTime float32
	// MaxSeekIterations caps the replay loop of a single seek. When the cap is
	// reached the remaining time is jumped in one final step.
	MaxSeekIterations int
	// MaxTickRate is the maximum input rate in Hz, enforced per the
	// MaxTickRateConstraint policy.
	MaxTickRate float64
	// MaxTickRateConstraint selects the input rate policy.
	MaxTickRateConstraint RateConstraint
	// FixedTickRate is the grid in Hz that confirmed states are stored on and
	// that input lookups are quantised to during replay.
	FixedTickRate float64
	// AlwaysReconcile makes StoreStateAt trim and replay even when the
	// incoming state equals the one already stored.
	AlwaysReconcile bool
	// HistoryLength is the number of seconds preserved on either side of the
	// playback time after each seek.
	HistoryLength float64
	// DebugLogSeekWarnings additionally logs seek warnings through Logger.
	DebugLogSeekWarnings bool
	// Metrics, if non-nil, receives per-entity tick and confirmation counters.
	Metrics *Metrics
}

func (s Settings) withDefaults() Settings {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.MaxDeltaTime <= 0 {
		s.MaxDeltaTime = 0.5
	}
	if s.MaxSeekIterations <= 0 {
		s.MaxSeekIterations = 255
	}
	if s.MaxTickRate <= 0 {
		s.MaxTickRate = 60
	}
	if s.FixedTickRate <= 0 {
		s.FixedTickRate = 60
	}
	if s.HistoryLength <= 0 {
		s.HistoryLength = 1
	}
	return s
}
