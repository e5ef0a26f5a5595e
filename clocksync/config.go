package clocksync

import (
	"log/slog"
)

// AdjustmentMode selects how a follower applies a pending clock correction.
type AdjustmentMode uint8

const (
	// AdjustLinear shifts the offset at a bounded speed per second, snapping
	// the full remainder when it would take longer than MaxAdjustmentDuration.
	AdjustLinear AdjustmentMode = iota
	// AdjustCurved applies a critically-damped smoothing toward zero for
	// corrections under a second and snaps anything larger immediately.
	AdjustCurved
)

// Config holds the tunable parameters of a Controller. The zero value is
// usable; sensible defaults are applied by withDefaults.
type Config struct {
	// Logger receives controller diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger
	// SyncsPerSecond is the rate at which sync messages are emitted. A tick
	// fires when the game time crosses a 1/SyncsPerSecond boundary.
	SyncsPerSecond float64
	// SecondsPerRecalculation is the width of the offset window each
	// recalculation considers.
	SecondsPerRecalculation float64
	// RecalculationCooldown is extra settling time between recalculations, so
	// a correction is observed in the samples before the next one is derived.
	RecalculationCooldown float64
	// SamplePeriod bounds how long offset samples are retained.
	SamplePeriod float64
	// AdditionalPrediction is the safety margin in seconds by which inputs
	// should arrive ahead of the authority reaching their time.
	AdditionalPrediction float32
	// Mode selects the adjustment application style.
	Mode AdjustmentMode
	// LinearSpeed is the offset shift per second in AdjustLinear mode.
	LinearSpeed float64
	// MaxAdjustmentDuration bounds how long a linear correction may take;
	// anything slower is snapped in one frame.
	MaxAdjustmentDuration float64
	// CurvedDamping is the smoothing time constant of AdjustCurved mode.
	CurvedDamping float64
	// FollowerTimeout is how long the authority keeps reporting to a follower
	// that has gone silent.
	FollowerTimeout float64
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SyncsPerSecond <= 0 {
		c.SyncsPerSecond = 30
	}
	if c.SecondsPerRecalculation <= 0 {
		c.SecondsPerRecalculation = 3
	}
	if c.RecalculationCooldown <= 0 {
		c.RecalculationCooldown = 1
	}
	if c.SamplePeriod <= 0 {
		c.SamplePeriod = 5
	}
	if c.AdditionalPrediction <= 0 {
		c.AdditionalPrediction = 0.017
	}
	if c.LinearSpeed <= 0 {
		c.LinearSpeed = 0.15
	}
	if c.MaxAdjustmentDuration <= 0 {
		c.MaxAdjustmentDuration = 1.5
	}
	if c.CurvedDamping <= 0 {
		c.CurvedDamping = 0.25
	}
	if c.FollowerTimeout <= 0 {
		c.FollowerTimeout = 5
	}
	return c
}
