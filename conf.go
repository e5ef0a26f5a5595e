package rewind

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/lxshades/rewind/clocksync"
	"github.com/lxshades/rewind/timeline"
)

// UserConfig is the on-disk TOML configuration of a participant. Use
// DefaultConfig for a starting point and the conversion methods to obtain the
// runtime configurations.
type UserConfig struct {
	Timeline struct {
		// FixedTickRate is the simulation tick grid in Hz.
		FixedTickRate float64
		// MaxTickRate is the maximum input rate in Hz.
		MaxTickRate float64
		// RateConstraint selects the input rate policy: "quantized" or
		// "variable".
		RateConstraint string
		// MaxDeltaTime bounds a single tick's delta in seconds.
		MaxDeltaTime float64
		// MaxSeekIterations caps the replay loop of one seek.
		MaxSeekIterations int
		// HistoryLength is the seconds of state and input history preserved
		// around the playback time.
		HistoryLength float64
		// AlwaysReconcile replays even when a reported state matches the
		// predicted one.
		AlwaysReconcile bool
		// LogSeekWarnings logs seek warnings in addition to recording them.
		LogSeekWarnings bool
	}
	ClockSync struct {
		// SyncsPerSecond is the sync message rate in Hz.
		SyncsPerSecond float64
		// SecondsPerRecalculation is the offset window each recalculation
		// considers.
		SecondsPerRecalculation float64
		// RecalculationCooldown is settling time between recalculations.
		RecalculationCooldown float64
		// SamplePeriod bounds how long offset samples are retained.
		SamplePeriod float64
		// AdditionalPrediction is the input arrival safety margin in seconds.
		AdditionalPrediction float64
		// Adjustment selects the correction style: "linear" or "curved".
		Adjustment string
		// LinearSpeed is the offset shift per second in linear mode.
		LinearSpeed float64
		// MaxAdjustmentDuration bounds a linear correction's duration.
		MaxAdjustmentDuration float64
		// CurvedDamping is the smoothing time constant of curved mode.
		CurvedDamping float64
	}
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Timeline.FixedTickRate = 60
	c.Timeline.MaxTickRate = 60
	c.Timeline.RateConstraint = "quantized"
	c.Timeline.MaxDeltaTime = 0.5
	c.Timeline.MaxSeekIterations = 255
	c.Timeline.HistoryLength = 1
	c.ClockSync.SyncsPerSecond = 30
	c.ClockSync.SecondsPerRecalculation = 3
	c.ClockSync.RecalculationCooldown = 1
	c.ClockSync.SamplePeriod = 5
	c.ClockSync.AdditionalPrediction = 0.017
	c.ClockSync.Adjustment = "linear"
	c.ClockSync.LinearSpeed = 0.15
	c.ClockSync.MaxAdjustmentDuration = 1.5
	c.ClockSync.CurvedDamping = 0.25
	return c
}

// TimelineSettings converts the configuration to timeline settings. An
// unknown rate constraint is logged and replaced with the quantized policy.
func (uc UserConfig) TimelineSettings(log *slog.Logger) timeline.Settings {
	if log == nil {
		log = slog.Default()
	}
	constraint := timeline.RateQuantized
	switch uc.Timeline.RateConstraint {
	case "", "quantized":
	case "variable":
		constraint = timeline.RateVariable
	default:
		log.Warn("Unknown rate constraint, using quantized.", "value", uc.Timeline.RateConstraint)
	}
	return timeline.Settings{
		Logger:                log,
		MaxDeltaTime:          float32(uc.Timeline.MaxDeltaTime),
		MaxSeekIterations:     uc.Timeline.MaxSeekIterations,
		MaxTickRate:           uc.Timeline.MaxTickRate,
		MaxTickRateConstraint: constraint,
		FixedTickRate:         uc.Timeline.FixedTickRate,
		AlwaysReconcile:       uc.Timeline.AlwaysReconcile,
		HistoryLength:         uc.Timeline.HistoryLength,
		DebugLogSeekWarnings:  uc.Timeline.LogSeekWarnings,
	}
}

// ClockSyncConfig converts the configuration to a clock sync configuration.
// An unknown adjustment mode is logged and replaced with linear.
func (uc UserConfig) ClockSyncConfig(log *slog.Logger) clocksync.Config {
	if log == nil {
		log = slog.Default()
	}
	mode := clocksync.AdjustLinear
	switch uc.ClockSync.Adjustment {
	case "", "linear":
	case "curved":
		mode = clocksync.AdjustCurved
	default:
		log.Warn("Unknown adjustment mode, using linear.", "value", uc.ClockSync.Adjustment)
	}
	return clocksync.Config{
		Logger:                  log,
		SyncsPerSecond:          uc.ClockSync.SyncsPerSecond,
		SecondsPerRecalculation: uc.ClockSync.SecondsPerRecalculation,
		RecalculationCooldown:   uc.ClockSync.RecalculationCooldown,
		SamplePeriod:            uc.ClockSync.SamplePeriod,
		AdditionalPrediction:    float32(uc.ClockSync.AdditionalPrediction),
		Mode:                    mode,
		LinearSpeed:             uc.ClockSync.LinearSpeed,
		MaxAdjustmentDuration:   uc.ClockSync.MaxAdjustmentDuration,
		CurvedDamping:           uc.ClockSync.CurvedDamping,
	}
}

// ReadConfig loads the configuration at path, creating it with defaults if it
// does not exist yet.
func ReadConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		data, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return c, fmt.Errorf("create default config: %w", err)
		}
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}
