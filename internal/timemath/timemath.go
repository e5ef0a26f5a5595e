// Package timemath implements the time arithmetic used by the timeline package
// and the demo command. Simulation times are 64-bit seconds; deltas between
// adjacent times are narrowed to 32 bits only after subtraction so that
// precision is kept over long sessions.
package timemath

import (
	"math"

	"golang.org/x/exp/constraints"
)

const (
	// Tolerance is the default equality tolerance for track times. Two times
	// closer than this refer to the same instant.
	Tolerance = 1e-5
	// GridEpsilon nudges a time before quantisation so that values sitting a
	// float rounding error below a grid line land on it rather than one full
	// step earlier.
	GridEpsilon = 1e-6
)

// Quantize snaps t down to the grid of the given rate in Hz. A rate of 0 or
// lower leaves t untouched.
func Quantize[T constraints.Float](t T, rate float64) T {
	if rate <= 0 {
		return t
	}
	return T(math.Floor(float64(t)*rate) / rate)
}

// Stable quantises t with GridEpsilon compensation, so that a time already on
// the grid (up to rounding error) maps to itself.
func Stable(t, rate float64) float64 {
	return Quantize(t+GridEpsilon, rate)
}

// OnGrid reports if t lies on the grid of the given rate, within GridEpsilon.
func OnGrid(t, rate float64) bool {
	if rate <= 0 {
		return true
	}
	return math.Abs(t-Stable(t, rate)) <= GridEpsilon
}

// Bucket returns the index of the grid slot t falls into.
func Bucket(t, rate float64) int64 {
	return int64(math.Floor((t + GridEpsilon) * rate))
}

// Delta computes the 32-bit step between two adjacent 64-bit times.
func Delta(next, current float64) float32 {
	return float32(next - current)
}
