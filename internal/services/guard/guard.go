// Package guard holds the numeric-safety rules shared by fitting and sampling.
// Both boundaries call the same functions so the invariants hold whether a
// model was freshly fitted or loaded from storage.
package guard

import "math"

const (
	// MinObservations is the smallest row count a regime can be fitted on.
	MinObservations = 2
	// MinSampleSize is the smallest batch the correlated draw accepts.
	MinSampleSize = 2
	// DefaultUpperCap bounds the draw batch size.
	DefaultUpperCap = 1000
	// MaxDegreesOfFreedom keeps coerced values representable.
	MaxDegreesOfFreedom = 1_000_000
)

// DegreesOfFreedom coerces a raw tail-weight estimate to round(max(1, raw)).
// NaN keeps the floor of 1 and values above MaxDegreesOfFreedom are clamped.
// Rounding is half away from zero.
func DegreesOfFreedom(raw float64) int {
	v := raw
	if math.IsNaN(v) || v < 1 {
		v = 1
	}
	if v > MaxDegreesOfFreedom {
		return MaxDegreesOfFreedom
	}
	return int(math.Round(v))
}

// SampleCount returns floor(min(upperCap, available)), never negative.
func SampleCount(upperCap, available int) int {
	n := math.Floor(math.Min(float64(upperCap), float64(available)))
	if n < 0 {
		return 0
	}
	return int(n)
}

// CanSample reports whether a batch of n draws may be taken.
func CanSample(n int) bool { return n >= MinSampleSize }

// Usable reports whether rows observations are enough to fit a regime.
func Usable(rows int) bool { return rows >= MinObservations }
