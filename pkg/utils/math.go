// Package utils holds the logger constructor and small vector helpers.
package utils

import "math"

// UnitScale rescales v in place to length 1 and returns its length before
// scaling. Accumulation runs in float64. A zero or non-finite length leaves v
// untouched.
func UnitScale(v []float32) float64 {
	var sq float64
	for _, f := range v {
		sq += float64(f) * float64(f)
	}
	length := math.Sqrt(sq)
	if length == 0 || math.IsInf(length, 0) || math.IsNaN(length) {
		return length
	}
	for i, f := range v {
		v[i] = float32(float64(f) / length)
	}
	return length
}
