package utils

import (
	"golang.org/x/exp/constraints"
)

// Clamp bounds v to [lo, hi]
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Default returns fallback when v is the zero value
func Default[T constraints.Integer | constraints.Float](v, fallback T) T {
	if v == 0 {
		return fallback
	}
	return v
}
