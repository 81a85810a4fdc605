// Package mathx holds the small generic numeric helpers the stream
// adapters share.
package mathx

import "golang.org/x/exp/constraints"

// Clamp bounds v to the inclusive range [lo, hi], swapping reversed
// bounds rather than rejecting them. Used to keep caller-supplied
// buffer and line-length hints inside sane limits.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
