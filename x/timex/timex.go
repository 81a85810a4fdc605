package timex

import "time"

// NoTimeout, passed where a timeout is expected, means "wait forever".
const NoTimeout time.Duration = -1

// Deadline is an explicit point-in-time budget for a polling wait.
// The zero value is an already-expired deadline; use After to build one.
// A Deadline built from a negative duration never expires.
type Deadline struct {
	at      time.Time
	forever bool
}

// After returns a Deadline that expires d from now.
// d < 0 (NoTimeout) yields a deadline that never expires.
func After(d time.Duration) Deadline {
	if d < 0 {
		return Deadline{forever: true}
	}
	return Deadline{at: time.Now().Add(d)}
}

// Expired reports whether the deadline has passed. It never under-reports:
// a wait of d is always granted at least d of wall time.
func (d Deadline) Expired() bool {
	if d.forever {
		return false
	}
	return time.Now().After(d.at)
}

// PeriodFromHz returns a nanosecond period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) uint64 {
	if freqHz == 0 {
		freqHz = 1
	}
	return uint64(1_000_000_000 / uint64(freqHz))
}
