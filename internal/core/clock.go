package core

import "time"

// MonotonicClock returns a clock that reads wall time at construction and
// then advances on the monotonic clock. Command timestamps taken from it
// never move backwards when the host wall clock is stepped.
func MonotonicClock() func() time.Time {
	anchor := time.Now()
	return func() time.Time {
		return anchor.Add(time.Since(anchor))
	}
}
