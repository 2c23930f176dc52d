// Package inter defines the primitive types shared by the LumeFi accounting
// core: nanosecond timestamps and the epoch arithmetic built on top of them.
//
// Epochs are fixed-length time windows. All epoch-gated state machines
// (treasury allocation, rebase cycles, boardroom lockups) compare a Timestamp
// against a stored "next epoch" boundary instead of counting wall-clock
// ticks, so a late trigger never shifts the cadence.
package inter

import (
	"time"
)

// Timestamp is a UNIX timestamp in nanoseconds.
type Timestamp uint64

// FromUnix converts a UNIX timestamp in seconds to a Timestamp.
func FromUnix(t int64) Timestamp {
	return Timestamp(t) * Timestamp(time.Second)
}

// ToTimestamp converts a time.Time to a Timestamp.
func ToTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Time converts a Timestamp to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t/Timestamp(time.Second)), int64(t%Timestamp(time.Second)))
}

// Unix returns the Timestamp in seconds.
func (t Timestamp) Unix() int64 {
	return int64(t) / int64(time.Second)
}

// Add advances the Timestamp by a duration. Negative durations are not
// supported.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}
