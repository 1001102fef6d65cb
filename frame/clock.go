package frame

import "time"

var clockBase = time.Now()

// Ticks returns the current timestamp in 100-nanosecond units from a
// process-local monotonic base. The epoch is unspecified on the wire;
// peers treat the value as opaque.
func Ticks() int64 {
	return time.Since(clockBase).Nanoseconds() / 100
}
