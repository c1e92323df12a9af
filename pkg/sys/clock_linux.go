//go:build linux

package sys

import "golang.org/x/sys/unix"

// MonotonicNow returns the current time on the raw monotonic clock in
// nanoseconds, falling back to the adjusted monotonic clock where the
// raw one is unavailable.
func MonotonicNow() (uint64, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts)
	if err != nil {
		err = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	}
	if err != nil {
		return 0, err
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec), nil
}
