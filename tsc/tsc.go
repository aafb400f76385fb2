// Package tsc reads the processor's timestamp counter. On amd64 the
// counter is read with RDTSC bracketed by LFENCE on both sides, so the
// read cannot drift across the code it measures. Other platforms fall
// back to the Go runtime's monotonic clock.
package tsc

// Supported reports whether this platform reads the hardware counter.
func Supported() bool {
	return supported()
}

// Now returns the current value of the counter. Values are monotonic
// and have no defined epoch or unit: only the difference between two
// reads on the same machine is meaningful.
func Now() uint64 {
	return now()
}
