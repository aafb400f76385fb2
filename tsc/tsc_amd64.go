package tsc

// cycles is implemented in tsc_amd64.s.
func cycles() uint64

func now() uint64 {
	return cycles()
}

func supported() bool {
	return true
}
