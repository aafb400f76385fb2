// +build !amd64

package tsc

import "time"

var epoch = time.Now()

func now() uint64 {
	return uint64(time.Since(epoch))
}

func supported() bool {
	return false
}
