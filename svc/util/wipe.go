package util

import "runtime"

// Wipe zeroes a secret buffer in place. KeepAlive stops the compiler
// from eliding the stores when b is dead afterwards.
func Wipe(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
