//go:build linux

package sim

import "golang.org/x/sys/unix"

// PerThreadCurrent tells whether each OS thread has its own current device, as with a real runtime.
const PerThreadCurrent = true

// threadID identifies the OS thread the current device is kept for.
func threadID() int {
	return unix.Gettid()
}
