//go:build !linux

package sim

// PerThreadCurrent is false outside linux: there is no portable thread id, so all threads share one current
// device. Concurrent guards on different devices then overwrite each other's current device.
const PerThreadCurrent = false

// threadID identifies the OS thread the current device is kept for.
func threadID() int {
	return 0
}
