// Package cuda provides handles for accelerators (Device), their execution queues (Stream) and completion markers
// (Event), on top of a driver.Driver.
//
// Almost every driver operation on a stream or event requires the device that owns it to be "current" for the
// calling OS thread. This package takes care of it in two ways:
//
//   - Guarded handles (Device, Stream) make their device current for exactly the duration of each driver call that
//     needs it, and restore the previously current device afterward, on every exit path. They are always safe.
//   - Assumed-current handles (CurrentDevice, CurrentStream) skip the switch altogether: the caller guarantees the
//     device is current. They are obtained explicitly, preferably with Device.WithCurrent, which makes the device
//     current for the whole block:
//
//	err := device.WithCurrent(func(current cuda.CurrentDevice) error {
//		stream := current.DefaultStream()
//		...  // No context switches in here.
//		return stream.Synchronize()
//	})
//
// A guarded handle is never silently turned into an assumed-current one; the other way around is always allowed
// (CurrentDevice.Device and CurrentStream.Stream are the guarded views).
//
// Streams and events remember their device id, and Stream.Device / Event.Device look it up without calling
// the driver.
//
// Usage:
//
//	rt, err := cuda.Open("", nil) // Default driver, see driver.DefaultName.
//	if err != nil { ... }
//	device, err := rt.Device(0)
//	stream, err := device.CreateStream(false)
//	defer stream.Destroy()
//	event, err := device.CreateEvent(driver.EventFlags{})
//	defer event.Destroy()
//	err = stream.Record(event)
//	err = device.SynchronizeEvent(event)
package cuda

import (
	"os"
	"strings"
)

// Priority of a stream. Lower numbers are higher priorities, see Device.StreamPriorityRange.
type Priority int

// DefaultPriority is used by CreateStream.
const DefaultPriority Priority = 0

// CheckCurrentEnv is the environment variable that, if set to "1", "true" or "yes", enables
// Runtime.CheckCurrentAssumptions by default.
const CheckCurrentEnv = "GOCUDA_CHECK_CURRENT"

func envFlag(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
