package cuda

import (
	"fmt"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidDevice is returned when looking up a device id the runtime doesn't have.
	ErrInvalidDevice = errors.New("invalid device id")

	// ErrDestroyed is returned by operations on a Stream or Event that has already been destroyed.
	ErrDestroyed = errors.New("handle already destroyed")
)

// UnknownDevice is the Device of a ContextSwitchError when no switch was being attempted, e.g. in Runtime.Current.
const UnknownDevice driver.DeviceID = -1

// ContextSwitchError is returned when the device couldn't be made current (or the current device couldn't be read).
// No restoration is attempted in that case, since no switch happened.
type ContextSwitchError struct {
	// Device that was to be made current, or UnknownDevice if only reading the current device failed.
	Device driver.DeviceID
	err    error
}

// Error implements error.
func (e *ContextSwitchError) Error() string {
	if e.Device == UnknownDevice {
		return fmt.Sprintf("failed to read the current device: %v", e.err)
	}
	return fmt.Sprintf("failed to make device %d current: %v", e.Device, e.err)
}

// Unwrap returns the driver error.
func (e *ContextSwitchError) Unwrap() error { return e.err }

func newContextSwitchError(device driver.DeviceID, err error) error {
	return errors.WithStack(&ContextSwitchError{Device: device, err: err})
}

// ResourceCreationError is returned when a stream or event couldn't be created, e.g. because the device ran
// out of resources. It is not retried.
type ResourceCreationError struct {
	Device driver.DeviceID

	// Resource is "stream" or "event".
	Resource string
	err      error
}

// Error implements error.
func (e *ResourceCreationError) Error() string {
	return fmt.Sprintf("failed to create %s on device %d: %v", e.Resource, e.Device, e.err)
}

// Unwrap returns the driver error.
func (e *ResourceCreationError) Unwrap() error { return e.err }

func newResourceCreationError(device driver.DeviceID, resource string, err error) error {
	return errors.WithStack(&ResourceCreationError{Device: device, Resource: resource, err: err})
}

// SynchronizationError is returned when a wait on a stream, event or device fails, e.g. because the handle is
// invalid or unreachable from its device.
type SynchronizationError struct {
	Device driver.DeviceID

	// Target describes what was waited on, e.g. "stream 0x1234".
	Target string
	err    error
}

// Error implements error.
func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("failed to synchronize %s on device %d: %v", e.Target, e.Device, e.err)
}

// Unwrap returns the driver error.
func (e *SynchronizationError) Unwrap() error { return e.err }

func newSynchronizationError(device driver.DeviceID, target string, err error) error {
	return errors.WithStack(&SynchronizationError{Device: device, Target: target, err: err})
}

// CrossDeviceError is returned when an event is recorded on a stream of a different device.
// The check is done before calling the driver.
type CrossDeviceError struct {
	EventDevice, StreamDevice driver.DeviceID
}

// Error implements error.
func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("event of device %d can't be recorded on a stream of device %d", e.EventDevice, e.StreamDevice)
}
