// Package driver defines the capability surface the cuda package calls through: the raw accelerator runtime
// (context selection, queue and event creation, waits), plus a registry of named implementations.
//
// Implementations are thin bindings: they don't track which device a handle belongs to beyond what the underlying
// runtime does, and they never switch devices on their own. Operations that create resources do so on the
// device that is current for the calling OS thread.
//
// See sub-packages `sim` (a pure Go simulated runtime) and `cudart` (NVIDIA's CUDA runtime).
package driver

import (
	"fmt"
	"time"
)

// DeviceID identifies an accelerator within the process. Ids are dense, starting from 0.
type DeviceID int

// QueueHandle is an opaque handle to an execution queue (a CUDA stream).
type QueueHandle uintptr

// EventHandle is an opaque handle to a completion marker (a CUDA event).
type EventHandle uintptr

// DefaultQueue is the well-known sentinel for the built-in queue of the current device.
// It is resolved against whatever device is current when it is used, and it can't be destroyed.
const DefaultQueue QueueHandle = 0

// EventFlags configure event creation.
type EventFlags struct {
	// BlockingSync makes waits on the event yield the thread instead of spinning.
	BlockingSync bool

	// DisableTiming makes the event cheaper, but it can't be used with ElapsedTime.
	DisableTiming bool
}

// String implements fmt.Stringer.
func (f EventFlags) String() string {
	return fmt.Sprintf("EventFlags{BlockingSync=%v, DisableTiming=%v}", f.BlockingSync, f.DisableTiming)
}

// Driver is the raw capability surface of an accelerator runtime.
//
// The "current device" is per OS thread state owned by the Driver: callers that need a sequence of calls to see
// the same current device must lock their goroutine to the thread (runtime.LockOSThread).
type Driver interface {
	// Name of the driver, as registered.
	Name() string

	// DeviceCount returns the number of devices visible to the process.
	DeviceCount() (int, error)

	// DeviceName returns a human-readable name for the device, e.g. "NVIDIA A100-SXM4-40GB".
	DeviceName(id DeviceID) (string, error)

	// Current returns the device current for the calling thread.
	Current() (DeviceID, error)

	// SetCurrent makes the device current for the calling thread.
	SetCurrent(id DeviceID) error

	// StreamPriorityRange of the current device. Lower numbers are higher priorities, so greatest <= least.
	StreamPriorityRange() (least, greatest int, err error)

	// CreateQueue creates a queue on the current device. Priorities outside the range are clamped.
	// If syncWithDefault is false the queue doesn't synchronize implicitly with DefaultQueue.
	CreateQueue(priority int, syncWithDefault bool) (QueueHandle, error)

	// DestroyQueue releases the queue. Work already submitted still completes.
	DestroyQueue(q QueueHandle) error

	// WaitQueue blocks until all work submitted to q before the call has completed.
	WaitQueue(q QueueHandle) error

	// QueryQueue returns whether all work submitted to q has completed, without blocking.
	QueryQueue(q QueueHandle) (bool, error)

	// LaunchHostFunc enqueues fn to be called in q's submission order.
	LaunchHostFunc(q QueueHandle, fn func()) error

	// CreateEvent creates an event on the current device.
	CreateEvent(flags EventFlags) (EventHandle, error)

	// RecordEvent captures in e the work submitted to q so far. q and e must belong to the same device.
	RecordEvent(e EventHandle, q QueueHandle) error

	// WaitEvent blocks until the work captured by the last record of e has completed.
	WaitEvent(e EventHandle) error

	// QueryEvent returns whether the work captured by e has completed, without blocking.
	QueryEvent(e EventHandle) (bool, error)

	// DestroyEvent releases the event.
	DestroyEvent(e EventHandle) error

	// QueueWaitEvent makes all future work submitted to q wait for e. e may belong to another device.
	QueueWaitEvent(q QueueHandle, e EventHandle) error

	// ElapsedTime between the completion of start and end.
	ElapsedTime(start, end EventHandle) (time.Duration, error)

	// SynchronizeDevice blocks until all work on the current device has completed.
	SynchronizeDevice() error

	// Close releases the driver. It's not valid to use it afterwards.
	Close() error
}
