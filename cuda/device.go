package cuda

import (
	"fmt"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Accelerator is implemented by both Device (guarded) and CurrentDevice (assumed current).
type Accelerator interface {
	fmt.Stringer

	// ID of the device.
	ID() driver.DeviceID

	// AssumesCurrent returns whether the handle skips context switches.
	AssumesCurrent() bool

	// CreateStream creates a new owning stream with DefaultPriority.
	CreateStream(synchronizesWithDefault bool) (*Stream, error)

	// CreateStreamWithPriority creates a new owning stream.
	CreateStreamWithPriority(priority Priority, synchronizesWithDefault bool) (*Stream, error)

	// CreateEvent creates a new event on the device.
	CreateEvent(flags driver.EventFlags) (*Event, error)

	// SynchronizeEvent blocks until the event completes.
	SynchronizeEvent(e *Event) error

	// SynchronizeStream blocks until all work submitted to the stream so far completes.
	SynchronizeStream(s *Stream) error

	// Synchronize blocks until all work on the device completes.
	Synchronize() error

	// StreamPriorityRange returns the range of valid stream priorities.
	StreamPriorityRange() (least, greatest Priority, err error)
}

var (
	_ Accelerator = Device{}
	_ Accelerator = CurrentDevice{}
)

// Device is a lightweight, guarded reference to an accelerator -- it doesn't own the underlying device, and it can
// be freely copied. Every operation that requires the device to be current switches to it, and restores the
// previously current device afterward.
//
// The zero value is not valid: get devices from Runtime.Device or from Stream.Device / Event.Device.
type Device struct {
	rt *Runtime
	id driver.DeviceID
}

// ID of the device.
func (d Device) ID() driver.DeviceID { return d.id }

// Runtime the device belongs to.
func (d Device) Runtime() *Runtime { return d.rt }

// AssumesCurrent is always false for Device.
func (d Device) AssumesCurrent() bool { return false }

// String implements fmt.Stringer.
func (d Device) String() string { return fmt.Sprintf("Device[%d]", d.id) }

// Name returns the name reported by the driver for the device.
func (d Device) Name() (string, error) {
	return d.rt.drv.DeviceName(d.id)
}

// runnerFor returns how to run an operation on a handle of the given device: always guarded.
func (d Device) runnerFor(driver.DeviceID) runner {
	return d.rt.withDevice
}

// DefaultStream returns the non-owning stream for the device's built-in queue.
// No driver call, and no context switch.
func (d Device) DefaultStream() *Stream {
	return newDefaultStream(d.rt, d.id)
}

// CreateStream creates a new owning stream on the device, with DefaultPriority.
// See CreateStreamWithPriority.
func (d Device) CreateStream(synchronizesWithDefault bool) (*Stream, error) {
	return d.CreateStreamWithPriority(DefaultPriority, synchronizesWithDefault)
}

// CreateStreamWithPriority creates a new owning stream on the device, with the device made current for the
// creation call. If synchronizesWithDefault is false the stream won't implicitly synchronize with the
// default stream.
//
// It returns a *ResourceCreationError if the driver fails to create it, and the returned stream must be destroyed
// with Stream.Destroy (or it will be when garbage collected).
func (d Device) CreateStreamWithPriority(priority Priority, synchronizesWithDefault bool) (*Stream, error) {
	return createStream(d.rt, d.id, d.runnerFor(d.id), priority, synchronizesWithDefault)
}

// CreateEvent creates an event on the device. It must be destroyed with Event.Destroy (or it will be when garbage
// collected).
func (d Device) CreateEvent(flags driver.EventFlags) (*Event, error) {
	return createEvent(d.rt, d.id, d.runnerFor(d.id), flags)
}

// SynchronizeEvent blocks until the event completes. The event's own device is made current for the wait,
// which may differ from d.
func (d Device) SynchronizeEvent(e *Event) error {
	return synchronizeEvent(e, d.runnerFor(e.deviceID))
}

// SynchronizeStream blocks until all work submitted to the stream so far completes. The stream's own device is
// made current for the wait, which may differ from d.
//
// A CurrentStream must be given as its guarded view, `cs.Stream`.
func (d Device) SynchronizeStream(s *Stream) error {
	return synchronizeStream(s, d.runnerFor(s.deviceID))
}

// Synchronize blocks until all work on the device completes.
func (d Device) Synchronize() error {
	return synchronizeDevice(d.rt, d.id, d.runnerFor(d.id))
}

// StreamPriorityRange returns the range of stream priorities of the device. Lower numbers are higher priorities,
// so greatest <= least.
func (d Device) StreamPriorityRange() (least, greatest Priority, err error) {
	return streamPriorityRange(d.rt, d.id, d.runnerFor(d.id))
}

// AssumeCurrent returns the assumed-current handle for the device, without switching to it.
//
// This is a promise made by the caller, not checked (except if Runtime.CheckCurrentAssumptions is set): using the
// returned handle while another device is current operates on the wrong device. Prefer WithCurrent.
func (d Device) AssumeCurrent() CurrentDevice {
	return CurrentDevice{Device: d}
}

// WithCurrent makes the device current, calls fn with the assumed-current handle, and restores the previously
// current device on every exit path, including panics. Operations inside fn on the device skip context switches.
//
// The goroutine is locked to its OS thread during fn. The handle passed to fn (and streams derived from it with
// CurrentDevice.DefaultStream) must not be used after fn returns.
func (d Device) WithCurrent(fn func(current CurrentDevice) error) error {
	return d.rt.withDevice(d.id, func() error {
		return fn(CurrentDevice{Device: d})
	})
}

// MakeCurrent makes the device current for the calling OS thread, and doesn't restore the previous one.
//
// It is meant for goroutines that own their OS thread (see runtime.LockOSThread) and work with one device at a time.
func (d Device) MakeCurrent() (CurrentDevice, error) {
	if err := d.rt.drv.SetCurrent(d.id); err != nil {
		return CurrentDevice{}, newContextSwitchError(d.id, err)
	}
	return CurrentDevice{Device: d}, nil
}

// CurrentDevice is a Device that is assumed to be current at every call site: its operations on itself skip
// context switches altogether. Caller-guaranteed and unchecked (except if Runtime.CheckCurrentAssumptions is set).
//
// Operations on streams or events of other devices are still guarded. The embedded Device is the guarded view.
type CurrentDevice struct {
	Device
}

// AssumesCurrent is always true for CurrentDevice.
func (cd CurrentDevice) AssumesCurrent() bool { return true }

// String implements fmt.Stringer.
func (cd CurrentDevice) String() string { return fmt.Sprintf("CurrentDevice[%d]", cd.id) }

// runnerFor returns the unguarded runner for cd's own handles, and the guarded one for other devices.
func (cd CurrentDevice) runnerFor(device driver.DeviceID) runner {
	if device == cd.id {
		return cd.rt.assumingCurrent
	}
	return cd.rt.withDevice
}

// DefaultStream returns the assumed-current stream for the device's built-in queue.
func (cd CurrentDevice) DefaultStream() CurrentStream {
	return CurrentStream{Stream: newDefaultStream(cd.rt, cd.id)}
}

// CreateStream is like Device.CreateStream, without context switch.
func (cd CurrentDevice) CreateStream(synchronizesWithDefault bool) (*Stream, error) {
	return cd.CreateStreamWithPriority(DefaultPriority, synchronizesWithDefault)
}

// CreateStreamWithPriority is like Device.CreateStreamWithPriority, without context switch.
// The returned stream is guarded, since it may be used anywhere.
func (cd CurrentDevice) CreateStreamWithPriority(priority Priority, synchronizesWithDefault bool) (*Stream, error) {
	return createStream(cd.rt, cd.id, cd.runnerFor(cd.id), priority, synchronizesWithDefault)
}

// CreateEvent is like Device.CreateEvent, without context switch.
func (cd CurrentDevice) CreateEvent(flags driver.EventFlags) (*Event, error) {
	return createEvent(cd.rt, cd.id, cd.runnerFor(cd.id), flags)
}

// SynchronizeEvent is like Device.SynchronizeEvent, without context switch if the event belongs to cd.
func (cd CurrentDevice) SynchronizeEvent(e *Event) error {
	return synchronizeEvent(e, cd.runnerFor(e.deviceID))
}

// SynchronizeStream is like Device.SynchronizeStream, without context switch if the stream belongs to cd.
func (cd CurrentDevice) SynchronizeStream(s *Stream) error {
	return synchronizeStream(s, cd.runnerFor(s.deviceID))
}

// Synchronize is like Device.Synchronize, without context switch.
func (cd CurrentDevice) Synchronize() error {
	return synchronizeDevice(cd.rt, cd.id, cd.runnerFor(cd.id))
}

// StreamPriorityRange is like Device.StreamPriorityRange, without context switch.
func (cd CurrentDevice) StreamPriorityRange() (least, greatest Priority, err error) {
	return streamPriorityRange(cd.rt, cd.id, cd.runnerFor(cd.id))
}

func createStream(rt *Runtime, device driver.DeviceID, run runner, priority Priority, syncWithDefault bool) (*Stream, error) {
	var handle driver.QueueHandle
	err := run(device, func() (err error) {
		handle, err = rt.drv.CreateQueue(int(priority), syncWithDefault)
		if err != nil {
			return newResourceCreationError(device, "stream", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s := newOwningStream(rt, device, handle, priority, syncWithDefault)
	klog.V(1).Infof("created %s", s)
	return s, nil
}

func createEvent(rt *Runtime, device driver.DeviceID, run runner, flags driver.EventFlags) (*Event, error) {
	var handle driver.EventHandle
	err := run(device, func() (err error) {
		handle, err = rt.drv.CreateEvent(flags)
		if err != nil {
			return newResourceCreationError(device, "event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e := newEvent(rt, device, handle, flags)
	klog.V(1).Infof("created %s", e)
	return e, nil
}

func synchronizeEvent(e *Event, run runner) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	return run(e.deviceID, func() error {
		if err := e.rt.drv.WaitEvent(e.handle); err != nil {
			return newSynchronizationError(e.deviceID, e.String(), err)
		}
		return nil
	})
}

func synchronizeStream(s *Stream, run runner) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	return run(s.deviceID, func() error {
		if err := s.rt.drv.WaitQueue(s.handle); err != nil {
			return newSynchronizationError(s.deviceID, s.String(), err)
		}
		return nil
	})
}

func synchronizeDevice(rt *Runtime, device driver.DeviceID, run runner) error {
	return run(device, func() error {
		if err := rt.drv.SynchronizeDevice(); err != nil {
			return newSynchronizationError(device, "device", err)
		}
		return nil
	})
}

func streamPriorityRange(rt *Runtime, device driver.DeviceID, run runner) (least, greatest Priority, err error) {
	err = run(device, func() error {
		l, g, err := rt.drv.StreamPriorityRange()
		if err != nil {
			return errors.WithMessagef(err, "failed to get stream priority range of device %d", device)
		}
		least, greatest = Priority(l), Priority(g)
		return nil
	})
	return
}
