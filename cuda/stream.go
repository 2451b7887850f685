package cuda

import (
	"fmt"
	"runtime"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Ownership tells whether a Stream is responsible for destroying its queue.
type Ownership int

//go:generate go tool enumer -type=Ownership stream.go

const (
	// NonOwning streams refer to a queue that outlives them, like the default queue of a device.
	NonOwning Ownership = iota

	// Owning streams were created by this package and destroy their queue.
	Owning
)

// Stream is a guarded handle to an ordered execution queue on one device: operations make the stream's device
// current for the driver call, and restore the previously current device afterward.
//
// Streams are either owning (created with Device.CreateStream), or non-owning (Device.DefaultStream).
// Owning streams must be destroyed with Destroy, or they will be when garbage collected.
//
// A Stream must not be destroyed concurrently with its use from another goroutine.
type Stream struct {
	rt              *Runtime
	deviceID        driver.DeviceID
	handle          driver.QueueHandle
	ownership       Ownership
	priority        Priority
	syncWithDefault bool
	destroyed       bool
}

func newDefaultStream(rt *Runtime, device driver.DeviceID) *Stream {
	return &Stream{
		rt:              rt,
		deviceID:        device,
		handle:          driver.DefaultQueue,
		ownership:       NonOwning,
		priority:        DefaultPriority,
		syncWithDefault: true,
	}
}

// newOwningStream creates the Stream and registers it for destruction.
func newOwningStream(rt *Runtime, device driver.DeviceID, handle driver.QueueHandle, priority Priority, syncWithDefault bool) *Stream {
	s := &Stream{
		rt:              rt,
		deviceID:        device,
		handle:          handle,
		ownership:       Owning,
		priority:        priority,
		syncWithDefault: syncWithDefault,
	}
	runtime.SetFinalizer(s, finalizeStream)
	return s
}

func finalizeStream(s *Stream) {
	if s.rt.IsClosed() {
		klog.V(1).Infof("%s not destroyed before Runtime.Close", s)
		return
	}
	if err := s.Destroy(); err != nil {
		klog.Errorf("Stream.Destroy failed: %v", err)
	}
}

// ID returns the driver's queue handle.
func (s *Stream) ID() driver.QueueHandle { return s.handle }

// DeviceID returns the id of the device the stream belongs to.
func (s *Stream) DeviceID() driver.DeviceID { return s.deviceID }

// Device returns the guarded handle of the stream's device. No driver call is made.
func (s *Stream) Device() Device { return s.rt.device(s.deviceID) }

// Ownership of the underlying queue.
func (s *Stream) Ownership() Ownership { return s.ownership }

// IsOwning returns whether the stream destroys its queue.
func (s *Stream) IsOwning() bool { return s.ownership == Owning }

// IsDefault returns whether the stream is the default stream of its device.
func (s *Stream) IsDefault() bool { return s.handle == driver.DefaultQueue }

// Priority the stream was created with. Drivers may clamp it to the device's range.
func (s *Stream) Priority() Priority { return s.priority }

// SynchronizesWithDefault returns whether the stream synchronizes implicitly with the default stream.
func (s *Stream) SynchronizesWithDefault() bool { return s.syncWithDefault }

// IsDestroyed returns whether Destroy was called.
func (s *Stream) IsDestroyed() bool { return s.destroyed }

// String implements fmt.Stringer.
func (s *Stream) String() string {
	if s.IsDefault() {
		return fmt.Sprintf("Stream[device=%d, default]", s.deviceID)
	}
	return fmt.Sprintf("Stream[device=%d, queue=%#x, %s, priority=%d]", s.deviceID, uintptr(s.handle), s.ownership, s.priority)
}

func (s *Stream) checkAlive() error {
	if s.destroyed {
		return errors.Wrapf(ErrDestroyed, "%s", s)
	}
	return nil
}

// Synchronize blocks until all work submitted to the stream so far completes.
// It returns a *SynchronizationError if the driver fails.
func (s *Stream) Synchronize() error {
	return s.Device().SynchronizeStream(s)
}

// Query returns whether all work submitted to the stream has completed, without blocking.
func (s *Stream) Query() (done bool, err error) {
	return s.query(s.rt.withDevice)
}

// Record captures in e the work submitted to the stream so far: e completes when that work completes.
//
// The event must belong to the stream's device, otherwise a *CrossDeviceError is returned and the driver is not
// called.
func (s *Stream) Record(e *Event) error {
	return s.record(e, s.rt.withDevice)
}

// WaitFor makes all work submitted to the stream after this call wait for e to complete. The event may belong to
// another device: this is how dependencies across devices are expressed.
func (s *Stream) WaitFor(e *Event) error {
	return s.waitFor(e, s.rt.withDevice)
}

// Enqueue submits fn to be called on a host thread, in the stream's submission order.
// fn must not call the driver.
func (s *Stream) Enqueue(fn func()) error {
	return s.enqueue(fn, s.rt.withDevice)
}

// Destroy releases the queue if the stream owns it; work already submitted still completes.
// For non-owning streams it only invalidates the handle.
//
// It is idempotent: destroying an already destroyed stream is a no-op.
func (s *Stream) Destroy() error {
	if s == nil || s.destroyed {
		return nil
	}
	return s.destroy(s.rt.withDevice)
}

// SynchronizeAndDestroy waits for the stream's work and destroys it. Both are attempted, and errors are combined.
func (s *Stream) SynchronizeAndDestroy() error {
	return multierr.Append(s.Synchronize(), s.Destroy())
}

func (s *Stream) query(run runner) (done bool, err error) {
	if err = s.checkAlive(); err != nil {
		return false, err
	}
	err = run(s.deviceID, func() (err error) {
		done, err = s.rt.drv.QueryQueue(s.handle)
		if err != nil {
			return newSynchronizationError(s.deviceID, s.String(), err)
		}
		return nil
	})
	return
}

func (s *Stream) record(e *Event, run runner) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.deviceID != s.deviceID {
		return errors.WithStack(&CrossDeviceError{EventDevice: e.deviceID, StreamDevice: s.deviceID})
	}
	return run(s.deviceID, func() error {
		if err := s.rt.drv.RecordEvent(e.handle, s.handle); err != nil {
			return errors.WithMessagef(err, "failed to record %s on %s", e, s)
		}
		return nil
	})
}

func (s *Stream) waitFor(e *Event, run runner) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if err := e.checkAlive(); err != nil {
		return err
	}
	return run(s.deviceID, func() error {
		if err := s.rt.drv.QueueWaitEvent(s.handle, e.handle); err != nil {
			return errors.WithMessagef(err, "failed to make %s wait for %s", s, e)
		}
		return nil
	})
}

func (s *Stream) enqueue(fn func(), run runner) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	return run(s.deviceID, func() error {
		if err := s.rt.drv.LaunchHostFunc(s.handle, fn); err != nil {
			return errors.WithMessagef(err, "failed to enqueue host function on %s", s)
		}
		return nil
	})
}

func (s *Stream) destroy(run runner) error {
	if s.destroyed {
		return nil
	}
	if s.ownership == NonOwning {
		s.destroyed = true
		return nil
	}
	err := run(s.deviceID, func() error {
		if err := s.rt.drv.DestroyQueue(s.handle); err != nil {
			return errors.WithMessagef(err, "failed to destroy %s", s)
		}
		return nil
	})
	if err != nil {
		return err
	}
	klog.V(1).Infof("destroyed %s", s)
	s.destroyed = true
	return nil
}

// CurrentStream is a Stream whose device is assumed to be current: its operations skip context switches.
// Caller-guaranteed and unchecked (except if Runtime.CheckCurrentAssumptions is set).
//
// It is obtained from CurrentDevice.DefaultStream or from Stream.AssumeCurrent. The embedded Stream is the
// guarded view, and it's what Device.SynchronizeStream takes.
type CurrentStream struct {
	*Stream
}

// AssumeCurrent returns the assumed-current view of the stream, sharing the same underlying queue (and ownership).
//
// This is a promise made by the caller that the stream's device is current wherever the returned handle is used.
func (s *Stream) AssumeCurrent() CurrentStream {
	return CurrentStream{Stream: s}
}

// String implements fmt.Stringer.
func (cs CurrentStream) String() string {
	return "Current" + cs.Stream.String()
}

// Synchronize is like Stream.Synchronize, without context switch.
func (cs CurrentStream) Synchronize() error {
	return synchronizeStream(cs.Stream, cs.rt.assumingCurrent)
}

// Query is like Stream.Query, without context switch.
func (cs CurrentStream) Query() (done bool, err error) {
	return cs.query(cs.rt.assumingCurrent)
}

// Record is like Stream.Record, without context switch.
func (cs CurrentStream) Record(e *Event) error {
	return cs.record(e, cs.rt.assumingCurrent)
}

// WaitFor is like Stream.WaitFor, without context switch.
func (cs CurrentStream) WaitFor(e *Event) error {
	return cs.waitFor(e, cs.rt.assumingCurrent)
}

// Enqueue is like Stream.Enqueue, without context switch.
func (cs CurrentStream) Enqueue(fn func()) error {
	return cs.enqueue(fn, cs.rt.assumingCurrent)
}

// Destroy is like Stream.Destroy, without context switch.
func (cs CurrentStream) Destroy() error {
	return cs.destroy(cs.rt.assumingCurrent)
}

// SynchronizeAndDestroy is like Stream.SynchronizeAndDestroy, without context switches.
func (cs CurrentStream) SynchronizeAndDestroy() error {
	return multierr.Append(cs.Synchronize(), cs.Destroy())
}
