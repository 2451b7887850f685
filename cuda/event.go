package cuda

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event is a completion marker: it is recorded on a stream (Stream.Record), and completes when the work
// submitted to the stream before the record completes. It can be waited on (Device.SynchronizeEvent,
// Event.Synchronize), polled (Query) or used to order other streams (Stream.WaitFor).
//
// Events always own the underlying marker, and must be destroyed with Destroy, or they will be when garbage
// collected.
type Event struct {
	rt        *Runtime
	deviceID  driver.DeviceID
	handle    driver.EventHandle
	flags     driver.EventFlags
	destroyed bool
}

// newEvent creates Event and registers it for destruction.
func newEvent(rt *Runtime, device driver.DeviceID, handle driver.EventHandle, flags driver.EventFlags) *Event {
	e := &Event{rt: rt, deviceID: device, handle: handle, flags: flags}
	runtime.SetFinalizer(e, finalizeEvent)
	return e
}

func finalizeEvent(e *Event) {
	if e.rt.IsClosed() {
		klog.V(1).Infof("%s not destroyed before Runtime.Close", e)
		return
	}
	if err := e.Destroy(); err != nil {
		klog.Errorf("Event.Destroy failed: %v", err)
	}
}

// ID returns the driver's event handle.
func (e *Event) ID() driver.EventHandle { return e.handle }

// DeviceID returns the id of the device that created the event.
func (e *Event) DeviceID() driver.DeviceID { return e.deviceID }

// Device returns the guarded handle of the event's device. No driver call is made.
func (e *Event) Device() Device { return e.rt.device(e.deviceID) }

// Flags the event was created with.
func (e *Event) Flags() driver.EventFlags { return e.flags }

// IsDestroyed returns whether Destroy was called.
func (e *Event) IsDestroyed() bool { return e.destroyed }

// String implements fmt.Stringer.
func (e *Event) String() string {
	return fmt.Sprintf("Event[device=%d, event=%#x]", e.deviceID, uintptr(e.handle))
}

func (e *Event) checkAlive() error {
	if e.destroyed {
		return errors.Wrapf(ErrDestroyed, "%s", e)
	}
	return nil
}

// RecordOn is an alias to s.Record(e).
func (e *Event) RecordOn(s *Stream) error {
	return s.Record(e)
}

// Synchronize blocks until the event completes. Events never recorded are complete.
func (e *Event) Synchronize() error {
	return e.Device().SynchronizeEvent(e)
}

// Query returns whether the event has completed, without blocking.
func (e *Event) Query() (done bool, err error) {
	if err = e.checkAlive(); err != nil {
		return false, err
	}
	err = e.rt.withDevice(e.deviceID, func() (err error) {
		done, err = e.rt.drv.QueryEvent(e.handle)
		if err != nil {
			return newSynchronizationError(e.deviceID, e.String(), err)
		}
		return nil
	})
	return
}

// Destroy releases the event. It is idempotent.
func (e *Event) Destroy() error {
	if e == nil || e.destroyed {
		return nil
	}
	err := e.rt.withDevice(e.deviceID, func() error {
		if err := e.rt.drv.DestroyEvent(e.handle); err != nil {
			return errors.WithMessagef(err, "failed to destroy %s", e)
		}
		return nil
	})
	if err != nil {
		return err
	}
	klog.V(1).Infof("destroyed %s", e)
	e.destroyed = true
	return nil
}

// ElapsedTime between the completion of start and end. Both must have been recorded, completed, and created without
// driver.EventFlags.DisableTiming.
func ElapsedTime(start, end *Event) (elapsed time.Duration, err error) {
	if err = start.checkAlive(); err != nil {
		return 0, err
	}
	if err = end.checkAlive(); err != nil {
		return 0, err
	}
	err = start.rt.withDevice(start.deviceID, func() (err error) {
		elapsed, err = start.rt.drv.ElapsedTime(start.handle, end.handle)
		if err != nil {
			return errors.WithMessagef(err, "failed to measure time between %s and %s", start, end)
		}
		return nil
	})
	return
}
