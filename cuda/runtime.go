package cuda

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Runtime holds the driver and the devices it makes available. Devices, streams and events keep a reference to
// the Runtime they were created from.
type Runtime struct {
	drv        driver.Driver
	numDevices int
	closed     atomic.Bool

	// CheckCurrentAssumptions makes assumed-current handles (CurrentDevice, CurrentStream) verify that their device
	// really is current before each operation, and panic if not. It costs one extra driver call per operation, so
	// it is meant for debugging.
	//
	// Default is false, but it can be changed by setting the environment variable "GOCUDA_CHECK_CURRENT=1".
	CheckCurrentAssumptions bool
}

// New creates a Runtime over the given driver.
func New(drv driver.Driver) (*Runtime, error) {
	numDevices, err := drv.DeviceCount()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to count devices of driver %q", drv.Name())
	}
	rt := &Runtime{
		drv:                     drv,
		numDevices:              numDevices,
		CheckCurrentAssumptions: envFlag(CheckCurrentEnv),
	}
	klog.V(1).Infof("created %s", rt)
	return rt, nil
}

// Open the named driver (see driver.Open) and creates a Runtime over it.
// If name is empty, driver.DefaultName() is used. The options (it can be left nil) are driver specific.
func Open(name string, options driver.Options) (*Runtime, error) {
	drv, err := driver.Open(name, options)
	if err != nil {
		return nil, err
	}
	rt, err := New(drv)
	if err != nil {
		if errClose := drv.Close(); errClose != nil {
			klog.Errorf("failed to close driver %q: %+v", drv.Name(), errClose)
		}
		return nil, err
	}
	return rt, nil
}

// Driver returns the underlying driver.
func (rt *Runtime) Driver() driver.Driver { return rt.drv }

// NumDevices returns the number of devices, possibly 0.
func (rt *Runtime) NumDevices() int { return rt.numDevices }

// String implements fmt.Stringer.
func (rt *Runtime) String() string {
	return fmt.Sprintf("Runtime[driver=%q, %d devices]", rt.drv.Name(), rt.numDevices)
}

// Device returns the guarded handle for the device with the given id.
func (rt *Runtime) Device(id driver.DeviceID) (Device, error) {
	if id < 0 || int(id) >= rt.numDevices {
		return Device{}, errors.Wrapf(ErrInvalidDevice, "device %d not in runtime with %d devices", id, rt.numDevices)
	}
	return rt.device(id), nil
}

// device returns the handle without validation, for ids stored in handles created by this runtime.
func (rt *Runtime) device(id driver.DeviceID) Device {
	return Device{rt: rt, id: id}
}

// Devices returns guarded handles for all devices, ordered by id.
func (rt *Runtime) Devices() []Device {
	devices := make([]Device, rt.numDevices)
	for ii := range devices {
		devices[ii] = rt.device(driver.DeviceID(ii))
	}
	return devices
}

// Current returns the device current for the calling OS thread, as a CurrentDevice.
//
// The assumption only holds while the goroutine stays on the same thread and nobody switches devices:
// call runtime.LockOSThread before, or prefer Device.WithCurrent.
func (rt *Runtime) Current() (CurrentDevice, error) {
	id, err := rt.drv.Current()
	if err != nil {
		return CurrentDevice{}, newContextSwitchError(UnknownDevice, err)
	}
	return CurrentDevice{Device: rt.device(id)}, nil
}

// SynchronizeAll blocks until all work on all devices has completed. Devices are synchronized concurrently,
// and the first error is returned.
func (rt *Runtime) SynchronizeAll() error {
	var g errgroup.Group
	for _, device := range rt.Devices() {
		g.Go(device.Synchronize)
	}
	return g.Wait()
}

// Close the underlying driver. It is idempotent.
//
// Streams and events should be destroyed before. The ones left are released along with the driver, and their
// finalizers no longer try to destroy them.
func (rt *Runtime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	return rt.drv.Close()
}

// IsClosed returns whether Close was called.
func (rt *Runtime) IsClosed() bool { return rt.closed.Load() }
