package cuda

import (
	"runtime"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// contextGuard makes a device current for the calling OS thread, and restores the previously current device when
// released.
//
// The goroutine is locked to its OS thread while the guard is held, since the current device is per thread state.
// Guards are never stored or returned: acquire and `defer release()` in the same function. Nested guards are then
// released in reverse order.
type contextGuard struct {
	drv      driver.Driver
	previous driver.DeviceID

	// switched is false if the device was already current: then neither acquire nor release call SetCurrent.
	switched bool
}

// acquireContext makes device current. On failure no switch happened, and nothing needs to be released.
func acquireContext(drv driver.Driver, device driver.DeviceID) (contextGuard, error) {
	runtime.LockOSThread()
	previous, err := drv.Current()
	if err != nil {
		runtime.UnlockOSThread()
		return contextGuard{}, newContextSwitchError(device, errors.WithMessage(err, "failed to read current device"))
	}
	guard := contextGuard{drv: drv, previous: previous}
	if previous == device {
		return guard, nil
	}
	if err = drv.SetCurrent(device); err != nil {
		runtime.UnlockOSThread()
		return contextGuard{}, newContextSwitchError(device, err)
	}
	if klog.V(2).Enabled() {
		klog.Infof("current device switched %d -> %d", previous, device)
	}
	guard.switched = true
	return guard, nil
}

// release restores the device current before acquireContext.
//
// A failure here leaves the thread with the wrong device current and can't be handled by the caller, so
// it is logged.
func (g contextGuard) release() {
	defer runtime.UnlockOSThread()
	if !g.switched {
		return
	}
	if err := g.drv.SetCurrent(g.previous); err != nil {
		klog.Errorf("failed to restore device %d as current: %+v", g.previous, err)
	}
}

// runner executes fn with device current.
type runner func(device driver.DeviceID, fn func() error) error

// withDevice is the guarded runner.
func (rt *Runtime) withDevice(device driver.DeviceID, fn func() error) error {
	guard, err := acquireContext(rt.drv, device)
	if err != nil {
		return err
	}
	defer guard.release()
	return fn()
}

// assumingCurrent is the unguarded runner: the caller guarantees device is current.
func (rt *Runtime) assumingCurrent(device driver.DeviceID, fn func() error) error {
	if rt.CheckCurrentAssumptions {
		rt.checkCurrent(device)
	}
	return fn()
}

// checkCurrent panics if device is not current: the promise of an assumed-current handle was broken.
func (rt *Runtime) checkCurrent(device driver.DeviceID) {
	current, err := rt.drv.Current()
	if err != nil {
		panic(errors.WithMessagef(err, "failed to check that device %d is current", device))
	}
	if current != device {
		panic(errors.Errorf("device %d was assumed current, but device %d is current instead -- "+
			"use Device.WithCurrent, or the guarded Device/Stream handles", device, current))
	}
}
