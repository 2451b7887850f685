package cuda

// Common initialization and testing tools for all test files.

import (
	"flag"
	"fmt"
	"runtime"
	"testing"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/driver/sim"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var flagDriverName = flag.String("driver", "sim", "driver name to run the tests that don't need call traces on")

func init() {
	klog.InitFlags(nil)
}

type errTester[T any] struct {
	value T
	err   error
}

// capture is a shortcut to test that there is no error and return the value.
func capture[T any](value T, err error) errTester[T] {
	return errTester[T]{value, err}
}

func (e errTester[T]) Test(t *testing.T) T {
	require.NoError(t, e.err)
	return e.value
}

type errTester2[T1, T2 any] struct {
	value1 T1
	value2 T2
	err    error
}

// capture2 is like capture, for functions returning two values.
func capture2[T1, T2 any](value1 T1, value2 T2, err error) errTester2[T1, T2] {
	return errTester2[T1, T2]{value1, value2, err}
}

func (e errTester2[T1, T2]) Test(t *testing.T) (T1, T2) {
	require.NoError(t, e.err)
	return e.value1, e.value2
}

// lockThread pins the test goroutine to its OS thread until the end of the test, so the current device read by the
// test is the one the operations under test see.
func lockThread(t *testing.T) {
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
}

// getRuntime opens the driver given by -driver, and skips the test if it has fewer than minDevices devices.
// The runtime is closed at the end of the test.
func getRuntime(t *testing.T, minDevices int) *Runtime {
	rt, err := Open(*flagDriverName, nil)
	require.NoErrorf(t, err, "Failed to open driver %q", *flagDriverName)
	t.Cleanup(func() { require.NoError(t, rt.Close()) })
	if rt.NumDevices() < minDevices {
		t.Skipf("%s has %d devices, test requires %d", rt, rt.NumDevices(), minDevices)
	}
	fmt.Printf("Testing on %s\n", rt)
	return rt
}

// getSimRuntime creates a runtime over a strict simulated driver with numDevices devices, whose calls can be
// inspected by the test.
func getSimRuntime(t *testing.T, numDevices int) (*Runtime, *sim.Driver) {
	drv, err := sim.New(driver.Options{"devices": numDevices})
	require.NoError(t, err)
	rt, err := New(drv)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rt.Close()) })
	return rt, drv
}

// skipSharedCurrent skips tests that switch devices from several goroutines at once, when rt runs on a simulated
// driver that can't keep one current device per thread.
func skipSharedCurrent(t *testing.T, rt *Runtime) {
	if _, isSim := rt.Driver().(*sim.Driver); isSim && !sim.PerThreadCurrent {
		t.Skipf("sim driver keeps a single current device on %s", runtime.GOOS)
	}
}

// currentID returns the device current for the test's thread, as seen by the driver.
func currentID(t *testing.T, rt *Runtime) driver.DeviceID {
	id, err := rt.Driver().Current()
	require.NoError(t, err)
	return id
}

// setCurrent makes the device current directly with the driver, bypassing the package.
func setCurrent(t *testing.T, rt *Runtime, id driver.DeviceID) {
	require.NoError(t, rt.Driver().SetCurrent(id))
}

// callOps returns the ops of the calls recorded by drv.
func callOps(drv *sim.Driver) []sim.Op {
	calls := drv.Calls()
	ops := make([]sim.Op, len(calls))
	for ii, call := range calls {
		ops[ii] = call.Op
	}
	return ops
}
