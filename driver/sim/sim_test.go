package sim

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/gocuda/driver"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T, numDevices int) *Driver {
	d, err := New(driver.Options{"devices": numDevices})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return d
}

func TestRegistered(t *testing.T) {
	require.Contains(t, driver.Available(), Name)
	drv, err := driver.Open(Name, driver.Options{"devices": 3})
	require.NoError(t, err)
	defer func() { require.NoError(t, drv.Close()) }()
	n, err := drv.DeviceCount()
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestCurrentIsPerThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d := newTestDriver(t, 2)

	current, err := d.Current()
	require.NoError(t, err)
	require.Equal(t, driver.DeviceID(0), current, "device 0 is current by default")
	require.NoError(t, d.SetCurrent(1))

	// Another locked goroutine (hence another thread) sees its own current device.
	var wg sync.WaitGroup
	wg.Add(1)
	var otherCurrent driver.DeviceID
	var otherErr error
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		otherCurrent, otherErr = d.Current()
	}()
	wg.Wait()
	require.NoError(t, otherErr)
	if PerThreadCurrent {
		require.Equal(t, driver.DeviceID(0), otherCurrent)
	}

	current, err = d.Current()
	require.NoError(t, err)
	require.Equal(t, driver.DeviceID(1), current)

	err = d.SetCurrent(2)
	require.Error(t, err)
	require.Equal(t, driver.StatusInvalidDevice, driver.Code(err))
}

func TestQueueOrderAndWait(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d := newTestDriver(t, 1)

	q, err := d.CreateQueue(0, false)
	require.NoError(t, err)
	release := make(chan struct{})
	var order []int
	require.NoError(t, d.LaunchHostFunc(q, func() { <-release }))
	for ii := range 5 {
		require.NoError(t, d.LaunchHostFunc(q, func() { order = append(order, ii) }))
	}
	done, err := d.QueryQueue(q)
	require.NoError(t, err)
	require.False(t, done)
	close(release)
	require.NoError(t, d.WaitQueue(q))
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
	done, err = d.QueryQueue(q)
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, d.DestroyQueue(q))

	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(d.WaitQueue(q)))
	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(d.DestroyQueue(driver.DefaultQueue)))
}

func TestEvents(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d := newTestDriver(t, 1)

	start, err := d.CreateEvent(driver.EventFlags{})
	require.NoError(t, err)
	end, err := d.CreateEvent(driver.EventFlags{})
	require.NoError(t, err)
	noTiming, err := d.CreateEvent(driver.EventFlags{DisableTiming: true})
	require.NoError(t, err)

	// Never recorded events are complete.
	done, err := d.QueryEvent(start)
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, d.WaitEvent(start))
	_, err = d.ElapsedTime(start, end)
	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(err))

	release := make(chan struct{})
	require.NoError(t, d.RecordEvent(start, driver.DefaultQueue))
	require.NoError(t, d.LaunchHostFunc(driver.DefaultQueue, func() {
		<-release
		time.Sleep(time.Millisecond)
	}))
	require.NoError(t, d.RecordEvent(end, driver.DefaultQueue))
	done, err = d.QueryEvent(end)
	require.NoError(t, err)
	require.False(t, done)
	_, err = d.ElapsedTime(start, end)
	require.Equal(t, driver.StatusNotReady, driver.Code(err))

	close(release)
	require.NoError(t, d.WaitEvent(end))
	elapsed, err := d.ElapsedTime(start, end)
	require.NoError(t, err)
	require.GreaterOrEqual(t, elapsed, time.Millisecond)

	_, err = d.ElapsedTime(start, noTiming)
	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(err))

	for _, e := range []driver.EventHandle{start, end, noTiming} {
		require.NoError(t, d.DestroyEvent(e))
	}
	queues, events := d.NumLive()
	require.Zero(t, queues)
	require.Zero(t, events)
}

func TestStrict(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d := newTestDriver(t, 2)

	require.NoError(t, d.SetCurrent(1))
	q, err := d.CreateQueue(0, true)
	require.NoError(t, err)
	e, err := d.CreateEvent(driver.EventFlags{})
	require.NoError(t, err)
	device, found := d.QueueDevice(q)
	require.True(t, found)
	require.Equal(t, driver.DeviceID(1), device)
	device, found = d.EventDevice(e)
	require.True(t, found)
	require.Equal(t, driver.DeviceID(1), device)

	// Operations from device 0 are refused.
	require.NoError(t, d.SetCurrent(0))
	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(d.WaitQueue(q)))
	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(d.WaitEvent(e)))
	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(d.RecordEvent(e, driver.DefaultQueue)))
	require.Equal(t, driver.StatusInvalidResourceHandle, driver.Code(d.DestroyQueue(q)))

	// But a queue of device 0 can wait on an event of device 1.
	require.NoError(t, d.QueueWaitEvent(driver.DefaultQueue, e))

	require.NoError(t, d.SetCurrent(1))
	require.NoError(t, d.DestroyEvent(e))
	require.NoError(t, d.DestroyQueue(q))

	calls := d.Calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	require.Equal(t, Call{Op: OpDestroyQueue, Device: 1, Arg: uintptr(q), Status: driver.StatusSuccess}, last)
}

func TestNonStrict(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d, err := New(driver.Options{"devices": 2, "strict": false})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	require.NoError(t, d.SetCurrent(1))
	q, err := d.CreateQueue(0, false)
	require.NoError(t, err)
	require.NoError(t, d.SetCurrent(0))
	require.NoError(t, d.WaitQueue(q))
	require.NoError(t, d.DestroyQueue(q))
}

func TestImplicitSyncWithDefault(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d := newTestDriver(t, 1)

	blocking, err := d.CreateQueue(0, true)
	require.NoError(t, err)
	nonBlocking, err := d.CreateQueue(0, false)
	require.NoError(t, err)

	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	appendOrder := func(s string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
		}
	}
	require.NoError(t, d.LaunchHostFunc(driver.DefaultQueue, func() { <-release }))
	require.NoError(t, d.LaunchHostFunc(driver.DefaultQueue, appendOrder("default")))
	require.NoError(t, d.LaunchHostFunc(blocking, appendOrder("blocking")))
	require.NoError(t, d.LaunchHostFunc(nonBlocking, appendOrder("nonBlocking")))

	// nonBlocking doesn't wait for the default queue.
	require.NoError(t, d.WaitQueue(nonBlocking))
	mu.Lock()
	require.Equal(t, []string{"nonBlocking"}, order)
	mu.Unlock()

	close(release)
	require.NoError(t, d.SynchronizeDevice())
	require.Equal(t, []string{"nonBlocking", "default", "blocking"}, order)
	require.NoError(t, d.DestroyQueue(blocking))
	require.NoError(t, d.DestroyQueue(nonBlocking))
}

func TestFailNextAndLimits(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	topology := DefaultTopology(1)
	topology.Devices[0].MaxQueues = 1
	d, err := NewWithTopology(topology, true)
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	d.FailNext(OpCreateQueue, driver.StatusMemoryAllocation)
	_, err = d.CreateQueue(0, true)
	require.Equal(t, driver.StatusMemoryAllocation, driver.Code(err))
	require.ErrorContains(t, err, "injected failure")

	q, err := d.CreateQueue(-100, true)
	require.NoError(t, err)
	priority, found := d.QueuePriority(q)
	require.True(t, found)
	require.Equal(t, -5, priority, "priority should have been clamped")

	_, err = d.CreateQueue(0, true)
	require.Equal(t, driver.StatusMemoryAllocation, driver.Code(err))
	require.NoError(t, d.DestroyQueue(q))

	require.Equal(t, 3, d.CountCalls(OpCreateQueue))
	d.ResetCalls()
	require.Zero(t, d.CountCalls())
}

func TestTopology(t *testing.T) {
	contents := []byte(`
least_priority: 0
greatest_priority: -2
devices:
  - name: "A"
  - max_queues: 4
`)
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	d, err := New(driver.Options{"topology": path})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()
	require.Equal(t, Topology{
		Devices:          []DeviceSpec{{Name: "A"}, {Name: "Simulated Accelerator 1", MaxQueues: 4}},
		LeastPriority:    0,
		GreatestPriority: -2,
	}, d.Topology())
	name, err := d.DeviceName(1)
	require.NoError(t, err)
	require.Equal(t, "Simulated Accelerator 1", name)
	least, greatest, err := d.StreamPriorityRange()
	require.NoError(t, err)
	require.Equal(t, 0, least)
	require.Equal(t, -2, greatest)

	_, err = ParseTopology([]byte("least_priority: -3\ngreatest_priority: 0\n"))
	require.ErrorContains(t, err, "invalid priority range")
	_, err = LoadTopology(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNoDevices(t *testing.T) {
	d := newTestDriver(t, 0)
	n, err := d.DeviceCount()
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = d.Current()
	require.Equal(t, driver.StatusNoDevice, driver.Code(err))
}

func TestCallTrace(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d := newTestDriver(t, 2)

	require.NoError(t, d.SetCurrent(1))
	_, err := d.CreateQueue(0, true)
	require.NoError(t, err)
	d.FailNext(OpSetCurrent, driver.StatusUnknown)
	require.Error(t, d.SetCurrent(0))

	calls := d.Calls()
	require.Len(t, calls, 3)
	// SetCurrent is recorded with the device current before the call.
	require.Equal(t, Call{Op: OpSetCurrent, Device: 0, Arg: 1}, calls[0])
	require.Equal(t, OpCreateQueue, calls[1].Op)
	require.Equal(t, driver.DeviceID(1), calls[1].Device)
	require.Equal(t, Call{Op: OpSetCurrent, Device: 1, Arg: 0, Status: driver.StatusUnknown}, calls[2])
	require.Equal(t, 2, d.CountCalls(OpSetCurrent))
	require.Equal(t, 3, d.CountCalls())

	d.ResetCalls()
	require.Empty(t, d.Calls())
}
