package cuda

import (
	"sync"
	"testing"
	"time"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/driver/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueryAndSynchronize(t *testing.T) {
	rt := getRuntime(t, 1)
	device := rt.Devices()[0]
	s := capture(device.CreateStream(false)).Test(t)
	defer func() { require.NoError(t, s.Destroy()) }()
	e := capture(device.CreateEvent(driver.EventFlags{})).Test(t)
	defer func() { require.NoError(t, e.Destroy()) }()

	// Never recorded events are complete.
	assert.True(t, capture(e.Query()).Test(t))
	require.NoError(t, e.Synchronize())

	var release sync.WaitGroup
	release.Add(1)
	require.NoError(t, s.Enqueue(release.Wait))
	require.NoError(t, e.RecordOn(s))
	assert.False(t, capture(e.Query()).Test(t))
	release.Done()
	require.NoError(t, e.Synchronize())
	assert.True(t, capture(e.Query()).Test(t))
}

func TestEventSynchronizeRestoresCurrent(t *testing.T) {
	lockThread(t)
	rt, drv := getSimRuntime(t, 2)
	d1 := capture(rt.Device(1)).Test(t)
	e := capture(d1.CreateEvent(driver.EventFlags{BlockingSync: true})).Test(t)
	defer func() { require.NoError(t, e.Destroy()) }()
	assert.True(t, e.Flags().BlockingSync)
	assert.Equal(t, driver.DeviceID(1), e.DeviceID())
	owner, alive := drv.EventDevice(e.ID())
	require.True(t, alive)
	assert.Equal(t, driver.DeviceID(1), owner)

	require.NoError(t, d1.DefaultStream().Record(e))
	require.NoError(t, e.Synchronize())
	assert.Equal(t, driver.DeviceID(0), currentID(t, rt))
}

func TestElapsedTime(t *testing.T) {
	rt := getRuntime(t, 1)
	device := rt.Devices()[0]
	s := capture(device.CreateStream(false)).Test(t)
	defer func() { require.NoError(t, s.Destroy()) }()
	start := capture(device.CreateEvent(driver.EventFlags{})).Test(t)
	defer func() { require.NoError(t, start.Destroy()) }()
	end := capture(device.CreateEvent(driver.EventFlags{})).Test(t)
	defer func() { require.NoError(t, end.Destroy()) }()

	const pause = 10 * time.Millisecond
	require.NoError(t, s.Record(start))
	require.NoError(t, s.Enqueue(func() { time.Sleep(pause) }))
	require.NoError(t, s.Record(end))
	require.NoError(t, end.Synchronize())
	elapsed := capture(ElapsedTime(start, end)).Test(t)
	assert.GreaterOrEqual(t, elapsed, pause)

	// Timing disabled.
	noTiming := capture(device.CreateEvent(driver.EventFlags{DisableTiming: true})).Test(t)
	require.NoError(t, s.Record(noTiming))
	require.NoError(t, noTiming.Synchronize())
	_, err := ElapsedTime(start, noTiming)
	require.Error(t, err)
	require.NoError(t, noTiming.Destroy())
	_, err = ElapsedTime(start, noTiming)
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestEventDestroy(t *testing.T) {
	rt, drv := getSimRuntime(t, 2)
	d0 := capture(rt.Device(0)).Test(t)
	e := capture(d0.CreateEvent(driver.EventFlags{})).Test(t)

	drv.FailNext(sim.OpDestroyEvent, driver.StatusUnknown)
	require.Error(t, e.Destroy())
	assert.False(t, e.IsDestroyed())

	drv.ResetCalls()
	require.NoError(t, e.Destroy())
	require.NoError(t, e.Destroy())
	assert.Equal(t, 1, drv.CountCalls(sim.OpDestroyEvent))
	assert.True(t, e.IsDestroyed())
	_, alive := drv.EventDevice(e.ID())
	assert.False(t, alive)

	require.ErrorIs(t, e.Synchronize(), ErrDestroyed)
	require.ErrorIs(t, d0.DefaultStream().Record(e), ErrDestroyed)
	require.ErrorIs(t, d0.DefaultStream().WaitFor(e), ErrDestroyed)
	_, err := e.Query()
	require.ErrorIs(t, err, ErrDestroyed)

	var nilEvent *Event
	require.NoError(t, nilEvent.Destroy())
}

func TestEventQueryFailure(t *testing.T) {
	rt, drv := getSimRuntime(t, 2)
	d1 := capture(rt.Device(1)).Test(t)
	e := capture(d1.CreateEvent(driver.EventFlags{})).Test(t)
	defer func() { require.NoError(t, e.Destroy()) }()

	drv.FailNext(sim.OpQueryEvent, driver.StatusIllegalState)
	_, err := e.Query()
	var syncErr *SynchronizationError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, driver.DeviceID(1), syncErr.Device)
	assert.Equal(t, driver.StatusIllegalState, driver.Code(err))
}
