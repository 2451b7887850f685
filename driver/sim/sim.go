// Package sim implements a simulated accelerator runtime, in pure Go, and registers it as the driver "sim".
//
// It models what the cuda package relies on: a per-OS-thread current device, queues that execute work in
// submission order (each on its own goroutine), events that complete when the queue reaches them, and the implicit
// synchronization between the default queue and the queues created with syncWithDefault.
//
// It is stricter than real hardware by default: every operation on a queue or event must be issued while the
// device that owns it is current, otherwise it fails with StatusInvalidResourceHandle. This catches missing
// context switches in tests. Set the option "strict" to false to disable it.
//
// For tests it also records every call (see Driver.Calls) and allows injecting failures (see Driver.FailNext).
//
// The current device is kept per OS thread only on linux (see PerThreadCurrent). Elsewhere all threads share a
// single current device, so goroutines switching devices concurrently (Runtime.SynchronizeAll in the cuda package,
// or finalizers destroying streams) interfere with each other, and only single goroutine use is reliable.
//
// Options:
//
//   - "devices" (int, default 2): number of simulated devices, if no topology is given.
//   - "topology" (string): path to a YAML file with a Topology.
//   - "strict" (bool, default true): see above.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name under which the driver is registered.
const Name = "sim"

func init() {
	driver.Register(Name, func(options driver.Options) (driver.Driver, error) {
		return New(options)
	})
}

// Driver is the simulated runtime. It implements driver.Driver.
type Driver struct {
	topology Topology
	strict   bool

	// mu protects everything below. Blocking waits are done without holding it.
	mu            sync.Mutex
	current       map[int]driver.DeviceID // Per thread id.
	defaultQueues []*queue
	queues        map[driver.QueueHandle]*queue
	events        map[driver.EventHandle]*event
	nextHandle    uintptr
	failures      map[Op][]driver.Status
	calls         []Call
	closed        bool
}

// Assert Driver implements driver.Driver.
var _ driver.Driver = (*Driver)(nil)

// New creates a simulated driver configured by options (it can be nil). See package documentation for options.
func New(options driver.Options) (*Driver, error) {
	numDevices, err := options.Int("devices", 2)
	if err != nil {
		return nil, err
	}
	if numDevices < 0 {
		return nil, errors.Errorf("sim: invalid number of devices %d", numDevices)
	}
	strict, err := options.Bool("strict", true)
	if err != nil {
		return nil, err
	}
	topologyPath, err := options.String("topology", "")
	if err != nil {
		return nil, err
	}
	topology := DefaultTopology(numDevices)
	if topologyPath != "" {
		topology, err = LoadTopology(topologyPath)
		if err != nil {
			return nil, err
		}
	}
	return NewWithTopology(topology, strict)
}

// NewWithTopology creates a simulated driver for the given topology.
func NewWithTopology(topology Topology, strict bool) (*Driver, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		topology:   topology,
		strict:     strict,
		current:    make(map[int]driver.DeviceID),
		queues:     make(map[driver.QueueHandle]*queue),
		events:     make(map[driver.EventHandle]*event),
		nextHandle: 1, // 0 is driver.DefaultQueue.
		failures:   make(map[Op][]driver.Status),
	}
	for ii := range topology.Devices {
		d.defaultQueues = append(d.defaultQueues,
			newQueue(driver.DefaultQueue, driver.DeviceID(ii), topology.LeastPriority, true))
	}
	klog.V(1).Infof("sim: created driver with %d devices (strict=%v)", len(topology.Devices), strict)
	return d, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return Name }

// String implements fmt.Stringer.
func (d *Driver) String() string {
	return fmt.Sprintf("sim.Driver[%d devices, strict=%v]", len(d.topology.Devices), d.strict)
}

// Topology returns the simulated topology.
func (d *Driver) Topology() Topology { return d.topology }

// currentLocked returns the current device of the thread, 0 if never set, as in CUDA.
func (d *Driver) currentLocked(tid int) driver.DeviceID {
	return d.current[tid]
}

// beginLocked checks the driver is usable and pops injected failures for op.
func (d *Driver) beginLocked(op Op) error {
	if d.closed {
		return driver.NewError(string(op), driver.StatusInitializationError, "driver closed")
	}
	if pending := d.failures[op]; len(pending) > 0 {
		status := pending[0]
		d.failures[op] = pending[1:]
		return driver.NewError(string(op), status, "injected failure")
	}
	return nil
}

// checkOwnerLocked enforces, in strict mode, that the device owning a handle is current.
func (d *Driver) checkOwnerLocked(op Op, tid int, owner driver.DeviceID) error {
	if !d.strict {
		return nil
	}
	if current := d.currentLocked(tid); current != owner {
		return driver.NewError(string(op), driver.StatusInvalidResourceHandle,
			"handle belongs to device %d, but device %d is current", owner, current)
	}
	return nil
}

func (d *Driver) validDeviceLocked(op Op, id driver.DeviceID) error {
	if int(id) < 0 || int(id) >= len(d.topology.Devices) {
		if len(d.topology.Devices) == 0 {
			return driver.NewError(string(op), driver.StatusNoDevice, "no devices available")
		}
		return driver.NewError(string(op), driver.StatusInvalidDevice, "device %d out of range [0, %d)",
			id, len(d.topology.Devices))
	}
	return nil
}

// lookupQueueLocked resolves a handle, including driver.DefaultQueue for the current device.
func (d *Driver) lookupQueueLocked(op Op, tid int, h driver.QueueHandle) (*queue, error) {
	if h == driver.DefaultQueue {
		current := d.currentLocked(tid)
		if err := d.validDeviceLocked(op, current); err != nil {
			return nil, err
		}
		return d.defaultQueues[current], nil
	}
	q, found := d.queues[h]
	if !found {
		return nil, driver.NewError(string(op), driver.StatusInvalidResourceHandle, "unknown queue %d", h)
	}
	if err := d.checkOwnerLocked(op, tid, q.device); err != nil {
		return nil, err
	}
	return q, nil
}

func (d *Driver) lookupEventLocked(op Op, tid int, h driver.EventHandle, checkOwner bool) (*event, error) {
	e, found := d.events[h]
	if !found {
		return nil, driver.NewError(string(op), driver.StatusInvalidResourceHandle, "unknown event %d", h)
	}
	if checkOwner {
		if err := d.checkOwnerLocked(op, tid, e.device); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (d *Driver) newHandleLocked() uintptr {
	h := d.nextHandle
	d.nextHandle++
	return h
}

// submitLocked submits work to q, adding the implicit dependencies between the default queue and the queues
// that synchronize with it. Dependencies only point to work submitted earlier, so they can't deadlock.
func (d *Driver) submitLocked(q *queue, work func()) {
	type dependency struct {
		q      *queue
		target uint64
	}
	var deps []dependency
	defaultQueue := d.defaultQueues[q.device]
	if q == defaultQueue {
		for _, other := range d.queues {
			if other.device == q.device && other.syncWithDefault {
				deps = append(deps, dependency{other, other.mark()})
			}
		}
	} else if q.syncWithDefault {
		deps = append(deps, dependency{defaultQueue, defaultQueue.mark()})
	}
	if len(deps) == 0 {
		q.submit(work)
		return
	}
	q.submit(func() {
		for _, dep := range deps {
			dep.q.waitFor(dep.target)
		}
		work()
	})
}

// DeviceCount implements driver.Driver.
func (d *Driver) DeviceCount() (n int, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpDeviceCount, tid, 0, err) }()
	if err = d.beginLocked(OpDeviceCount); err != nil {
		return 0, err
	}
	return len(d.topology.Devices), nil
}

// DeviceName implements driver.Driver.
func (d *Driver) DeviceName(id driver.DeviceID) (name string, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpDeviceName, tid, uintptr(id), err) }()
	if err = d.beginLocked(OpDeviceName); err != nil {
		return "", err
	}
	if err = d.validDeviceLocked(OpDeviceName, id); err != nil {
		return "", err
	}
	return d.topology.Devices[id].Name, nil
}

// Current implements driver.Driver.
func (d *Driver) Current() (id driver.DeviceID, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpCurrent, tid, 0, err) }()
	if err = d.beginLocked(OpCurrent); err != nil {
		return 0, err
	}
	id = d.currentLocked(tid)
	if err = d.validDeviceLocked(OpCurrent, id); err != nil {
		return 0, err
	}
	return id, nil
}

// SetCurrent implements driver.Driver.
func (d *Driver) SetCurrent(id driver.DeviceID) (err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	previous := d.currentLocked(tid)
	defer func() { d.recordAtLocked(OpSetCurrent, previous, uintptr(id), err) }()
	if err = d.beginLocked(OpSetCurrent); err != nil {
		return err
	}
	if err = d.validDeviceLocked(OpSetCurrent, id); err != nil {
		return err
	}
	d.current[tid] = id
	return nil
}

// StreamPriorityRange implements driver.Driver.
func (d *Driver) StreamPriorityRange() (least, greatest int, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpStreamPriorityRange, tid, 0, err) }()
	if err = d.beginLocked(OpStreamPriorityRange); err != nil {
		return 0, 0, err
	}
	return d.topology.LeastPriority, d.topology.GreatestPriority, nil
}

// CreateQueue implements driver.Driver.
func (d *Driver) CreateQueue(priority int, syncWithDefault bool) (h driver.QueueHandle, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpCreateQueue, tid, uintptr(h), err) }()
	if err = d.beginLocked(OpCreateQueue); err != nil {
		return 0, err
	}
	device := d.currentLocked(tid)
	if err = d.validDeviceLocked(OpCreateQueue, device); err != nil {
		return 0, err
	}
	if maxQueues := d.topology.Devices[device].MaxQueues; maxQueues > 0 {
		var count int
		for _, q := range d.queues {
			if q.device == device {
				count++
			}
		}
		if count >= maxQueues {
			return 0, driver.NewError(string(OpCreateQueue), driver.StatusMemoryAllocation,
				"device %d already has %d queues", device, count)
		}
	}
	// Clamp priority to the range, as CUDA does.
	priority = min(max(priority, d.topology.GreatestPriority), d.topology.LeastPriority)
	h = driver.QueueHandle(d.newHandleLocked())
	d.queues[h] = newQueue(h, device, priority, syncWithDefault)
	return h, nil
}

// DestroyQueue implements driver.Driver.
func (d *Driver) DestroyQueue(h driver.QueueHandle) (err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpDestroyQueue, tid, uintptr(h), err) }()
	if err = d.beginLocked(OpDestroyQueue); err != nil {
		return err
	}
	if h == driver.DefaultQueue {
		return driver.NewError(string(OpDestroyQueue), driver.StatusInvalidResourceHandle,
			"the default queue can't be destroyed")
	}
	q, err := d.lookupQueueLocked(OpDestroyQueue, tid, h)
	if err != nil {
		return err
	}
	delete(d.queues, h)
	q.close()
	return nil
}

// WaitQueue implements driver.Driver.
func (d *Driver) WaitQueue(h driver.QueueHandle) error {
	tid := threadID()
	d.mu.Lock()
	err := d.beginLocked(OpWaitQueue)
	var q *queue
	if err == nil {
		q, err = d.lookupQueueLocked(OpWaitQueue, tid, h)
	}
	d.recordLocked(OpWaitQueue, tid, uintptr(h), err)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	q.wait()
	return nil
}

// QueryQueue implements driver.Driver.
func (d *Driver) QueryQueue(h driver.QueueHandle) (done bool, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpQueryQueue, tid, uintptr(h), err) }()
	if err = d.beginLocked(OpQueryQueue); err != nil {
		return false, err
	}
	q, err := d.lookupQueueLocked(OpQueryQueue, tid, h)
	if err != nil {
		return false, err
	}
	return q.done(), nil
}

// LaunchHostFunc implements driver.Driver.
func (d *Driver) LaunchHostFunc(h driver.QueueHandle, fn func()) (err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpLaunchHostFunc, tid, uintptr(h), err) }()
	if err = d.beginLocked(OpLaunchHostFunc); err != nil {
		return err
	}
	if fn == nil {
		return driver.NewError(string(OpLaunchHostFunc), driver.StatusInvalidValue, "nil host function")
	}
	q, err := d.lookupQueueLocked(OpLaunchHostFunc, tid, h)
	if err != nil {
		return err
	}
	d.submitLocked(q, fn)
	return nil
}

// CreateEvent implements driver.Driver.
func (d *Driver) CreateEvent(flags driver.EventFlags) (h driver.EventHandle, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpCreateEvent, tid, uintptr(h), err) }()
	if err = d.beginLocked(OpCreateEvent); err != nil {
		return 0, err
	}
	device := d.currentLocked(tid)
	if err = d.validDeviceLocked(OpCreateEvent, device); err != nil {
		return 0, err
	}
	if maxEvents := d.topology.Devices[device].MaxEvents; maxEvents > 0 {
		var count int
		for _, e := range d.events {
			if e.device == device {
				count++
			}
		}
		if count >= maxEvents {
			return 0, driver.NewError(string(OpCreateEvent), driver.StatusMemoryAllocation,
				"device %d already has %d events", device, count)
		}
	}
	h = driver.EventHandle(d.newHandleLocked())
	d.events[h] = newEvent(h, device, flags)
	return h, nil
}

// RecordEvent implements driver.Driver.
func (d *Driver) RecordEvent(eh driver.EventHandle, qh driver.QueueHandle) (err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpRecordEvent, tid, uintptr(eh), err) }()
	if err = d.beginLocked(OpRecordEvent); err != nil {
		return err
	}
	q, err := d.lookupQueueLocked(OpRecordEvent, tid, qh)
	if err != nil {
		return err
	}
	e, err := d.lookupEventLocked(OpRecordEvent, tid, eh, true)
	if err != nil {
		return err
	}
	if e.device != q.device {
		// CUDA also refuses this, even in non-strict mode.
		return driver.NewError(string(OpRecordEvent), driver.StatusInvalidResourceHandle,
			"event of device %d can't be recorded on a queue of device %d", e.device, q.device)
	}
	generation := e.nextGeneration()
	d.submitLocked(q, func() { e.complete(generation) })
	return nil
}

// WaitEvent implements driver.Driver.
func (d *Driver) WaitEvent(h driver.EventHandle) error {
	tid := threadID()
	d.mu.Lock()
	err := d.beginLocked(OpWaitEvent)
	var e *event
	if err == nil {
		e, err = d.lookupEventLocked(OpWaitEvent, tid, h, true)
	}
	d.recordLocked(OpWaitEvent, tid, uintptr(h), err)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	e.waitFor(e.currentGeneration())
	return nil
}

// QueryEvent implements driver.Driver.
func (d *Driver) QueryEvent(h driver.EventHandle) (done bool, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpQueryEvent, tid, uintptr(h), err) }()
	if err = d.beginLocked(OpQueryEvent); err != nil {
		return false, err
	}
	e, err := d.lookupEventLocked(OpQueryEvent, tid, h, true)
	if err != nil {
		return false, err
	}
	return e.done(), nil
}

// DestroyEvent implements driver.Driver.
func (d *Driver) DestroyEvent(h driver.EventHandle) (err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpDestroyEvent, tid, uintptr(h), err) }()
	if err = d.beginLocked(OpDestroyEvent); err != nil {
		return err
	}
	if _, err = d.lookupEventLocked(OpDestroyEvent, tid, h, true); err != nil {
		return err
	}
	delete(d.events, h)
	return nil
}

// QueueWaitEvent implements driver.Driver.
func (d *Driver) QueueWaitEvent(qh driver.QueueHandle, eh driver.EventHandle) (err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpQueueWaitEvent, tid, uintptr(qh), err) }()
	if err = d.beginLocked(OpQueueWaitEvent); err != nil {
		return err
	}
	q, err := d.lookupQueueLocked(OpQueueWaitEvent, tid, qh)
	if err != nil {
		return err
	}
	// The event may belong to any device.
	e, err := d.lookupEventLocked(OpQueueWaitEvent, tid, eh, false)
	if err != nil {
		return err
	}
	generation := e.currentGeneration()
	d.submitLocked(q, func() { e.waitFor(generation) })
	return nil
}

// ElapsedTime implements driver.Driver.
func (d *Driver) ElapsedTime(start, end driver.EventHandle) (elapsed time.Duration, err error) {
	tid := threadID()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.recordLocked(OpElapsedTime, tid, uintptr(start), err) }()
	if err = d.beginLocked(OpElapsedTime); err != nil {
		return 0, err
	}
	var events [2]*event
	for ii, h := range []driver.EventHandle{start, end} {
		events[ii], err = d.lookupEventLocked(OpElapsedTime, tid, h, false)
		if err != nil {
			return 0, err
		}
		if events[ii].flags.DisableTiming {
			return 0, driver.NewError(string(OpElapsedTime), driver.StatusInvalidResourceHandle,
				"event %d was created with timing disabled", h)
		}
	}
	var times [2]time.Time
	for ii, e := range events {
		var recorded, completed bool
		times[ii], recorded, completed = e.timestamp()
		if !recorded {
			return 0, driver.NewError(string(OpElapsedTime), driver.StatusInvalidResourceHandle,
				"event %d was never recorded", e.handle)
		}
		if !completed {
			return 0, driver.NewError(string(OpElapsedTime), driver.StatusNotReady, "event %d not completed", e.handle)
		}
	}
	return times[1].Sub(times[0]), nil
}

// SynchronizeDevice implements driver.Driver.
func (d *Driver) SynchronizeDevice() error {
	tid := threadID()
	d.mu.Lock()
	err := d.beginLocked(OpSynchronizeDevice)
	var toWait []*queue
	if err == nil {
		device := d.currentLocked(tid)
		err = d.validDeviceLocked(OpSynchronizeDevice, device)
		if err == nil {
			toWait = append(toWait, d.defaultQueues[device])
			for _, q := range d.queues {
				if q.device == device {
					toWait = append(toWait, q)
				}
			}
		}
	}
	d.recordLocked(OpSynchronizeDevice, tid, 0, err)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	for _, q := range toWait {
		q.wait()
	}
	return nil
}

// Close implements driver.Driver. Pending work is still executed, but the driver can't be used afterward.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, q := range d.defaultQueues {
		q.close()
	}
	for _, q := range d.queues {
		q.close()
	}
	if len(d.queues) > 0 || len(d.events) > 0 {
		klog.Warningf("sim: driver closed with %d queues and %d events not destroyed", len(d.queues), len(d.events))
	}
	return nil
}

// FailNext makes the next call to op fail with the given status. Multiple calls queue up failures.
func (d *Driver) FailNext(op Op, status driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], status)
}

// QueueDevice returns the device owning the queue, and whether the queue is alive.
func (d *Driver) QueueDevice(h driver.QueueHandle) (driver.DeviceID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, found := d.queues[h]
	if !found {
		return 0, false
	}
	return q.device, true
}

// QueuePriority returns the priority of the queue (after clamping), and whether the queue is alive.
func (d *Driver) QueuePriority(h driver.QueueHandle) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, found := d.queues[h]
	if !found {
		return 0, false
	}
	return q.priority, true
}

// EventDevice returns the device owning the event, and whether the event is alive.
func (d *Driver) EventDevice(h driver.EventHandle) (driver.DeviceID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, found := d.events[h]
	if !found {
		return 0, false
	}
	return e.device, true
}

// NumLive returns the number of queues and events not destroyed yet.
func (d *Driver) NumLive() (queues, events int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues), len(d.events)
}
