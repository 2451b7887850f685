package sim

import (
	"fmt"

	"github.com/gomlx/gocuda/driver"
)

// Op names a driver operation, for the call trace and for failure injection.
type Op string

const (
	OpDeviceCount         Op = "DeviceCount"
	OpDeviceName          Op = "DeviceName"
	OpCurrent             Op = "Current"
	OpSetCurrent          Op = "SetCurrent"
	OpStreamPriorityRange Op = "StreamPriorityRange"
	OpCreateQueue         Op = "CreateQueue"
	OpDestroyQueue        Op = "DestroyQueue"
	OpWaitQueue           Op = "WaitQueue"
	OpQueryQueue          Op = "QueryQueue"
	OpLaunchHostFunc      Op = "LaunchHostFunc"
	OpCreateEvent         Op = "CreateEvent"
	OpRecordEvent         Op = "RecordEvent"
	OpWaitEvent           Op = "WaitEvent"
	OpQueryEvent          Op = "QueryEvent"
	OpDestroyEvent        Op = "DestroyEvent"
	OpQueueWaitEvent      Op = "QueueWaitEvent"
	OpElapsedTime         Op = "ElapsedTime"
	OpSynchronizeDevice   Op = "SynchronizeDevice"
)

// Call is one recorded driver call.
type Call struct {
	Op Op

	// Device current for the calling thread when the call was issued.
	Device driver.DeviceID

	// Arg is the main argument or result of the call: the queue or event handle for handle operations,
	// the device id for SetCurrent and DeviceName, 0 otherwise.
	Arg uintptr

	// Status returned by the call.
	Status driver.Status
}

// String implements fmt.Stringer.
func (c Call) String() string {
	return fmt.Sprintf("%s(arg=%d)@device%d->%s", c.Op, c.Arg, c.Device, c.Status)
}

func (d *Driver) recordLocked(op Op, tid int, arg uintptr, err error) {
	d.recordAtLocked(op, d.currentLocked(tid), arg, err)
}

// recordAtLocked is used by calls that change the current device, to record the device before the change.
func (d *Driver) recordAtLocked(op Op, device driver.DeviceID, arg uintptr, err error) {
	d.calls = append(d.calls, Call{Op: op, Device: device, Arg: arg, Status: driver.Code(err)})
}

// Calls returns a copy of the calls recorded so far, in order.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]Call, len(d.calls))
	copy(calls, d.calls)
	return calls
}

// ResetCalls clears the recorded calls.
func (d *Driver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// CountCalls returns how many calls to any of the given ops were recorded. If no op is given, it counts all calls.
func (d *Driver) CountCalls(ops ...Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(ops) == 0 {
		return len(d.calls)
	}
	var count int
	for _, call := range d.calls {
		for _, op := range ops {
			if call.Op == op {
				count++
				break
			}
		}
	}
	return count
}
