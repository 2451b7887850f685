package sim

import (
	"sync"
	"time"

	"github.com/gomlx/gocuda/driver"
	"k8s.io/klog/v2"
)

// queue executes submitted work in order, on its own goroutine.
type queue struct {
	handle          driver.QueueHandle
	device          driver.DeviceID
	priority        int
	syncWithDefault bool

	mu                   sync.Mutex
	cond                 *sync.Cond
	pending              []func()
	submitted, completed uint64
	closed               bool
}

func newQueue(handle driver.QueueHandle, device driver.DeviceID, priority int, syncWithDefault bool) *queue {
	q := &queue{handle: handle, device: device, priority: priority, syncWithDefault: syncWithDefault}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// run is the worker loop. It exits once the queue is closed and drained.
func (q *queue) run() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			return
		}
		work := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		q.execute(work)
		q.mu.Lock()
		q.completed++
		q.cond.Broadcast()
	}
}

func (q *queue) execute(work func()) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("sim: work on queue %d (device %d) panicked: %v", q.handle, q.device, r)
		}
	}()
	work()
}

// submit appends work and returns the number of items submitted so far, including this one.
func (q *queue) submit(work func()) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, work)
	q.submitted++
	q.cond.Broadcast()
	return q.submitted
}

// mark returns the number of items submitted so far.
func (q *queue) mark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted
}

// waitFor blocks until at least target items have completed.
func (q *queue) waitFor(target uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.completed < target {
		q.cond.Wait()
	}
}

// wait blocks until everything submitted before the call completed.
func (q *queue) wait() {
	q.waitFor(q.mark())
}

func (q *queue) done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed >= q.submitted
}

// close lets the worker exit once pending work is drained.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// event is a completion marker. Each record starts a new generation, which completes when the queue reaches it.
type event struct {
	handle driver.EventHandle
	device driver.DeviceID
	flags  driver.EventFlags

	mu                  sync.Mutex
	cond                *sync.Cond
	generation          uint64
	completedGeneration uint64
	completedAt         time.Time
}

func newEvent(handle driver.EventHandle, device driver.DeviceID, flags driver.EventFlags) *event {
	e := &event{handle: handle, device: device, flags: flags}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// nextGeneration starts a new record of the event, and returns its generation.
func (e *event) nextGeneration() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	return e.generation
}

func (e *event) complete(generation uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if generation > e.completedGeneration {
		e.completedGeneration = generation
		e.completedAt = time.Now()
	}
	e.cond.Broadcast()
}

// currentGeneration is the generation the next wait will wait for.
func (e *event) currentGeneration() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

func (e *event) waitFor(generation uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.completedGeneration < generation {
		e.cond.Wait()
	}
}

// done is true for events never recorded, like in CUDA.
func (e *event) done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completedGeneration >= e.generation
}

// timestamp returns the completion time of the last record, and whether it is recorded and completed.
func (e *event) timestamp() (t time.Time, recorded, completed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completedAt, e.generation > 0, e.completedGeneration >= e.generation
}
