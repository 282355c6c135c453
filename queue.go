package cl

import (
	"fmt"
	"sync"

	"github.com/gogpu/cl/driver"
)

// CommandQueue submits commands to a device in order. Each queue owns a
// timeline semaphore and a single worker goroutine; the worker executes
// commands one at a time, so commands complete in enqueue order and the
// semaphore value n signals completion of the n-th enqueued command.
//
// The out-of-order property is accepted for compatibility but has no
// scheduling effect.
type CommandQueue struct {
	object

	ctx        *Context
	device     *Device
	properties QueueProperties

	sem driver.Semaphore

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []*workItem
	nextValue uint64
	lastValue uint64
	closed    bool

	done chan struct{}
}

type workItem struct {
	cmd   Command
	value uint64
}

// NewCommandQueue creates a queue on the context's device and starts its
// worker. The caller owns one reference on the returned queue.
func NewCommandQueue(ctx *Context, properties QueueProperties) (*CommandQueue, Status) {
	if ctx == nil {
		return nil, InvalidContext
	}
	sem, err := ctx.Device().driverDevice().NewSemaphore()
	if err != nil {
		Logger().Warn("cl: semaphore creation failed", "error", err)
		return nil, OutOfResources
	}

	q := &CommandQueue{
		ctx:        ctx,
		device:     ctx.Device(),
		properties: properties,
		sem:        sem,
		nextValue:  1,
		done:       make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	ctx.Retain()
	q.device.Retain()
	q.initObject(MagicCommandQueue, fmt.Sprintf("queue(%s)", q.device.Name()), q.teardown)

	go q.worker()
	return q, Success
}

// teardown runs when the last reference drops. The worker may be the
// goroutine releasing that reference, so the wait for its exit happens on
// a separate goroutine.
func (q *CommandQueue) teardown() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	go func() {
		<-q.done
		q.sem.Destroy()
		q.device.Release()
		q.ctx.Release()
	}()
}

// Context returns the queue's context.
func (q *CommandQueue) Context() *Context { return q.ctx }

// Device returns the queue's device.
func (q *CommandQueue) Device() *Device { return q.device }

// Properties returns the queue's property bitfield.
func (q *CommandQueue) Properties() QueueProperties { return q.properties }

// ProfilingEnabled reports whether events from this queue carry
// profiling timestamps.
func (q *CommandQueue) ProfilingEnabled() bool {
	return q.properties&QueueProfilingEnable != 0
}

// EnqueueCommandWithDeps validates the command, assigns it the next
// timeline value, binds a fresh result event, and hands it to the
// worker. The returned event carries one net retain for the caller.
//
// Wait-list events are retained by the command until it completes. A
// terminal error in the wait list surfaces on the result event as
// ExecStatusErrorForEventsInWait; the command itself is not executed.
func (q *CommandQueue) EnqueueCommandWithDeps(cmd Command, waits []Event) (Event, Status) {
	if cmd == nil {
		return nil, InvalidValue
	}
	if cmd.Queue() != q {
		return nil, InvalidOperation
	}
	for _, w := range waits {
		if w == nil {
			return nil, InvalidEventWaitList
		}
	}

	cmd.setDeps(waits)
	if st := cmd.Build(); st != Success {
		cmd.releaseDeps()
		return nil, st
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cmd.releaseDeps()
		return nil, InvalidOperation
	}
	value := q.nextValue
	q.nextValue++
	q.lastValue = value

	ev := newCommandEvent(q.ctx, cmd.Type(), q, newTimelineCondition(q.sem, value))
	ev.setTimestamp(ProfilingQueued, sampleClock())
	cmd.bindEvent(ev)

	cmd.Retain()
	q.pending = append(q.pending, &workItem{cmd: cmd, value: value})
	q.cond.Signal()
	q.mu.Unlock()

	Logger().Debug("cl: command enqueued",
		"type", cmd.Type().String(), "value", value, "deps", len(waits))

	ev.Retain()
	return ev, Success
}

// worker drains the pending list one command at a time.
func (q *CommandQueue) worker() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.runCommand(item)
	}
	close(q.done)
}

// runCommand drives one command through its event lifecycle. The timeline
// semaphore is notified even on the dependency-error path so later
// waiters cannot deadlock on a value that would otherwise never arrive.
func (q *CommandQueue) runCommand(item *workItem) {
	cmd := item.cmd
	ev := cmd.resultEvent()

	ev.setStatus(Submitted)

	depFailed := false
	for _, dep := range cmd.dependencies() {
		if dep.Wait().Terminal() {
			depFailed = true
		}
	}

	if depFailed {
		ev.setStatus(ExecStatus(ExecStatusErrorForEventsInWait))
	} else {
		ev.setStatus(Running)
		st := cmd.Execute()
		if st == Success {
			ev.setStatus(Complete)
		} else {
			Logger().Debug("cl: command failed",
				"type", cmd.Type().String(), "status", st.String())
			ev.setStatus(ExecStatus(st))
		}
	}

	q.sem.Notify(item.value)
	cmd.releaseDeps()
	cmd.Release()
}

// Flush is a no-op: commands are handed to the worker at enqueue time.
// Kept for API parity with hosts that flush before waiting.
func (q *CommandQueue) Flush() Status { return Success }

// Finish blocks until every command enqueued so far has completed.
func (q *CommandQueue) Finish() Status {
	q.mu.Lock()
	last := q.lastValue
	q.mu.Unlock()
	if last == 0 {
		return Success
	}
	if !q.sem.Wait(last) {
		return OutOfResources
	}
	return Success
}

// ------------------------------------------------------------------------
// Convenience enqueue wrappers
// ------------------------------------------------------------------------

// enqueueOwned submits a freshly created command and drops the creation
// reference, leaving the worker and result event as the only owners.
func (q *CommandQueue) enqueueOwned(cmd Command, waits []Event) (Event, Status) {
	ev, st := q.EnqueueCommandWithDeps(cmd, waits)
	cmd.Release()
	return ev, st
}

// EnqueueMarker submits a marker command that completes after the wait
// list and everything previously enqueued on this queue.
func (q *CommandQueue) EnqueueMarker(waits []Event) (Event, Status) {
	return q.enqueueOwned(newDepCommand(q, CommandMarker), waits)
}

// EnqueueBarrier submits a barrier command. On a serialized queue a
// barrier orders identically to a marker; the distinct command type is
// kept for host-visible queries.
func (q *CommandQueue) EnqueueBarrier(waits []Event) (Event, Status) {
	return q.enqueueOwned(newDepCommand(q, CommandBarrier), waits)
}

// EnqueueNativeKernel submits a host function to run on the queue worker.
func (q *CommandQueue) EnqueueNativeKernel(fn func() error, waits []Event) (Event, Status) {
	return q.enqueueOwned(newNativeCommand(q, fn), waits)
}

// EnqueueNDRangeKernel submits a kernel launch over the given global
// grid with the given workgroup size.
func (q *CommandQueue) EnqueueNDRangeKernel(k *Kernel, global, local [3]uint32, waits []Event) (Event, Status) {
	if k == nil {
		return nil, InvalidValue
	}
	return q.enqueueOwned(newDispatchCommand(q, k, global, local), waits)
}
