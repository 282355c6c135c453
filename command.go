package cl

import (
	"fmt"
	"sync"
)

// Command is a recorded unit of work bound to a queue. Enqueueing a
// command produces a result event; ResetEvent detaches it so the same
// command can be replayed. Execution splits into Build, run synchronously
// at enqueue time so validation failures surface to the caller, and
// Execute, run asynchronously on the queue worker.
type Command interface {
	Retain()
	Release()

	// Type identifies the kind of work.
	Type() CommandType

	// Queue returns the queue the command is bound to.
	Queue() *CommandQueue

	// Event returns the current result event, or nil before the first
	// enqueue or after ResetEvent.
	Event() Event

	// ResetEvent detaches the current result event, enabling replay.
	ResetEvent()

	// Clone deep-copies the command bound to a different queue.
	Clone(q *CommandQueue) Command

	// Build validates and encodes the command. Called on the enqueueing
	// goroutine; a failure aborts the enqueue.
	Build() Status

	// Execute performs the work. Called on the queue worker after all
	// dependencies have completed.
	Execute() Status

	// bindEvent installs a fresh result event; setDeps installs the
	// retained dependency list. Internal to queue submission.
	bindEvent(ev *commandEvent)
	resultEvent() *commandEvent
	setDeps(waits []Event)
	dependencies() []Event
	releaseDeps()
}

// baseCommand carries the state shared by every command implementation.
// Embedders call initCommand once and provide Build/Execute/Clone.
type baseCommand struct {
	object

	queue   *CommandQueue
	cmdType CommandType

	mu    sync.Mutex
	event *commandEvent
	deps  []Event

	// onDestroy, when set before initCommand, releases per-type
	// resources after the shared state is torn down.
	onDestroy func()
}

// initCommand wires the shared state. The queue is retained until the
// command is destroyed, along with the result event and any dependency
// events still attached.
func (c *baseCommand) initCommand(queue *CommandQueue, cmdType CommandType) {
	c.queue = queue
	c.cmdType = cmdType
	queue.Retain()
	c.initObject(MagicCommand, fmt.Sprintf("command(%s)", cmdType), func() {
		c.mu.Lock()
		ev := c.event
		deps := c.deps
		c.event = nil
		c.deps = nil
		c.mu.Unlock()
		if ev != nil {
			ev.Release()
		}
		for _, d := range deps {
			d.Release()
		}
		c.queue.Release()
		if c.onDestroy != nil {
			c.onDestroy()
		}
	})
}

func (c *baseCommand) Type() CommandType   { return c.cmdType }
func (c *baseCommand) Queue() *CommandQueue { return c.queue }

func (c *baseCommand) Event() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.event == nil {
		return nil
	}
	return c.event
}

func (c *baseCommand) resultEvent() *commandEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.event
}

// ResetEvent detaches the current result event. The next enqueue binds a
// fresh one, so prior generations keep their final statuses.
func (c *baseCommand) ResetEvent() {
	c.mu.Lock()
	ev := c.event
	c.event = nil
	c.mu.Unlock()
	if ev != nil {
		ev.Release()
	}
}

// bindEvent takes ownership of one reference on ev.
func (c *baseCommand) bindEvent(ev *commandEvent) {
	c.mu.Lock()
	old := c.event
	c.event = ev
	c.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

// setDeps retains each wait event. Dependencies stay retained until the
// command completes.
func (c *baseCommand) setDeps(waits []Event) {
	retained := make([]Event, 0, len(waits))
	for _, w := range waits {
		w.Retain()
		retained = append(retained, w)
	}
	c.mu.Lock()
	old := c.deps
	c.deps = retained
	c.mu.Unlock()
	for _, d := range old {
		d.Release()
	}
}

func (c *baseCommand) dependencies() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deps
}

func (c *baseCommand) releaseDeps() {
	c.mu.Lock()
	deps := c.deps
	c.deps = nil
	c.mu.Unlock()
	for _, d := range deps {
		d.Release()
	}
}

// ------------------------------------------------------------------------
// Dependency-only commands
// ------------------------------------------------------------------------

// depCommand performs no work of its own. It exists to produce an event
// that respects queue ordering and a wait list. Markers, barriers, and
// the placeholder submission for an empty command buffer are all dep
// commands with different type tags.
type depCommand struct {
	baseCommand
}

var _ Command = (*depCommand)(nil)

func newDepCommand(queue *CommandQueue, cmdType CommandType) *depCommand {
	c := &depCommand{}
	c.initCommand(queue, cmdType)
	return c
}

func (c *depCommand) Build() Status   { return Success }
func (c *depCommand) Execute() Status { return Success }

func (c *depCommand) Clone(q *CommandQueue) Command {
	return newDepCommand(q, c.cmdType)
}

// ------------------------------------------------------------------------
// Native commands
// ------------------------------------------------------------------------

// nativeCommand runs a host Go function on the queue worker.
type nativeCommand struct {
	baseCommand
	fn func() error
}

var _ Command = (*nativeCommand)(nil)

func newNativeCommand(queue *CommandQueue, fn func() error) *nativeCommand {
	c := &nativeCommand{fn: fn}
	c.initCommand(queue, CommandNativeKernel)
	return c
}

func (c *nativeCommand) Build() Status {
	if c.fn == nil {
		return InvalidValue
	}
	return Success
}

func (c *nativeCommand) Execute() Status {
	if err := c.fn(); err != nil {
		Logger().Warn("cl: native kernel failed", "error", err)
		return OutOfResources
	}
	return Success
}

func (c *nativeCommand) Clone(q *CommandQueue) Command {
	return newNativeCommand(q, c.fn)
}

// ------------------------------------------------------------------------
// Kernel dispatch commands
// ------------------------------------------------------------------------

// dispatchCommand launches a kernel over an ND-range.
type dispatchCommand struct {
	baseCommand
	kernel *Kernel
	global [3]uint32
	local  [3]uint32
}

var _ Command = (*dispatchCommand)(nil)

func newDispatchCommand(queue *CommandQueue, kernel *Kernel, global, local [3]uint32) *dispatchCommand {
	c := &dispatchCommand{kernel: kernel, global: global, local: local}
	kernel.Retain()
	c.onDestroy = kernel.Release
	c.initCommand(queue, CommandNDRangeKernel)
	return c
}

func (c *dispatchCommand) Build() Status {
	for i := 0; i < 3; i++ {
		if c.global[i] == 0 || c.local[i] == 0 {
			return InvalidValue
		}
		if c.global[i]%c.local[i] != 0 {
			return InvalidValue
		}
	}
	return Success
}

func (c *dispatchCommand) Execute() Status {
	dev := c.queue.Device()
	if err := dev.driverDevice().Dispatch(c.kernel.driverKernel(), c.global, c.local); err != nil {
		Logger().Warn("cl: kernel dispatch failed",
			"kernel", c.kernel.Name(), "error", err)
		return OutOfResources
	}
	return Success
}

func (c *dispatchCommand) Clone(q *CommandQueue) Command {
	return newDispatchCommand(q, c.kernel, c.global, c.local)
}
