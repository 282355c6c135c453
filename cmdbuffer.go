package cl

import (
	"fmt"
	"sync"
)

// BufferState is the lifecycle state of a CommandBuffer.
type BufferState uint32

const (
	// StateRecording accepts AddCommand calls.
	StateRecording BufferState = iota
	// StateExecutable is finalized and ready to enqueue.
	StateExecutable
	// StatePending has an enqueue in flight. Reading the state flips
	// back to StateExecutable once the last enqueue's event completes.
	StatePending
	// StateInvalid is unreachable through this API and reserved for
	// host-side invalidation.
	StateInvalid
)

var bufferStateNames = [...]string{
	StateRecording:  "RECORDING",
	StateExecutable: "EXECUTABLE",
	StatePending:    "PENDING",
	StateInvalid:    "INVALID",
}

// String returns the symbolic state name.
func (s BufferState) String() string {
	if int(s) < len(bufferStateNames) {
		return bufferStateNames[s]
	}
	return "UNKNOWN_STATE"
}

// SyncPoint names a recorded command within one buffer. Values are dense
// from 1 in recording order and have no meaning across buffers.
type SyncPoint uint32

// CommandBuffer is a recordable, finalizable, replayable batch of
// commands grouped by queue. Commands are recorded against the buffer's
// primary queues; enqueue may retarget them onto compatible queues by
// cloning.
type CommandBuffer struct {
	object

	ctx        *Context
	queues     []*CommandQueue
	properties []uint64

	mu            sync.Mutex
	state         BufferState
	nextSyncPoint SyncPoint
	commands      map[*CommandQueue][]Command
	lastEnqueue   Event
}

// NewCommandBuffer creates a buffer in the Recording state over the given
// primary queues. All queues must share one context. The queues are
// retained for the buffer's lifetime; the properties slice is owned by
// the buffer after the call.
func NewCommandBuffer(queues []*CommandQueue, properties []uint64) (*CommandBuffer, Status) {
	if len(queues) == 0 {
		return nil, InvalidValue
	}
	ctx := queues[0].Context()
	for _, q := range queues {
		if q == nil || q.Context() != ctx {
			return nil, InvalidContext
		}
	}

	b := &CommandBuffer{
		ctx:           ctx,
		queues:        queues,
		properties:    properties,
		state:         StateRecording,
		nextSyncPoint: 1,
		commands:      make(map[*CommandQueue][]Command),
	}
	ctx.Retain()
	for _, q := range queues {
		q.Retain()
	}
	b.initObject(MagicCommandBuffer, fmt.Sprintf("command_buffer(%d queues)", len(queues)), func() {
		for _, cmds := range b.commands {
			for _, c := range cmds {
				c.Release()
			}
		}
		if b.lastEnqueue != nil {
			b.lastEnqueue.Release()
		}
		for _, q := range b.queues {
			q.Release()
		}
		b.ctx.Release()
	})
	return b, Success
}

// Context returns the buffer's context.
func (b *CommandBuffer) Context() *Context { return b.ctx }

// Queues returns the primary queues captured at creation.
func (b *CommandBuffer) Queues() []*CommandQueue { return b.queues }

// Properties returns the opaque property list captured at creation.
func (b *CommandBuffer) Properties() []uint64 { return b.properties }

// State returns the buffer's current state, applying the lazy
// Pending-to-Executable transition.
func (b *CommandBuffer) State() BufferState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updatedStateLocked()
}

// updatedStateLocked flips Pending back to Executable once the last
// enqueue's event has completed or terminated, enabling re-enqueue.
func (b *CommandBuffer) updatedStateLocked() BufferState {
	if b.state == StatePending &&
		(b.lastEnqueue == nil || b.lastEnqueue.Status() <= Complete) {
		b.state = StateExecutable
	}
	return b.state
}

// AddCommand records a command into the buffer. Legal only while
// Recording. The command is retained by the buffer; the assigned sync
// point, dense from 1 in recording order, is written to syncPoint when
// non-nil.
func (b *CommandBuffer) AddCommand(cmd Command, syncPoint *SyncPoint) Status {
	if cmd == nil {
		return InvalidValue
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateRecording {
		return InvalidOperation
	}
	cmd.Retain()
	q := cmd.Queue()
	b.commands[q] = append(b.commands[q], cmd)
	if syncPoint != nil {
		*syncPoint = b.nextSyncPoint
	}
	b.nextSyncPoint++
	return Success
}

// Finalize transitions Recording to Executable. Any other starting state
// fails with InvalidOperation and leaves the state unchanged.
func (b *CommandBuffer) Finalize() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateRecording {
		return InvalidOperation
	}
	b.state = StateExecutable
	return Success
}

// Enqueue submits the recorded commands. With an empty target list the
// primary queues are used; otherwise targets must match the primary
// queues positionally in count and properties, and commands recorded
// against the primary queue at the same position are cloned onto the
// target.
//
// Every submitted command waits on the full host wait list; within one
// queue the worker serializes them in recorded order. The returned event
// carries one net retain and covers the last queue's submission: the
// sole event when one command was submitted to that queue, otherwise a
// combined (first, last) event. With several queues, the events of the
// earlier queues are not part of the returned event. An empty per-queue
// list submits a single placeholder command so the buffer still yields
// an event that respects the wait list.
//
// A mid-enqueue failure is returned immediately; already-submitted
// commands are not cancelled and the buffer stays Pending until their
// events settle.
func (b *CommandBuffer) Enqueue(targets []*CommandQueue, waits []Event) (Event, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.updatedStateLocked() != StateExecutable {
		return nil, InvalidOperation
	}
	if len(targets) != 0 && len(targets) != len(b.queues) {
		return nil, IncompatibleCommandQueue
	}
	for i, t := range targets {
		if t == nil || t.Properties() != b.queues[i].Properties() {
			return nil, IncompatibleCommandQueue
		}
	}

	queues := b.queues
	if len(targets) != 0 {
		queues = targets
		for i, t := range targets {
			if _, ok := b.commands[t]; ok {
				continue
			}
			// Clones are cached so a later enqueue on the same target
			// reuses them.
			for _, cmd := range b.commands[b.queues[i]] {
				b.commands[t] = append(b.commands[t], cmd.Clone(t))
			}
		}
	}

	var outEvent Event
	for _, q := range queues {
		cmds := b.commands[q]
		for _, cmd := range cmds {
			cmd.ResetEvent()
		}

		events := make([]Event, 0, len(cmds))
		fail := func(st Status) (Event, Status) {
			b.recordEnqueueLocked(events)
			if outEvent != nil {
				outEvent.Release()
			}
			return nil, st
		}
		for _, cmd := range cmds {
			ev, st := q.EnqueueCommandWithDeps(cmd, waits)
			if st != Success {
				return fail(st)
			}
			events = append(events, ev)
		}
		if len(events) == 0 {
			dep := newDepCommand(q, CommandBufferKHR)
			ev, st := q.EnqueueCommandWithDeps(dep, waits)
			dep.Release()
			if st != Success {
				return fail(st)
			}
			events = append(events, ev)
		}

		var queueEvent Event
		if len(events) == 1 {
			queueEvent = events[0]
			queueEvent.Retain()
		} else {
			queueEvent = newCombineEvent(b.ctx, CommandBufferKHR, q,
				events[0], events[len(events)-1])
		}
		if outEvent != nil {
			outEvent.Release()
		}
		outEvent = queueEvent

		b.recordEnqueueLocked(events)
	}

	b.state = StatePending
	return outEvent, Success
}

// recordEnqueueLocked notes the last event produced by a submission
// round, releases the per-round event references, and marks the buffer
// Pending. A round that produced no events leaves the previous
// last-enqueue record in place.
func (b *CommandBuffer) recordEnqueueLocked(events []Event) {
	if len(events) > 0 {
		last := events[len(events)-1]
		last.Retain()
		if b.lastEnqueue != nil {
			b.lastEnqueue.Release()
		}
		b.lastEnqueue = last
	}
	for _, ev := range events {
		ev.Release()
	}
	b.state = StatePending
}
