package cl

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventCallback is invoked when an event's status first reaches the
// registered threshold. status is the event's status at invocation time,
// which is at or below the threshold: the threshold itself, a later
// status the event jumped to (such as Complete learned on a lazy
// refresh), or a terminal error.
// Callbacks run without the event's lock held and may call back into the
// API.
type EventCallback func(ev Event, status ExecStatus)

var errEventTerminated = errors.New("cl: event terminated with error status")

// Event is a completion primitive with a status, profiling timestamps,
// and a callback list. Three variants exist: command events produced by
// queue submission, user events completed by the host, and combined
// events aggregating a (first, last) pair.
type Event interface {
	Retain()
	Release()

	// CommandType identifies the work this event tracks.
	CommandType() CommandType

	// Queue returns the producing queue, or nil for user events.
	Queue() *CommandQueue

	// Status returns the current execution status, refreshing it from
	// the underlying timeline first. Never blocks on device work.
	Status() ExecStatus

	// Completed reports whether the event reached Complete.
	Completed() bool

	// Terminated reports whether the event ended in a terminal error.
	Terminated() bool

	// Wait blocks until the event completes or terminates and returns
	// the final status.
	Wait() ExecStatus

	// RegisterCallback arranges for fn to run exactly once when the
	// status first reaches threshold. If it already has, fn runs
	// before RegisterCallback returns.
	RegisterCallback(threshold ExecStatus, fn EventCallback) Status

	// ProfilingValue returns the timestamp for the given counter in
	// nanoseconds from a monotonic host clock.
	ProfilingValue(info ProfilingInfo) (uint64, Status)

	// setStatus drives the status machine. Internal: queue workers and
	// the host-side user event path call it.
	setStatus(s ExecStatus)
}

// clockBase anchors the monotonic clock all profiling timestamps are
// sampled from.
var clockBase = time.Now()

// sampleClock returns monotonic nanoseconds since process start.
func sampleClock() uint64 { return uint64(time.Since(clockBase)) }

// profilingIndex converts a ProfilingInfo value to a timestamp slot.
func profilingIndex(info ProfilingInfo) (int, bool) {
	if info < ProfilingQueued || info > ProfilingEnd {
		return 0, false
	}
	return int(info - ProfilingQueued), true
}

// ------------------------------------------------------------------------
// Command events
// ------------------------------------------------------------------------

// commandEvent is the event produced for a single command, and also the
// representation of user events (host condition, nil queue).
type commandEvent struct {
	object

	ctx     *Context
	queue   *CommandQueue
	cmdType CommandType

	mu        sync.Mutex
	cv        conditionVariable
	status    ExecStatus
	profiling [4]uint64
	callbacks map[ExecStatus][]EventCallback
}

var _ Event = (*commandEvent)(nil)

// newCommandEvent creates an event in the Queued state bound to the given
// condition variable. The context and queue, when non-nil, are retained
// until the event is destroyed.
func newCommandEvent(ctx *Context, cmdType CommandType, queue *CommandQueue, cv conditionVariable) *commandEvent {
	e := &commandEvent{
		ctx:     ctx,
		queue:   queue,
		cmdType: cmdType,
		cv:      cv,
		status:  Queued,
	}
	if ctx != nil {
		ctx.Retain()
	}
	if queue != nil {
		queue.Retain()
	}
	e.initObject(MagicEvent, fmt.Sprintf("event(%s)", cmdType), func() {
		if e.queue != nil {
			e.queue.Release()
		}
		if e.ctx != nil {
			e.ctx.Release()
		}
	})
	return e
}

// NewUserEvent creates a user event in the Queued state. User events are
// not queue-bound; the host drives them with SetUserEventStatus.
func NewUserEvent(ctx *Context) Event {
	e := &commandEvent{
		ctx:     ctx,
		cmdType: CommandUser,
		status:  Queued,
	}
	e.cv = newHostCondition(&e.mu)
	if ctx != nil {
		ctx.Retain()
	}
	e.initObject(MagicEvent, "event(USER)", func() {
		if e.ctx != nil {
			e.ctx.Release()
		}
	})
	return e
}

func (e *commandEvent) CommandType() CommandType { return e.cmdType }
func (e *commandEvent) Queue() *CommandQueue     { return e.queue }

// Status refreshes from the condition variable first: timeline-backed
// events learn of completion lazily, when the host next looks.
func (e *commandEvent) Status() ExecStatus {
	e.mu.Lock()
	if e.status > Complete && e.cv.isComplete() {
		e.setStatusLocked(Complete)
	}
	st := e.status
	e.mu.Unlock()
	return st
}

func (e *commandEvent) Completed() bool  { return e.Status() == Complete }
func (e *commandEvent) Terminated() bool { return e.Status() < 0 }

// Wait blocks until the event completes or terminates. A failed
// underlying wait (device loss) terminates the event.
func (e *commandEvent) Wait() ExecStatus {
	e.mu.Lock()
	for e.status > Complete {
		if !e.cv.wait(&e.mu, false) {
			e.setStatusLocked(ExecStatus(ExecStatusErrorForEventsInWait))
			break
		}
		e.setStatusLocked(Complete)
	}
	st := e.status
	e.mu.Unlock()
	return st
}

// RegisterCallback registers fn for the given threshold. Valid thresholds
// are Submitted, Running, and Complete.
func (e *commandEvent) RegisterCallback(threshold ExecStatus, fn EventCallback) Status {
	if fn == nil || threshold < Complete || threshold >= Queued {
		return InvalidValue
	}
	e.mu.Lock()
	if e.status <= threshold {
		st := e.status
		e.mu.Unlock()
		fn(e, st)
		return Success
	}
	if e.callbacks == nil {
		e.callbacks = make(map[ExecStatus][]EventCallback)
	}
	e.callbacks[threshold] = append(e.callbacks[threshold], fn)
	e.mu.Unlock()
	return Success
}

// ProfilingValue returns the requested timestamp. Profiling is available
// only on events produced by a queue created with QueueProfilingEnable.
func (e *commandEvent) ProfilingValue(info ProfilingInfo) (uint64, Status) {
	idx, ok := profilingIndex(info)
	if !ok {
		return 0, InvalidValue
	}
	if e.queue == nil || e.queue.properties&QueueProfilingEnable == 0 {
		return 0, ProfilingInfoNotAvailable
	}
	e.mu.Lock()
	v := e.profiling[idx]
	e.mu.Unlock()
	return v, Success
}

// setTimestamp records a profiling counter, overwriting any earlier
// value in that slot.
func (e *commandEvent) setTimestamp(info ProfilingInfo, v uint64) {
	idx, ok := profilingIndex(info)
	if !ok {
		return
	}
	e.mu.Lock()
	e.profiling[idx] = v
	e.mu.Unlock()
}

func (e *commandEvent) setStatus(s ExecStatus) {
	e.mu.Lock()
	e.setStatusLocked(s)
	e.mu.Unlock()
}

// setStatusLocked advances the status machine. The caller holds e.mu;
// the lock is released around callback invocation and re-acquired before
// returning. Transitions are strictly decreasing and the status freezes
// once it reaches Complete or a terminal error.
func (e *commandEvent) setStatusLocked(s ExecStatus) {
	if e.status <= Complete || s >= e.status {
		return
	}
	e.status = s

	now := sampleClock()
	switch {
	case s == Submitted:
		e.profiling[ProfilingSubmit-ProfilingQueued] = now
	case s == Running:
		e.profiling[ProfilingStart-ProfilingQueued] = now
	case s <= Complete:
		e.profiling[ProfilingEnd-ProfilingQueued] = now
	}

	if s <= Complete {
		if hc, ok := e.cv.(*hostCondition); ok {
			hc.notify()
		}
	}

	// Collect callbacks whose threshold the status just crossed, highest
	// threshold first, and fire them with the lock released.
	var thresholds []ExecStatus
	for t := range e.callbacks {
		if t >= s {
			thresholds = append(thresholds, t)
		}
	}
	if len(thresholds) == 0 {
		return
	}
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i] > thresholds[j] })
	var fired []EventCallback
	for _, t := range thresholds {
		fired = append(fired, e.callbacks[t]...)
		delete(e.callbacks, t)
	}
	e.mu.Unlock()
	for _, fn := range fired {
		fn(e, s)
	}
	e.mu.Lock()
}

// SetUserEventStatus completes or terminally errors a user event. Only
// Complete or a negative error value is accepted, and only once.
func SetUserEventStatus(ev Event, s ExecStatus) Status {
	e, ok := ev.(*commandEvent)
	if !ok || e.cmdType != CommandUser {
		return InvalidEvent
	}
	if s > Complete {
		return InvalidValue
	}
	e.mu.Lock()
	if e.status <= Complete {
		e.mu.Unlock()
		return InvalidOperation
	}
	e.setStatusLocked(s)
	e.mu.Unlock()
	return Success
}

// ------------------------------------------------------------------------
// Combined events
// ------------------------------------------------------------------------

// combineEvent aggregates the first and last event of a multi-command
// submission. It retains both sub-events for its lifetime.
type combineEvent struct {
	object

	ctx     *Context
	queue   *CommandQueue
	cmdType CommandType
	start   Event
	end     Event
}

var _ Event = (*combineEvent)(nil)

// newCombineEvent wraps a (start, end) pair. Both events are retained.
func newCombineEvent(ctx *Context, cmdType CommandType, queue *CommandQueue, start, end Event) *combineEvent {
	e := &combineEvent{
		ctx:     ctx,
		queue:   queue,
		cmdType: cmdType,
		start:   start,
		end:     end,
	}
	start.Retain()
	end.Retain()
	if ctx != nil {
		ctx.Retain()
	}
	if queue != nil {
		queue.Retain()
	}
	e.initObject(MagicEvent, fmt.Sprintf("event(combine %s)", cmdType), func() {
		e.start.Release()
		e.end.Release()
		if e.queue != nil {
			e.queue.Release()
		}
		if e.ctx != nil {
			e.ctx.Release()
		}
	})
	return e
}

func (e *combineEvent) CommandType() CommandType { return e.cmdType }
func (e *combineEvent) Queue() *CommandQueue     { return e.queue }

// Status is the minimum of the sub-event statuses: the pair has made at
// least as much progress as its least finished member reports, and a
// terminal error on either side dominates.
func (e *combineEvent) Status() ExecStatus {
	s1 := e.start.Status()
	s2 := e.end.Status()
	if s2 < s1 {
		return s2
	}
	return s1
}

func (e *combineEvent) Completed() bool  { return e.Status() == Complete }
func (e *combineEvent) Terminated() bool { return e.Status() < 0 }

// Wait delegates to the end event; queue ordering guarantees the start
// event finished first.
func (e *combineEvent) Wait() ExecStatus {
	e.end.Wait()
	return e.Status()
}

// RegisterCallback routes Complete thresholds to the end event and every
// other threshold to the start event.
func (e *combineEvent) RegisterCallback(threshold ExecStatus, fn EventCallback) Status {
	if threshold == Complete {
		return e.end.RegisterCallback(threshold, fn)
	}
	return e.start.RegisterCallback(threshold, fn)
}

// ProfilingValue reads END from the end event and every other counter
// from the start event.
func (e *combineEvent) ProfilingValue(info ProfilingInfo) (uint64, Status) {
	if info == ProfilingEnd {
		return e.end.ProfilingValue(info)
	}
	return e.start.ProfilingValue(info)
}

func (e *combineEvent) setStatus(ExecStatus) {
	panic("cl: cannot set status on a combined event")
}

// ------------------------------------------------------------------------
// Multi-event wait
// ------------------------------------------------------------------------

// WaitForEvents blocks until every event completes or terminates.
// Returns ExecStatusErrorForEventsInWait if any event ended in a
// terminal error.
func WaitForEvents(events ...Event) Status {
	if len(events) == 0 {
		return InvalidValue
	}
	var g errgroup.Group
	for _, ev := range events {
		g.Go(func() error {
			if ev.Wait().Terminal() {
				return errEventTerminated
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ExecStatusErrorForEventsInWait
	}
	return Success
}
