package cl

import (
	"sync"

	"github.com/gogpu/cl/driver"
)

// conditionVariable is the waitable behind an event. Two variants exist:
// a timeline variant signalled by a queue's semaphore reaching a target
// value, and a host variant signalled by the process itself.
type conditionVariable interface {
	// notify signals completion from the host side.
	notify()

	// wait releases mu, blocks (or polls, when poll is set) until the
	// variable signals, then re-acquires mu. Returns false if the
	// underlying wait failed.
	wait(mu *sync.Mutex, poll bool) bool

	// isComplete reports without blocking whether the variable has
	// already signalled. The host variant always returns false; its
	// waiters learn completion through notify alone.
	isComplete() bool
}

// timelineCondition completes when a timeline semaphore reaches a target
// value. The semaphore is owned by the queue; the condition only borrows
// it for the lifetime of the event, which the queue guarantees outlives
// any waiter.
type timelineCondition struct {
	sem    driver.Semaphore
	target uint64
}

func newTimelineCondition(sem driver.Semaphore, target uint64) *timelineCondition {
	return &timelineCondition{sem: sem, target: target}
}

// notify forcibly advances the semaphore to the target value. Used when
// host code must signal completion without a device submission.
func (c *timelineCondition) notify() {
	c.sem.Notify(c.target)
}

func (c *timelineCondition) wait(mu *sync.Mutex, poll bool) bool {
	mu.Unlock()
	var ok bool
	if poll {
		ok = c.sem.Poll(c.target)
	} else {
		ok = c.sem.Wait(c.target)
	}
	mu.Lock()
	return ok
}

func (c *timelineCondition) isComplete() bool {
	return c.sem.PollOnce(c.target)
}

// hostCondition is a classic condition variable for events completed by
// the host (user events). It shares the event's mutex.
type hostCondition struct {
	cond *sync.Cond
}

func newHostCondition(mu *sync.Mutex) *hostCondition {
	return &hostCondition{cond: sync.NewCond(mu)}
}

func (c *hostCondition) notify() {
	c.cond.Broadcast()
}

// wait blocks on the condvar. The poll flag has no effect; host
// conditions cannot be polled. mu must be the mutex the condition was
// created with.
func (c *hostCondition) wait(_ *sync.Mutex, _ bool) bool {
	c.cond.Wait()
	return true
}

func (c *hostCondition) isComplete() bool { return false }
