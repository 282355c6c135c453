package cl

import (
	"sync"
	"testing"
	"time"
)

// newHostEvent builds a command event completed by the host, the
// simplest vehicle for driving the status machine directly.
func newHostEvent(ctx *Context) *commandEvent {
	e := &commandEvent{
		ctx:     ctx,
		cmdType: CommandMarker,
		status:  Queued,
	}
	e.cv = newHostCondition(&e.mu)
	if ctx != nil {
		ctx.Retain()
	}
	e.initObject(MagicEvent, "event(test)", func() {
		if e.ctx != nil {
			e.ctx.Release()
		}
	})
	return e
}

func TestEventStatusMonotonic(t *testing.T) {
	e := newHostEvent(nil)
	defer e.Release()

	e.setStatus(Submitted)
	if got := e.Status(); got != Submitted {
		t.Fatalf("status = %v, want SUBMITTED", got)
	}

	// Increasing transitions are ignored.
	e.setStatus(Queued)
	if got := e.Status(); got != Submitted {
		t.Fatalf("status after illegal transition = %v, want SUBMITTED", got)
	}

	e.setStatus(Complete)
	if got := e.Status(); got != Complete {
		t.Fatalf("status = %v, want COMPLETE", got)
	}

	// Terminal and further transitions after Complete are ignored.
	e.setStatus(ExecStatus(-5))
	if got := e.Status(); got != Complete {
		t.Fatalf("status frozen at COMPLETE, got %v", got)
	}
}

func TestEventTerminalIsFinal(t *testing.T) {
	e := newHostEvent(nil)
	defer e.Release()

	e.setStatus(ExecStatus(-5))
	if got := e.Status(); got != ExecStatus(-5) {
		t.Fatalf("status = %v, want -5", got)
	}
	e.setStatus(Complete)
	e.setStatus(ExecStatus(-7))
	if got := e.Status(); got != ExecStatus(-5) {
		t.Fatalf("terminal status changed to %v", got)
	}
	if !e.Terminated() {
		t.Fatal("Terminated() = false for negative status")
	}
}

func TestEventCallbackOrdering(t *testing.T) {
	e := newHostEvent(nil)
	defer e.Release()

	var mu sync.Mutex
	var fired []ExecStatus

	record := func(_ Event, s ExecStatus) {
		mu.Lock()
		fired = append(fired, s)
		mu.Unlock()
	}

	// Registered in reverse order; they must fire in status order.
	for _, threshold := range []ExecStatus{Complete, Running, Submitted} {
		if st := e.RegisterCallback(threshold, record); st != Success {
			t.Fatalf("RegisterCallback(%v) = %v", threshold, st)
		}
	}

	e.setStatus(Submitted)
	e.setStatus(Running)
	e.setStatus(Complete)

	mu.Lock()
	defer mu.Unlock()
	want := []ExecStatus{Submitted, Running, Complete}
	if len(fired) != len(want) {
		t.Fatalf("fired %d callbacks, want %d", len(fired), len(want))
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("callback %d observed %v, want %v", i, fired[i], want[i])
		}
	}
}

func TestEventCallbackFiresOnceOnJump(t *testing.T) {
	e := newHostEvent(nil)
	defer e.Release()

	var mu sync.Mutex
	counts := make(map[ExecStatus]int)
	for _, threshold := range []ExecStatus{Submitted, Running, Complete} {
		e.RegisterCallback(threshold, func(_ Event, s ExecStatus) {
			mu.Lock()
			counts[threshold]++
			mu.Unlock()
			if s != ExecStatus(-5) {
				t.Errorf("callback observed %v, want -5", s)
			}
		})
	}

	// A terminal jump crosses every threshold at once.
	e.setStatus(ExecStatus(-5))
	e.setStatus(ExecStatus(-5))

	mu.Lock()
	defer mu.Unlock()
	for _, threshold := range []ExecStatus{Submitted, Running, Complete} {
		if counts[threshold] != 1 {
			t.Errorf("threshold %v fired %d times, want 1", threshold, counts[threshold])
		}
	}
}

func TestEventCallbackImmediateWhenPast(t *testing.T) {
	e := newHostEvent(nil)
	defer e.Release()
	e.setStatus(Complete)

	fired := false
	e.RegisterCallback(Complete, func(_ Event, s ExecStatus) {
		fired = true
		if s != Complete {
			t.Errorf("immediate callback observed %v, want COMPLETE", s)
		}
	})
	if !fired {
		t.Fatal("callback for already-passed threshold did not fire immediately")
	}
}

func TestEventCallbackRejectsBadThreshold(t *testing.T) {
	e := newHostEvent(nil)
	defer e.Release()

	if st := e.RegisterCallback(Queued, func(Event, ExecStatus) {}); st != InvalidValue {
		t.Errorf("RegisterCallback(QUEUED) = %v, want INVALID_VALUE", st)
	}
	if st := e.RegisterCallback(ExecStatus(-1), func(Event, ExecStatus) {}); st != InvalidValue {
		t.Errorf("RegisterCallback(-1) = %v, want INVALID_VALUE", st)
	}
	if st := e.RegisterCallback(Complete, nil); st != InvalidValue {
		t.Errorf("RegisterCallback(nil) = %v, want INVALID_VALUE", st)
	}
}

func TestUserEvent(t *testing.T) {
	ctx := newTestContext(t)
	u := NewUserEvent(ctx)
	defer u.Release()

	if got := u.CommandType(); got != CommandUser {
		t.Fatalf("CommandType = %v, want USER", got)
	}
	if u.Queue() != nil {
		t.Fatal("user event has a queue")
	}
	if got := u.Status(); got != Queued {
		t.Fatalf("initial status = %v, want QUEUED", got)
	}

	if st := SetUserEventStatus(u, Running); st != InvalidValue {
		t.Errorf("SetUserEventStatus(RUNNING) = %v, want INVALID_VALUE", st)
	}
	if st := SetUserEventStatus(u, Complete); st != Success {
		t.Fatalf("SetUserEventStatus(COMPLETE) = %v", st)
	}
	if st := SetUserEventStatus(u, Complete); st != InvalidOperation {
		t.Errorf("second SetUserEventStatus = %v, want INVALID_OPERATION", st)
	}
	if got := u.Wait(); got != Complete {
		t.Fatalf("Wait = %v, want COMPLETE", got)
	}
}

func TestUserEventWaitBlocksUntilSet(t *testing.T) {
	ctx := newTestContext(t)
	u := NewUserEvent(ctx)
	defer u.Release()

	done := make(chan ExecStatus, 1)
	go func() { done <- u.Wait() }()

	select {
	case <-done:
		t.Fatal("Wait returned before the event was set")
	case <-time.After(10 * time.Millisecond):
	}

	SetUserEventStatus(u, ExecStatus(-5))
	select {
	case got := <-done:
		if got != ExecStatus(-5) {
			t.Fatalf("Wait = %v, want -5", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the event was set")
	}
}

func TestCombineEvent(t *testing.T) {
	start := newHostEvent(nil)
	end := newHostEvent(nil)
	comb := newCombineEvent(nil, CommandBufferKHR, nil, start, end)
	start.Release()
	end.Release()
	defer comb.Release()

	if got := comb.Status(); got != Queued {
		t.Fatalf("initial status = %v, want QUEUED", got)
	}

	// Status is the minimum of the pair.
	start.setStatus(Complete)
	if got := comb.Status(); got != Complete {
		t.Fatalf("status = %v, want COMPLETE (min of pair)", got)
	}

	var fired []ExecStatus
	comb.RegisterCallback(Complete, func(_ Event, s ExecStatus) { fired = append(fired, s) })
	end.setStatus(Complete)
	if len(fired) != 1 || fired[0] != Complete {
		t.Fatalf("COMPLETE callback fired = %v, want [COMPLETE]", fired)
	}

	if got := comb.Wait(); got != Complete {
		t.Fatalf("Wait = %v, want COMPLETE", got)
	}
}

func TestCombineEventTerminalDominates(t *testing.T) {
	start := newHostEvent(nil)
	end := newHostEvent(nil)
	comb := newCombineEvent(nil, CommandBufferKHR, nil, start, end)
	start.Release()
	end.Release()
	defer comb.Release()

	start.setStatus(Complete)
	end.setStatus(ExecStatus(-5))
	if got := comb.Status(); got != ExecStatus(-5) {
		t.Fatalf("status = %v, want -5", got)
	}
	if !comb.Terminated() {
		t.Fatal("Terminated() = false")
	}
}

func TestCombineEventSetStatusPanics(t *testing.T) {
	start := newHostEvent(nil)
	end := newHostEvent(nil)
	comb := newCombineEvent(nil, CommandBufferKHR, nil, start, end)
	start.Release()
	end.Release()
	defer comb.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	comb.setStatus(Complete)
}

func TestWaitForEvents(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		if st := WaitForEvents(); st != InvalidValue {
			t.Fatalf("WaitForEvents() = %v, want INVALID_VALUE", st)
		}
	})

	t.Run("all complete", func(t *testing.T) {
		a := newHostEvent(nil)
		b := newHostEvent(nil)
		defer a.Release()
		defer b.Release()
		a.setStatus(Complete)
		b.setStatus(Complete)
		if st := WaitForEvents(a, b); st != Success {
			t.Fatalf("WaitForEvents = %v, want SUCCESS", st)
		}
	})

	t.Run("one terminal", func(t *testing.T) {
		a := newHostEvent(nil)
		b := newHostEvent(nil)
		defer a.Release()
		defer b.Release()
		a.setStatus(Complete)
		b.setStatus(ExecStatus(-5))
		if st := WaitForEvents(a, b); st != ExecStatusErrorForEventsInWait {
			t.Fatalf("WaitForEvents = %v, want EXEC_STATUS_ERROR", st)
		}
	})
}

func TestTimelineEventLazyCompletion(t *testing.T) {
	ctx := newTestContext(t)
	sem, err := ctx.Device().driverDevice().NewSemaphore()
	if err != nil {
		t.Fatalf("NewSemaphore: %v", err)
	}
	defer sem.Destroy()

	e := newCommandEvent(ctx, CommandMarker, nil, newTimelineCondition(sem, 1))
	defer e.Release()

	if got := e.Status(); got != Queued {
		t.Fatalf("status before signal = %v, want QUEUED", got)
	}

	var fired bool
	e.RegisterCallback(Complete, func(Event, ExecStatus) { fired = true })

	// The host learns of timeline completion lazily, on the next read.
	sem.Notify(1)
	if got := e.Status(); got != Complete {
		t.Fatalf("status after signal = %v, want COMPLETE", got)
	}
	if !fired {
		t.Fatal("COMPLETE callback did not fire on lazy refresh")
	}
}
