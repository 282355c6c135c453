package cl

import (
	"fmt"
	"sync/atomic"
)

// Magic is a per-type constant stored in every API object for cheap
// runtime type validation at the API boundary. The values spell a
// four-byte ASCII tag.
type Magic uint32

const (
	MagicDevice        Magic = 0x44455643 // DEVC
	MagicContext       Magic = 0x43545854 // CTXT
	MagicCommandQueue  Magic = 0x51554555 // QUEU
	MagicEvent         Magic = 0x45564E54 // EVNT
	MagicCommandBuffer Magic = 0x43425546 // CBUF
	MagicProgram       Magic = 0x50524F47 // PROG
	MagicKernel        Magic = 0x4B45524E // KERN
	MagicCommand       Magic = 0x434D4E44 // CMND
)

var magicNames = map[Magic]string{
	MagicDevice:        "device",
	MagicContext:       "context",
	MagicCommandQueue:  "command_queue",
	MagicEvent:         "event",
	MagicCommandBuffer: "command_buffer",
	MagicProgram:       "program",
	MagicKernel:        "kernel",
	MagicCommand:       "command",
}

// String returns the lowercase object kind name.
func (m Magic) String() string {
	if name, ok := magicNames[m]; ok {
		return name
	}
	return "unknown"
}

// object is the intrusive base embedded by every API-visible type.
// The reference count starts at 1; Release at 1 runs the destroy hook
// exactly once. The magic tag is immutable after initObject.
type object struct {
	magic   Magic
	refs    atomic.Int32
	destroy func()
}

// initObject sets up the embedded object state and registers it with the
// allocation ledger when tracking is enabled. desc is the human-readable
// identity used in ledger diagnostics.
func (o *object) initObject(magic Magic, desc string, destroy func()) {
	o.magic = magic
	o.refs.Store(1)
	o.destroy = destroy
	trackAlloc(o, magic, desc)
}

// Magic returns the object's type tag.
func (o *object) Magic() Magic { return o.magic }

// RefCount returns the current reference count. Intended for tests and
// diagnostics; the value may be stale by the time the caller reads it.
func (o *object) RefCount() int32 { return o.refs.Load() }

// Retain increments the reference count.
func (o *object) Retain() {
	if o.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("cl: retain of destroyed %s object", o.magic))
	}
}

// Release decrements the reference count. When the count reaches zero the
// destroy hook runs exactly once, releasing any retained children.
func (o *object) Release() {
	n := o.refs.Add(-1)
	switch {
	case n == 0:
		trackFree(o)
		if o.destroy != nil {
			o.destroy()
		}
	case n < 0:
		panic(fmt.Sprintf("cl: release of destroyed %s object", o.magic))
	}
}

// checkMagic validates an object's tag at an API boundary. A mismatch is
// a programmer error, not a recoverable status.
func checkMagic(o *object, want Magic) {
	if o.magic != want {
		panic(fmt.Sprintf("cl: handle is a %s, expected %s", o.magic, want))
	}
}

// refCounted is the retain/release surface shared by every API object.
type refCounted interface {
	Retain()
	Release()
}

// Holder is a scoped reference: constructing one retains the object,
// Release releases it exactly once. Useful when an object must outlive
// the caller's frame without leaking a count on early return.
type Holder[T refCounted] struct {
	obj      T
	released bool
}

// Hold retains obj and wraps it.
func Hold[T refCounted](obj T) *Holder[T] {
	obj.Retain()
	return &Holder[T]{obj: obj}
}

// Get returns the held object.
func (h *Holder[T]) Get() T { return h.obj }

// Release drops the hold. Further calls are no-ops.
func (h *Holder[T]) Release() {
	if h.released {
		return
	}
	h.released = true
	h.obj.Release()
}
