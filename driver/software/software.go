// Package software provides the CPU fallback driver. It executes
// nothing on a device: dispatches run as host code and timeline
// semaphores are plain condition variables. It is always available,
// which makes it the backstop of the driver priority order and the
// workhorse of the test suite.
package software

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/cl/driver"
)

func init() {
	driver.Register(driver.NameSoftware, func() driver.Driver { return &Driver{} })
}

// Driver is the software backend.
type Driver struct{}

var _ driver.Driver = (*Driver)(nil)

// Name returns the registry name.
func (*Driver) Name() string { return driver.NameSoftware }

// Devices returns the single host device.
func (*Driver) Devices() ([]driver.Device, error) {
	return []driver.Device{newDevice()}, nil
}

// Device is the host pseudo-device.
type Device struct {
	mu     sync.Mutex
	closed bool

	// kernels maps entry point names to the host functions Dispatch
	// will run, filled by RegisterKernelFunc. A kernel picks up its
	// function when it is resolved from a built program; without an
	// entry it launches as a no-op.
	kernels map[string]KernelFunc
}

// KernelFunc is a host implementation of a kernel entry point, invoked
// once per workgroup with the workgroup's grid coordinates.
type KernelFunc func(group [3]uint32)

var _ driver.Device = (*Device)(nil)

func newDevice() *Device {
	return &Device{kernels: make(map[string]KernelFunc)}
}

// Name returns the device description.
func (*Device) Name() string { return "software" }

// RegisterKernelFunc installs a host function for an entry point.
func (d *Device) RegisterKernelFunc(entry string, fn KernelFunc) {
	d.mu.Lock()
	d.kernels[entry] = fn
	d.mu.Unlock()
}

// NewSemaphore creates a condition-variable timeline semaphore.
func (d *Device) NewSemaphore() (driver.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, driver.ErrClosed
	}
	return newSemaphore(), nil
}

// Compiler returns the source-scanning compiler.
func (d *Device) Compiler() driver.Compiler { return &compiler{dev: d} }

// Dispatch runs the kernel's host function once per workgroup, in grid
// order on the calling goroutine.
func (d *Device) Dispatch(k driver.Kernel, global, local [3]uint32) error {
	sk, ok := k.(*kernel)
	if !ok {
		return driver.ErrInvalidLaunch
	}
	for i := 0; i < 3; i++ {
		if local[i] == 0 || global[i]%local[i] != 0 {
			return driver.ErrInvalidLaunch
		}
	}
	if sk.fn == nil {
		return nil
	}
	var groups [3]uint32
	for i := 0; i < 3; i++ {
		groups[i] = global[i] / local[i]
	}
	for z := uint32(0); z < groups[2]; z++ {
		for y := uint32(0); y < groups[1]; y++ {
			for x := uint32(0); x < groups[0]; x++ {
				sk.fn([3]uint32{x, y, z})
			}
		}
	}
	return nil
}

// Close marks the device closed. Semaphores created earlier keep
// working; new ones are refused.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// ------------------------------------------------------------------------
// Timeline semaphore
// ------------------------------------------------------------------------

// semaphore is a monotonic 64-bit counter with condvar wakeups.
type semaphore struct {
	mu        sync.Mutex
	cond      *sync.Cond
	value     uint64
	destroyed bool
}

var _ driver.Semaphore = (*semaphore)(nil)

func newSemaphore() *semaphore {
	s := &semaphore{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *semaphore) Notify(v uint64) {
	s.mu.Lock()
	if v > s.value {
		s.value = v
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *semaphore) Wait(v uint64) bool {
	s.mu.Lock()
	for s.value < v && !s.destroyed {
		s.cond.Wait()
	}
	ok := s.value >= v
	s.mu.Unlock()
	return ok
}

// Poll waits with bounded blocking: short sleeps between checks, giving
// up only on destruction.
func (s *semaphore) Poll(v uint64) bool {
	for {
		s.mu.Lock()
		ok := s.value >= v
		destroyed := s.destroyed
		s.mu.Unlock()
		if ok {
			return true
		}
		if destroyed {
			return false
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func (s *semaphore) PollOnce(v uint64) bool {
	s.mu.Lock()
	ok := s.value >= v
	s.mu.Unlock()
	return ok
}

func (s *semaphore) Value() uint64 {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()
	return v
}

func (s *semaphore) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// ------------------------------------------------------------------------
// Compiler
// ------------------------------------------------------------------------

// compiler performs a shallow scan of the source for entry points. The
// software device has no real compilation pipeline; an entry point is
// any name following a "fn " token, which covers the WGSL sources the
// wgpu driver compiles for real.
type compiler struct {
	dev *Device
}

var _ driver.Compiler = (*compiler)(nil)

func (c *compiler) Build(source, options string) (driver.Program, error) {
	_ = options
	entries := scanEntryPoints(source)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entry points found", driver.ErrCompileFailed)
	}
	return &program{dev: c.dev, entries: entries}, nil
}

func scanEntryPoints(source string) map[string]bool {
	entries := make(map[string]bool)
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, "fn ")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("fn "):]
		end := strings.IndexAny(rest, "( \t")
		if end <= 0 {
			continue
		}
		entries[rest[:end]] = true
	}
	return entries
}

type program struct {
	dev     *Device
	entries map[string]bool
}

var _ driver.Program = (*program)(nil)

func (p *program) Kernel(entry string) (driver.Kernel, error) {
	if !p.entries[entry] {
		return nil, fmt.Errorf("%w: %q", driver.ErrUnknownKernel, entry)
	}
	p.dev.mu.Lock()
	fn := p.dev.kernels[entry]
	p.dev.mu.Unlock()
	return &kernel{name: entry, fn: fn}, nil
}

func (p *program) Close() {}

type kernel struct {
	name string
	fn   KernelFunc
}

var _ driver.Kernel = (*kernel)(nil)

func (k *kernel) Name() string { return k.name }
func (k *kernel) Destroy()     {}
