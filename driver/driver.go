// Package driver defines the narrow contracts the cl runtime consumes
// from a device backend, plus a registry for backend selection. Backends
// self-register from init functions; importing a backend package for its
// side effects makes it available.
package driver

import "errors"

// Sentinel errors shared by driver implementations.
var (
	ErrNotAvailable   = errors.New("driver: no driver available")
	ErrNoDevice       = errors.New("driver: no device found")
	ErrCompileFailed  = errors.New("driver: kernel compilation failed")
	ErrUnknownKernel  = errors.New("driver: unknown kernel entry point")
	ErrDeviceLost     = errors.New("driver: device lost")
	ErrInvalidLaunch  = errors.New("driver: invalid launch configuration")
	ErrClosed         = errors.New("driver: device closed")
	ErrNotImplemented = errors.New("driver: operation not implemented")
)

// Driver is a backend capable of enumerating compute devices.
type Driver interface {
	// Name returns the registry name of the driver.
	Name() string

	// Devices enumerates the devices the driver can open. The slice is
	// ordered by preference; callers typically open the first entry.
	Devices() ([]Device, error)
}

// Device is an opened compute device. All methods are safe for
// concurrent use unless noted.
type Device interface {
	// Name returns a human-readable device description.
	Name() string

	// NewSemaphore creates a timeline semaphore starting at zero.
	NewSemaphore() (Semaphore, error)

	// Compiler returns the device's kernel compiler.
	Compiler() Compiler

	// Dispatch launches a kernel over the given global grid with the
	// given workgroup size. Blocks until the device has consumed the
	// launch; completion is observed through the submitting queue's
	// semaphore.
	Dispatch(k Kernel, global, local [3]uint32) error

	// Close releases the device. Outstanding semaphores and kernels
	// become invalid.
	Close() error
}

// Semaphore is a monotonically increasing 64-bit timeline counter.
// The host waits for the counter to reach a value; the driver (or the
// queue worker on its behalf) advances it.
type Semaphore interface {
	// Notify advances the counter to v. Values below the current
	// counter are ignored; the counter never decreases.
	Notify(v uint64)

	// Wait blocks until the counter reaches v. Returns false if the
	// wait failed (device loss or semaphore destruction).
	Wait(v uint64) bool

	// Poll waits for the counter to reach v with bounded blocking.
	// Returns false on failure, true once the counter reaches v.
	Poll(v uint64) bool

	// PollOnce reports without blocking whether the counter has
	// reached v.
	PollOnce(v uint64) bool

	// Value returns the current counter.
	Value() uint64

	// Destroy releases the semaphore. Pending waiters are woken with
	// a false result.
	Destroy()
}

// Compiler builds kernel programs from source.
type Compiler interface {
	// Build compiles source with the given options and returns the
	// built program. On failure the error carries the build log.
	Build(source, options string) (Program, error)
}

// Program is a built kernel program.
type Program interface {
	// Kernel resolves an entry point in the program.
	Kernel(entry string) (Kernel, error)

	// Close releases the program and its device resources.
	Close()
}

// Kernel is a launchable entry point of a built program.
type Kernel interface {
	// Name returns the entry point name.
	Name() string

	// Destroy releases the kernel's device resources.
	Destroy()
}
