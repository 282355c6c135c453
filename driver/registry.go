package driver

import (
	"os"
	"sync"
)

// Factory creates a new driver instance.
type Factory func() Driver

// Known driver names used by the default priority order.
const (
	NameWGPU     = "wgpu"
	NameSoftware = "software"
)

// registry holds registered drivers.
var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Factory)
	// Priority order for driver selection (first available wins).
	// wgpu > software (wgpu uses the GPU, software is the fallback).
	driverPriority = []string{NameWGPU, NameSoftware}
)

// Register registers a driver factory with the given name.
// This is typically called from init() functions in driver packages.
// If a driver with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[name] = factory
}

// Unregister removes a driver from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(drivers, name)
}

// Available returns a list of registered driver names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks if a driver with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// Get returns a driver instance by name.
// Returns nil if the driver is not registered.
func Get(name string) Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := drivers[name]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the best available driver. The CL_DRIVER environment
// variable pins the choice; otherwise the priority order applies.
// Returns nil if no drivers are registered.
func Default() Driver {
	if name := os.Getenv("CL_DRIVER"); name != "" {
		return Get(name)
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range driverPriority {
		if factory, ok := drivers[name]; ok {
			if d := factory(); d != nil {
				return d
			}
		}
	}

	// Fallback: return first available
	for _, factory := range drivers {
		if d := factory(); d != nil {
			return d
		}
	}

	return nil
}

// MustDefault returns the default driver or panics.
func MustDefault() Driver {
	d := Default()
	if d == nil {
		panic("driver: no driver available")
	}
	return d
}

// DefaultDevice opens the first device of the best driver that can
// produce one. When CL_DRIVER pins a driver, only that driver is tried;
// otherwise the priority order applies and a driver whose enumeration
// fails (no GPU, no Vulkan loader) is skipped in favor of the next.
func DefaultDevice() (Device, error) {
	if name := os.Getenv("CL_DRIVER"); name != "" {
		d := Get(name)
		if d == nil {
			return nil, ErrNotAvailable
		}
		return firstDevice(d)
	}

	registryMu.RLock()
	candidates := make([]Driver, 0, len(drivers))
	for _, name := range driverPriority {
		if factory, ok := drivers[name]; ok {
			if d := factory(); d != nil {
				candidates = append(candidates, d)
			}
		}
	}
	for name, factory := range drivers {
		if !priorityListed(name) {
			if d := factory(); d != nil {
				candidates = append(candidates, d)
			}
		}
	}
	registryMu.RUnlock()

	var lastErr error = ErrNotAvailable
	for _, d := range candidates {
		dev, err := firstDevice(d)
		if err == nil {
			return dev, nil
		}
		Logger().Debug("driver: enumeration failed, trying next",
			"driver", d.Name(), "error", err)
		lastErr = err
	}
	return nil, lastErr
}

func priorityListed(name string) bool {
	for _, p := range driverPriority {
		if p == name {
			return true
		}
	}
	return false
}

func firstDevice(d Driver) (Device, error) {
	devices, err := d.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	return devices[0], nil
}
