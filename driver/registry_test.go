package driver

import (
	"errors"
	"testing"
)

type fakeDriver struct {
	name    string
	devices []Device
	err     error
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Devices() ([]Device, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.devices, nil
}

type fakeDevice struct {
	name string
}

func (d *fakeDevice) Name() string                 { return d.name }
func (d *fakeDevice) NewSemaphore() (Semaphore, error) { return nil, ErrNotImplemented }
func (d *fakeDevice) Compiler() Compiler           { return nil }
func (d *fakeDevice) Dispatch(Kernel, [3]uint32, [3]uint32) error {
	return ErrNotImplemented
}
func (d *fakeDevice) Close() error { return nil }

// register installs a fake driver for the duration of the test.
func register(t *testing.T, name string, d *fakeDriver) {
	t.Helper()
	Register(name, func() Driver { return d })
	t.Cleanup(func() { Unregister(name) })
}

func TestRegisterAndGet(t *testing.T) {
	d := &fakeDriver{name: "fake-get"}
	register(t, "fake-get", d)

	if !IsRegistered("fake-get") {
		t.Fatal("IsRegistered = false after Register")
	}
	got := Get("fake-get")
	if got != Driver(d) {
		t.Fatal("Get did not return the registered driver")
	}
	if Get("fake-absent") != nil {
		t.Fatal("Get of unregistered name != nil")
	}

	found := false
	for _, name := range Available() {
		if name == "fake-get" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Available() = %v, missing fake-get", Available())
	}
}

func TestUnregister(t *testing.T) {
	Register("fake-gone", func() Driver { return &fakeDriver{name: "fake-gone"} })
	Unregister("fake-gone")
	if IsRegistered("fake-gone") {
		t.Fatal("IsRegistered = true after Unregister")
	}
}

func TestDefaultPriority(t *testing.T) {
	wgpu := &fakeDriver{name: NameWGPU}
	sw := &fakeDriver{name: NameSoftware}
	register(t, NameWGPU, wgpu)
	register(t, NameSoftware, sw)

	if got := Default(); got != Driver(wgpu) {
		t.Fatalf("Default() = %v, want the wgpu fake", got)
	}

	Unregister(NameWGPU)
	if got := Default(); got != Driver(sw) {
		t.Fatalf("Default() after unregistering wgpu = %v, want the software fake", got)
	}
}

func TestDefaultEnvPin(t *testing.T) {
	wgpu := &fakeDriver{name: NameWGPU}
	pinned := &fakeDriver{name: "fake-pin"}
	register(t, NameWGPU, wgpu)
	register(t, "fake-pin", pinned)

	t.Setenv("CL_DRIVER", "fake-pin")
	if got := Default(); got != Driver(pinned) {
		t.Fatalf("Default() with CL_DRIVER pin = %v, want the pinned fake", got)
	}

	t.Setenv("CL_DRIVER", "fake-absent")
	if got := Default(); got != nil {
		t.Fatalf("Default() with absent pin = %v, want nil", got)
	}
}

func TestDefaultDeviceSkipsFailedEnumeration(t *testing.T) {
	broken := &fakeDriver{name: NameWGPU, err: errors.New("no vulkan loader")}
	working := &fakeDriver{
		name:    NameSoftware,
		devices: []Device{&fakeDevice{name: "cpu"}},
	}
	register(t, NameWGPU, broken)
	register(t, NameSoftware, working)

	dev, err := DefaultDevice()
	if err != nil {
		t.Fatalf("DefaultDevice: %v", err)
	}
	if dev.Name() != "cpu" {
		t.Fatalf("DefaultDevice picked %q, want the working fallback", dev.Name())
	}
}

func TestDefaultDeviceEmptyEnumeration(t *testing.T) {
	empty := &fakeDriver{name: "fake-empty"}
	register(t, "fake-empty", empty)

	t.Setenv("CL_DRIVER", "fake-empty")
	if _, err := DefaultDevice(); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("DefaultDevice on empty driver = %v, want ErrNoDevice", err)
	}
}

func TestDefaultDevicePinnedFailureIsFinal(t *testing.T) {
	broken := &fakeDriver{name: "fake-broken", err: errors.New("device lost")}
	working := &fakeDriver{
		name:    NameSoftware,
		devices: []Device{&fakeDevice{name: "cpu"}},
	}
	register(t, "fake-broken", broken)
	register(t, NameSoftware, working)

	t.Setenv("CL_DRIVER", "fake-broken")
	if _, err := DefaultDevice(); err == nil {
		t.Fatal("DefaultDevice did not surface the pinned driver's failure")
	}

	t.Setenv("CL_DRIVER", "fake-absent")
	if _, err := DefaultDevice(); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("DefaultDevice with absent pin = %v, want ErrNotAvailable", err)
	}
}
