package cl

import (
	"fmt"

	"github.com/gogpu/cl/driver"
)

// Device wraps an opened driver device as an API object.
type Device struct {
	object
	dev driver.Device
}

// DefaultDevice opens the first device of the best available driver.
// The CL_DRIVER environment variable pins the driver choice. The caller
// owns one reference on the returned device; the final release closes
// the underlying driver device.
func DefaultDevice() (*Device, Status) {
	dev, err := driver.DefaultDevice()
	if err != nil {
		Logger().Warn("cl: no device available", "error", err)
		return nil, OutOfResources
	}
	return wrapDevice(dev), Success
}

// DeviceFor opens the first device of the named driver.
func DeviceFor(name string) (*Device, Status) {
	d := driver.Get(name)
	if d == nil {
		return nil, InvalidValue
	}
	devices, err := d.Devices()
	if err != nil || len(devices) == 0 {
		Logger().Warn("cl: driver has no devices", "driver", name, "error", err)
		return nil, OutOfResources
	}
	return wrapDevice(devices[0]), Success
}

func wrapDevice(dev driver.Device) *Device {
	d := &Device{dev: dev}
	d.initObject(MagicDevice, fmt.Sprintf("device(%s)", dev.Name()), func() {
		if err := d.dev.Close(); err != nil {
			Logger().Warn("cl: device close failed", "error", err)
		}
	})
	Logger().Info("cl: device opened", "name", dev.Name())
	return d
}

// Name returns the device description.
func (d *Device) Name() string { return d.dev.Name() }

func (d *Device) driverDevice() driver.Device { return d.dev }

// Context is the ownership root for queues, events, buffers, programs,
// and kernels. Children retain their context, so a context outlives
// everything created against it.
type Context struct {
	object
	device *Device
}

// NewContext creates a context over the given device. The device is
// retained for the context's lifetime.
func NewContext(device *Device) (*Context, Status) {
	if device == nil {
		return nil, InvalidValue
	}
	checkMagic(&device.object, MagicDevice)
	c := &Context{device: device}
	device.Retain()
	c.initObject(MagicContext, fmt.Sprintf("context(%s)", device.Name()), func() {
		c.device.Release()
	})
	return c, Success
}

// Device returns the context's device.
func (c *Context) Device() *Device { return c.device }
