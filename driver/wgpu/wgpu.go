// Package wgpu provides the GPU driver over the wgpu HAL. Timeline
// semaphores map onto HAL fences, kernels onto compute pipelines, and
// dispatches onto compute passes submitted through the HAL queue.
package wgpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/cl/driver"
)

func init() {
	driver.Register(driver.NameWGPU, func() driver.Driver { return &Driver{} })
}

const (
	// fenceTimeout bounds a single HAL fence wait.
	fenceTimeout = 5 * time.Second
)

// Driver is the wgpu backend.
type Driver struct{}

var _ driver.Driver = (*Driver)(nil)

// Name returns the registry name.
func (*Driver) Name() string { return driver.NameWGPU }

// Devices opens the preferred adapter. Discrete and integrated GPUs are
// preferred over software rasterizers; only the selected adapter is
// opened, so enumeration stays cheap.
func (*Driver) Devices() ([]driver.Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", driver.ErrNoDevice)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, driver.ErrNoDevice
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}

	driver.Logger().Info("wgpu: device opened", "adapter", selected.Info.Name)

	dev := &Device{
		name:     selected.Info.Name,
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
	}
	return []driver.Device{dev}, nil
}

// Device is an opened HAL device. Submissions are serialized on a mutex;
// the HAL queue is not assumed reentrant.
type Device struct {
	name     string
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	submitMu sync.Mutex
	closed   atomic.Bool
}

var _ driver.Device = (*Device)(nil)

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// NewSemaphore creates a fence-backed timeline semaphore.
func (d *Device) NewSemaphore() (driver.Semaphore, error) {
	if d.closed.Load() {
		return nil, driver.ErrClosed
	}
	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	return &semaphore{dev: d, fence: fence}, nil
}

// Compiler returns the naga-based kernel compiler.
func (d *Device) Compiler() driver.Compiler { return &compiler{dev: d} }

// Dispatch encodes one compute pass and blocks on a transient fence
// until the device finishes it.
func (d *Device) Dispatch(k driver.Kernel, global, local [3]uint32) error {
	gk, ok := k.(*kernel)
	if !ok {
		return driver.ErrInvalidLaunch
	}
	if d.closed.Load() {
		return driver.ErrClosed
	}
	var groups [3]uint32
	for i := 0; i < 3; i++ {
		if local[i] == 0 || global[i]%local[i] != 0 {
			return driver.ErrInvalidLaunch
		}
		groups[i] = global[i] / local[i]
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "cl_dispatch",
	})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("cl_dispatch"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
		Label: gk.name,
	})
	pass.SetPipeline(gk.pipeline)
	pass.Dispatch(groups[0], groups[1], groups[2])
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	d.submitMu.Lock()
	err = d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1)
	d.submitMu.Unlock()
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	ok2, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("wait for device: %w", err)
	}
	if !ok2 {
		return fmt.Errorf("device timeout after %v", fenceTimeout)
	}

	driver.Logger().Debug("wgpu: kernel dispatched",
		"kernel", gk.name, "groups", groups)
	return nil
}

// Close destroys the HAL device and instance.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.device != nil {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
	return nil
}

// ------------------------------------------------------------------------
// Timeline semaphore
// ------------------------------------------------------------------------

// semaphore exposes a HAL fence as a monotonic timeline. Notify submits
// an empty batch that signals the fence at the target value, ordered
// after all prior submissions. observed shadows the highest value a
// successful wait has confirmed, for cheap Value reads.
type semaphore struct {
	dev       *Device
	fence     hal.Fence
	observed  atomic.Uint64
	destroyed atomic.Bool
}

var _ driver.Semaphore = (*semaphore)(nil)

func (s *semaphore) Notify(v uint64) {
	if s.destroyed.Load() {
		return
	}
	s.dev.submitMu.Lock()
	err := s.dev.queue.Submit(nil, s.fence, v)
	s.dev.submitMu.Unlock()
	if err != nil {
		driver.Logger().Warn("wgpu: fence signal failed", "value", v, "error", err)
	}
}

func (s *semaphore) Wait(v uint64) bool {
	for {
		if s.destroyed.Load() {
			return false
		}
		ok, err := s.dev.device.Wait(s.fence, v, fenceTimeout)
		if err != nil {
			driver.Logger().Warn("wgpu: fence wait failed", "value", v, "error", err)
			return false
		}
		if ok {
			s.advance(v)
			return true
		}
	}
}

// Poll is a single bounded wait.
func (s *semaphore) Poll(v uint64) bool {
	if s.destroyed.Load() {
		return false
	}
	ok, err := s.dev.device.Wait(s.fence, v, fenceTimeout)
	if err != nil || !ok {
		return false
	}
	s.advance(v)
	return true
}

func (s *semaphore) PollOnce(v uint64) bool {
	if s.destroyed.Load() {
		return false
	}
	ok, err := s.dev.device.Wait(s.fence, v, 0)
	if err != nil || !ok {
		return false
	}
	s.advance(v)
	return true
}

func (s *semaphore) Value() uint64 { return s.observed.Load() }

func (s *semaphore) advance(v uint64) {
	for {
		cur := s.observed.Load()
		if v <= cur || s.observed.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (s *semaphore) Destroy() {
	if s.destroyed.Swap(true) {
		return
	}
	s.dev.device.DestroyFence(s.fence)
}
