// Package cl provides a compute runtime for Go with command queues,
// events, and recordable command buffers.
//
// # Overview
//
// cl models the host side of a compute API: programs are built from
// kernel source, kernels are launched over ND-ranges on command queues,
// and every submission yields an event that can be waited on, polled,
// or observed through callbacks. Command buffers record batches of
// commands once and replay them any number of times, on the queues they
// were recorded against or on compatible substitutes.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/cl"
//	    _ "github.com/gogpu/cl/driver/software"
//	    _ "github.com/gogpu/cl/driver/wgpu"
//	)
//
//	dev, _ := cl.DefaultDevice()
//	ctx, _ := cl.NewContext(dev)
//	q, _ := cl.NewCommandQueue(ctx, 0)
//
//	p, _ := cl.NewProgramWithSource(ctx, source)
//	p.Build("")
//	k, _ := p.CreateKernel("main")
//
//	ev, _ := q.EnqueueNDRangeKernel(k, [3]uint32{64, 1, 1}, [3]uint32{8, 1, 1}, nil)
//	ev.Wait()
//	ev.Release()
//
// # Drivers
//
// Execution is delegated to a driver selected at runtime. The wgpu
// driver compiles kernels to SPIR-V and dispatches them on the GPU via
// Vulkan; the software driver runs kernels as host functions and is
// always available. Import the driver packages for their registration
// side effect; the CL_DRIVER environment variable pins the choice.
//
// # Object Lifetime
//
// Every API object is reference counted. Constructors return objects
// with one reference owned by the caller; Retain and Release adjust the
// count and the final Release destroys the object. Objects retain what
// they depend on, so releasing a context before its queues is safe.
// Set CL_LOG_ALLOCATIONS to track live objects during development.
//
// # Architecture
//
// The module is organized into:
//   - Public API: Device, Context, CommandQueue, Event, CommandBuffer, Program, Kernel
//   - driver: the backend interface and registry
//   - driver/software: host-execution fallback
//   - driver/wgpu: Vulkan compute via gogpu/wgpu
package cl
