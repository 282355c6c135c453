package wgpu

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cl/driver"
)

// compiler builds WGSL sources into SPIR-V shader modules via naga.
type compiler struct {
	dev *Device
}

var _ driver.Compiler = (*compiler)(nil)

func (c *compiler) Build(source, options string) (driver.Program, error) {
	_ = options // naga has no build options yet

	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driver.ErrCompileFailed, err)
	}

	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	module, err := c.dev.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "cl_program",
		Source: hal.ShaderSource{
			SPIRV: spirvCode,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create shader module: %v", driver.ErrCompileFailed, err)
	}

	driver.Logger().Debug("wgpu: program built",
		"source_bytes", len(source), "spirv_words", len(spirvCode))

	return &program{dev: c.dev, module: module}, nil
}

// program holds the compiled shader module. Entry points materialize
// into pipelines on demand.
type program struct {
	dev    *Device
	module hal.ShaderModule
}

var _ driver.Program = (*program)(nil)

// Kernel creates a compute pipeline for the entry point. The runtime
// core carries no buffer binding model, so the pipeline layout is empty.
func (p *program) Kernel(entry string) (driver.Kernel, error) {
	layout, err := p.dev.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            entry + "_pl",
		BindGroupLayouts: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout: %w", err)
	}

	pipeline, err := p.dev.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  entry,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		p.dev.device.DestroyPipelineLayout(layout)
		return nil, fmt.Errorf("%w: %q: %v", driver.ErrUnknownKernel, entry, err)
	}

	return &kernel{dev: p.dev, name: entry, layout: layout, pipeline: pipeline}, nil
}

func (p *program) Close() {
	p.dev.device.DestroyShaderModule(p.module)
}

// kernel is a ready-to-dispatch compute pipeline.
type kernel struct {
	dev      *Device
	name     string
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

var _ driver.Kernel = (*kernel)(nil)

func (k *kernel) Name() string { return k.name }

func (k *kernel) Destroy() {
	k.dev.device.DestroyComputePipeline(k.pipeline)
	k.dev.device.DestroyPipelineLayout(k.layout)
}
