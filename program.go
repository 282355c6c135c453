package cl

import (
	"fmt"
	"sync"

	"github.com/gogpu/cl/driver"
)

// Program holds kernel source and, after a successful Build, the
// device-compiled form.
type Program struct {
	object

	ctx    *Context
	source string

	mu       sync.Mutex
	built    driver.Program
	buildLog string
}

// NewProgramWithSource creates an unbuilt program. The context is
// retained for the program's lifetime.
func NewProgramWithSource(ctx *Context, source string) (*Program, Status) {
	if ctx == nil {
		return nil, InvalidContext
	}
	if source == "" {
		return nil, InvalidValue
	}
	p := &Program{ctx: ctx, source: source}
	ctx.Retain()
	p.initObject(MagicProgram, "program", func() {
		p.mu.Lock()
		built := p.built
		p.built = nil
		p.mu.Unlock()
		if built != nil {
			built.Close()
		}
		p.ctx.Release()
	})
	return p, Success
}

// Context returns the program's context.
func (p *Program) Context() *Context { return p.ctx }

// Source returns the program source.
func (p *Program) Source() string { return p.source }

// Build compiles the program for the context's device. On failure the
// build log is retained and queryable with BuildLog. Rebuilding a built
// program replaces the previous build.
func (p *Program) Build(options string) Status {
	compiler := p.ctx.Device().driverDevice().Compiler()
	built, err := compiler.Build(p.source, options)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.buildLog = err.Error()
		Logger().Warn("cl: program build failed", "error", err)
		return BuildProgramFailure
	}
	if p.built != nil {
		p.built.Close()
	}
	p.built = built
	p.buildLog = ""
	return Success
}

// BuildLog returns the log of the most recent failed build, or the empty
// string after a successful one.
func (p *Program) BuildLog() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buildLog
}

// CreateKernel resolves an entry point in a built program. The kernel
// retains the program.
func (p *Program) CreateKernel(name string) (*Kernel, Status) {
	p.mu.Lock()
	built := p.built
	p.mu.Unlock()
	if built == nil {
		return nil, InvalidOperation
	}
	dk, err := built.Kernel(name)
	if err != nil {
		Logger().Warn("cl: kernel lookup failed", "name", name, "error", err)
		return nil, InvalidKernelName
	}
	return newKernel(p, name, dk), Success
}

// Kernel is a launchable entry point of a built program.
type Kernel struct {
	object

	prog *Program
	name string
	k    driver.Kernel
}

func newKernel(p *Program, name string, dk driver.Kernel) *Kernel {
	k := &Kernel{prog: p, name: name, k: dk}
	p.Retain()
	k.initObject(MagicKernel, fmt.Sprintf("kernel(%s)", name), func() {
		k.k.Destroy()
		k.prog.Release()
	})
	return k
}

// Name returns the entry point name.
func (k *Kernel) Name() string { return k.name }

// Program returns the owning program.
func (k *Kernel) Program() *Program { return k.prog }

func (k *Kernel) driverKernel() driver.Kernel { return k.k }

// Clone creates an independent kernel handle over the same entry point,
// letting concurrent enqueues hold separate references.
func (k *Kernel) Clone() (*Kernel, Status) {
	return k.prog.CreateKernel(k.name)
}
