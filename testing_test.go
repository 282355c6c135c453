package cl

import (
	"testing"

	"github.com/gogpu/cl/driver"
	"github.com/gogpu/cl/driver/software"
)

// newTestContext opens a context over the software device. Released via
// t.Cleanup, after any queues registered later.
func newTestContext(t *testing.T) *Context {
	t.Helper()
	dev, st := DeviceFor(driver.NameSoftware)
	if st != Success {
		t.Fatalf("DeviceFor(software) = %v", st)
	}
	ctx, st := NewContext(dev)
	dev.Release()
	if st != Success {
		t.Fatalf("NewContext = %v", st)
	}
	t.Cleanup(ctx.Release)
	return ctx
}

// softwareDevice unwraps the context's driver device for kernel
// registration.
func softwareDevice(t *testing.T, ctx *Context) *software.Device {
	t.Helper()
	sd, ok := ctx.Device().driverDevice().(*software.Device)
	if !ok {
		t.Fatal("context is not backed by the software device")
	}
	return sd
}

// newTestQueue creates a queue released via t.Cleanup.
func newTestQueue(t *testing.T, ctx *Context, props QueueProperties) *CommandQueue {
	t.Helper()
	q, st := NewCommandQueue(ctx, props)
	if st != Success {
		t.Fatalf("NewCommandQueue = %v", st)
	}
	t.Cleanup(q.Release)
	return q
}

// failCommand fails at Build time with a fixed status. Used to exercise
// the partial enqueue failure path.
type failCommand struct {
	baseCommand
	buildStatus Status
}

func newFailCommand(q *CommandQueue, st Status) *failCommand {
	c := &failCommand{buildStatus: st}
	c.initCommand(q, CommandMarker)
	return c
}

func (c *failCommand) Build() Status   { return c.buildStatus }
func (c *failCommand) Execute() Status { return Success }

func (c *failCommand) Clone(q *CommandQueue) Command {
	return newFailCommand(q, c.buildStatus)
}
