package search

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/orneryd/pointknn/pkg/compute"
)

// In-memory compute stubs. They record every call the registry and the
// engines make so tests can assert on context creation, compile counts,
// argument binding and dispatch without any device present.

type stubRuntime struct {
	platforms []compute.Platform
	err       error
}

func (r *stubRuntime) Platforms() ([]compute.Platform, error) {
	return r.platforms, r.err
}

type stubPlatform struct {
	name string
	// devices lists device names per accepted device type. A present
	// key with an empty slice yields a context with no devices.
	devices map[compute.DeviceType][]string

	created  []compute.DeviceType
	contexts []*stubContext
}

func (p *stubPlatform) Name() string { return p.name }

func (p *stubPlatform) CreateContext(t compute.DeviceType) (compute.Context, error) {
	p.created = append(p.created, t)
	names, ok := p.devices[t]
	if !ok {
		return nil, fmt.Errorf("stub: no device of type %s", t)
	}
	ctx := &stubContext{}
	for _, n := range names {
		ctx.devices = append(ctx.devices, &stubDevice{name: n})
	}
	p.contexts = append(p.contexts, ctx)
	return ctx, nil
}

type stubDevice struct {
	name string
}

func (d *stubDevice) Name() string { return d.name }

type stubContext struct {
	devices   []compute.Device
	buildFail bool

	compiles   int
	programs   []*stubProgram
	buffers    []*stubBuffer
	dispatches []stubDispatch
	released   bool

	// onEnqueue, when set, runs on every kernel dispatch and can write
	// into host-aliased buffers to imitate device output.
	onEnqueue func(k *stubKernel, globalWork int)
}

type stubDispatch struct {
	kernel     *stubKernel
	globalWork int
}

func (c *stubContext) Devices() []compute.Device { return c.devices }

func (c *stubContext) CreateProgram(source string) (compute.Program, error) {
	c.compiles++
	p := &stubProgram{ctx: c, source: source}
	c.programs = append(c.programs, p)
	return p, nil
}

func (c *stubContext) CreateQueue(d compute.Device) (compute.Queue, error) {
	return &stubQueue{ctx: c, device: d}, nil
}

func (c *stubContext) CreateBuffer(flags compute.MemFlag, size int, ptr unsafe.Pointer) (compute.Buffer, error) {
	b := &stubBuffer{flags: flags, size: size, ptr: ptr}
	c.buffers = append(c.buffers, b)
	return b, nil
}

func (c *stubContext) Release() { c.released = true }

// liveBuffers counts buffers not yet released.
func (c *stubContext) liveBuffers() int {
	n := 0
	for _, b := range c.buffers {
		if !b.released {
			n++
		}
	}
	return n
}

type stubProgram struct {
	ctx      *stubContext
	source   string
	built    bool
	released bool
}

func (p *stubProgram) Build(devices []compute.Device) error {
	p.built = true
	if p.ctx.buildFail {
		return errors.New("stub: build failed")
	}
	return nil
}

func (p *stubProgram) BuildLog(d compute.Device) string {
	if p.ctx.buildFail {
		return "stub error: something is wrong at line 1"
	}
	return "stub: build ok"
}

func (p *stubProgram) CreateKernel(name string) (compute.Kernel, error) {
	return &stubKernel{program: p, name: name,
		bufferArgs: make(map[int]*stubBuffer),
		scalarArgs: make(map[int]any),
	}, nil
}

func (p *stubProgram) Release() { p.released = true }

type stubKernel struct {
	program *stubProgram
	name    string

	bufferArgs map[int]*stubBuffer
	scalarArgs map[int]any
	released   bool
}

func (k *stubKernel) SetBufferArg(index int, b compute.Buffer) error {
	k.bufferArgs[index] = b.(*stubBuffer)
	return nil
}

func (k *stubKernel) SetInt32Arg(index int, v int32) error {
	k.scalarArgs[index] = v
	return nil
}

func (k *stubKernel) SetUint32Arg(index int, v uint32) error {
	k.scalarArgs[index] = v
	return nil
}

func (k *stubKernel) SetFloat32Arg(index int, v float32) error {
	k.scalarArgs[index] = v
	return nil
}

func (k *stubKernel) Release() { k.released = true }

type stubQueue struct {
	ctx      *stubContext
	device   compute.Device
	released bool
}

func (q *stubQueue) EnqueueKernel(k compute.Kernel, globalWork int) error {
	sk := k.(*stubKernel)
	q.ctx.dispatches = append(q.ctx.dispatches, stubDispatch{kernel: sk, globalWork: globalWork})
	if q.ctx.onEnqueue != nil {
		q.ctx.onEnqueue(sk, globalWork)
	}
	return nil
}

func (q *stubQueue) SyncRead(b compute.Buffer, size int) error { return nil }

func (q *stubQueue) Finish() error { return nil }

func (q *stubQueue) Release() { q.released = true }

type stubBuffer struct {
	flags    compute.MemFlag
	size     int
	ptr      unsafe.Pointer
	released bool
}

func (b *stubBuffer) Release() { b.released = true }

// uint32Slice views a host-aliased buffer as a uint32 slice.
func (b *stubBuffer) uint32Slice() []uint32 {
	return unsafe.Slice((*uint32)(b.ptr), b.size/4)
}

// singleGPUWorld wires a registry over one platform with one GPU
// device, the shape most tests want.
func singleGPUWorld() (*Registry, *stubPlatform) {
	p := &stubPlatform{
		name: "Stub Platform",
		devices: map[compute.DeviceType][]string{
			compute.DeviceGPU: {"Stub GPU"},
			compute.DeviceAll: {"Stub GPU"},
		},
	}
	return NewRegistry(&stubRuntime{platforms: []compute.Platform{p}}), p
}
