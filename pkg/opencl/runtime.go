package opencl

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/orneryd/pointknn/pkg/compute"
)

// Errors for API call failures.
var (
	ErrPlatformQuery  = errors.New("opencl: platform query failed")
	ErrContextCreate  = errors.New("opencl: context creation failed")
	ErrQueueCreate    = errors.New("opencl: command queue creation failed")
	ErrProgramCreate  = errors.New("opencl: program creation failed")
	ErrKernelCreate   = errors.New("opencl: kernel creation failed")
	ErrBufferCreate   = errors.New("opencl: buffer creation failed")
	ErrKernelArg      = errors.New("opencl: kernel argument rejected")
	ErrEnqueue        = errors.New("opencl: enqueue failed")
	ErrForeignHandle  = errors.New("opencl: object from a different runtime")
)

// Runtime implements compute.Runtime on the loaded OpenCL library.
type Runtime struct{}

// NewRuntime loads the OpenCL library if necessary and returns a
// runtime handle.
func NewRuntime() (*Runtime, error) {
	if err := initCL(); err != nil {
		return nil, err
	}
	return &Runtime{}, nil
}

// Platforms enumerates the installed OpenCL platforms.
func (r *Runtime) Platforms() ([]compute.Platform, error) {
	var n uint32
	if code := clGetPlatformIDs(0, nil, &n); code != clSuccess {
		return nil, fmt.Errorf("%w (code %d)", ErrPlatformQuery, code)
	}
	if n == 0 {
		return nil, nil
	}
	ids := make([]clPlatformID, n)
	if code := clGetPlatformIDs(n, &ids[0], nil); code != clSuccess {
		return nil, fmt.Errorf("%w (code %d)", ErrPlatformQuery, code)
	}
	platforms := make([]compute.Platform, n)
	for i, id := range ids {
		platforms[i] = &Platform{id: id}
	}
	return platforms, nil
}

// Platform is one OpenCL platform.
type Platform struct {
	id clPlatformID
}

// Name returns the platform name string.
func (p *Platform) Name() string {
	var size uintptr
	if clGetPlatformInfo(p.id, clPlatformName, 0, nil, &size) != clSuccess || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if clGetPlatformInfo(p.id, clPlatformName, size, &buf[0], nil) != clSuccess {
		return ""
	}
	return cString(buf)
}

// CreateContext creates a context on this platform restricted to the
// given device type.
func (p *Platform) CreateContext(t compute.DeviceType) (compute.Context, error) {
	props := []uintptr{clContextPlatform, uintptr(p.id), 0}
	var errRet int32
	handle := clCreateContextFromType(&props[0], uint64(t), 0, 0, &errRet)
	runtime.KeepAlive(props)
	if handle == 0 || errRet != clSuccess {
		return nil, fmt.Errorf("%w: device type %s (code %d)", ErrContextCreate, t, errRet)
	}

	ctx := &Context{handle: handle}
	devices, err := ctx.queryDevices()
	if err != nil {
		ctx.Release()
		return nil, err
	}
	ctx.devices = devices
	return ctx, nil
}

// Context implements compute.Context.
type Context struct {
	handle  clContext
	devices []compute.Device
}

func (c *Context) queryDevices() ([]compute.Device, error) {
	var size uintptr
	if code := clGetContextInfo(c.handle, clContextDevices, 0, nil, &size); code != clSuccess {
		return nil, fmt.Errorf("%w: device query (code %d)", ErrContextCreate, code)
	}
	n := int(size / unsafe.Sizeof(clDeviceID(0)))
	if n == 0 {
		return nil, nil
	}
	ids := make([]clDeviceID, n)
	if code := clGetContextInfo(c.handle, clContextDevices, size, &ids[0], nil); code != clSuccess {
		return nil, fmt.Errorf("%w: device query (code %d)", ErrContextCreate, code)
	}
	devices := make([]compute.Device, n)
	for i, id := range ids {
		devices[i] = &Device{id: id}
	}
	return devices, nil
}

// Devices returns the devices owned by the context.
func (c *Context) Devices() []compute.Device { return c.devices }

// CreateProgram creates an unbuilt program from source text.
func (c *Context) CreateProgram(source string) (compute.Program, error) {
	src := []byte(source)
	ptr := &src[0]
	length := uintptr(len(src))
	var errRet int32
	handle := clCreateProgramWithSource(c.handle, 1, &ptr, &length, &errRet)
	runtime.KeepAlive(src)
	if handle == 0 || errRet != clSuccess {
		return nil, fmt.Errorf("%w (code %d)", ErrProgramCreate, errRet)
	}
	return &Program{handle: handle}, nil
}

// CreateQueue creates an in-order command queue on device d.
func (c *Context) CreateQueue(d compute.Device) (compute.Queue, error) {
	dev, ok := d.(*Device)
	if !ok {
		return nil, ErrForeignHandle
	}
	var errRet int32
	handle := clCreateCommandQueue(c.handle, dev.id, 0, &errRet)
	if handle == 0 || errRet != clSuccess {
		return nil, fmt.Errorf("%w (code %d)", ErrQueueCreate, errRet)
	}
	return &Queue{handle: handle}, nil
}

// CreateBuffer creates a device buffer, optionally aliasing host
// memory (MemUseHostPtr) for zero-copy access.
func (c *Context) CreateBuffer(flags compute.MemFlag, size int, ptr unsafe.Pointer) (compute.Buffer, error) {
	var errRet int32
	handle := clCreateBuffer(c.handle, uint64(flags), uintptr(size), uintptr(ptr), &errRet)
	if handle == 0 || errRet != clSuccess {
		return nil, fmt.Errorf("%w: %d bytes (code %d)", ErrBufferCreate, size, errRet)
	}
	return &Buffer{handle: handle}, nil
}

// Release frees the context.
func (c *Context) Release() {
	if c.handle != 0 {
		clReleaseContext(c.handle)
		c.handle = 0
	}
}

// Device implements compute.Device.
type Device struct {
	id clDeviceID
}

// Name returns the device name string.
func (d *Device) Name() string {
	var size uintptr
	if clGetDeviceInfo(d.id, clDeviceName, 0, nil, &size) != clSuccess || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if clGetDeviceInfo(d.id, clDeviceName, size, &buf[0], nil) != clSuccess {
		return ""
	}
	return cString(buf)
}

// Program implements compute.Program.
type Program struct {
	handle clProgram
}

// Build compiles the program for the given devices. The build log
// remains retrievable through BuildLog whether or not this succeeds.
func (p *Program) Build(devices []compute.Device) error {
	ids := make([]clDeviceID, len(devices))
	for i, d := range devices {
		dev, ok := d.(*Device)
		if !ok {
			return ErrForeignHandle
		}
		ids[i] = dev.id
	}
	var idPtr *clDeviceID
	if len(ids) > 0 {
		idPtr = &ids[0]
	}
	if code := clBuildProgram(p.handle, uint32(len(ids)), idPtr, nil, 0, 0); code != clSuccess {
		return fmt.Errorf("opencl: program build failed (code %d)", code)
	}
	return nil
}

// BuildLog returns the compiler log for device d.
func (p *Program) BuildLog(d compute.Device) string {
	dev, ok := d.(*Device)
	if !ok {
		return ""
	}
	var size uintptr
	if clGetProgramBuildInfo(p.handle, dev.id, clProgramBuildLog, 0, nil, &size) != clSuccess || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if clGetProgramBuildInfo(p.handle, dev.id, clProgramBuildLog, size, &buf[0], nil) != clSuccess {
		return ""
	}
	return cString(buf)
}

// CreateKernel binds the named entry point.
func (p *Program) CreateKernel(name string) (compute.Kernel, error) {
	cname := append([]byte(name), 0)
	var errRet int32
	handle := clCreateKernel(p.handle, &cname[0], &errRet)
	runtime.KeepAlive(cname)
	if handle == 0 || errRet != clSuccess {
		return nil, fmt.Errorf("%w: %q (code %d)", ErrKernelCreate, name, errRet)
	}
	return &Kernel{handle: handle}, nil
}

// Release frees the program.
func (p *Program) Release() {
	if p.handle != 0 {
		clReleaseProgram(p.handle)
		p.handle = 0
	}
}

// Kernel implements compute.Kernel.
type Kernel struct {
	handle clKernel
}

func (k *Kernel) setArg(index int, size uintptr, ptr unsafe.Pointer) error {
	if code := clSetKernelArg(k.handle, uint32(index), size, uintptr(ptr)); code != clSuccess {
		return fmt.Errorf("%w: index %d (code %d)", ErrKernelArg, index, code)
	}
	return nil
}

// SetBufferArg binds a buffer object to argument index.
func (k *Kernel) SetBufferArg(index int, b compute.Buffer) error {
	buf, ok := b.(*Buffer)
	if !ok {
		return ErrForeignHandle
	}
	return k.setArg(index, unsafe.Sizeof(buf.handle), unsafe.Pointer(&buf.handle))
}

// SetInt32Arg binds an int32 scalar to argument index.
func (k *Kernel) SetInt32Arg(index int, v int32) error {
	return k.setArg(index, unsafe.Sizeof(v), unsafe.Pointer(&v))
}

// SetUint32Arg binds a uint32 scalar to argument index.
func (k *Kernel) SetUint32Arg(index int, v uint32) error {
	return k.setArg(index, unsafe.Sizeof(v), unsafe.Pointer(&v))
}

// SetFloat32Arg binds a float32 scalar to argument index.
func (k *Kernel) SetFloat32Arg(index int, v float32) error {
	return k.setArg(index, unsafe.Sizeof(v), unsafe.Pointer(&v))
}

// Release frees the kernel.
func (k *Kernel) Release() {
	if k.handle != 0 {
		clReleaseKernel(k.handle)
		k.handle = 0
	}
}

// Queue implements compute.Queue.
type Queue struct {
	handle clCommandQueue
}

// EnqueueKernel dispatches globalWork work items in one dimension.
func (q *Queue) EnqueueKernel(k compute.Kernel, globalWork int) error {
	kern, ok := k.(*Kernel)
	if !ok {
		return ErrForeignHandle
	}
	global := uintptr(globalWork)
	if code := clEnqueueNDRangeKernel(q.handle, kern.handle, 1, nil, &global, nil, 0, 0, 0); code != clSuccess {
		return fmt.Errorf("%w: kernel dispatch (code %d)", ErrEnqueue, code)
	}
	return nil
}

// SyncRead blocks until size bytes of b are host-visible, using a
// blocking map followed by an unmap so host-aliased buffers are
// synchronized in place.
func (q *Queue) SyncRead(b compute.Buffer, size int) error {
	buf, ok := b.(*Buffer)
	if !ok {
		return ErrForeignHandle
	}
	var errRet int32
	mapped := clEnqueueMapBuffer(q.handle, buf.handle, 1, clMapRead, 0, uintptr(size), 0, 0, 0, &errRet)
	if mapped == 0 || errRet != clSuccess {
		return fmt.Errorf("%w: map buffer (code %d)", ErrEnqueue, errRet)
	}
	if code := clEnqueueUnmapMemObject(q.handle, buf.handle, mapped, 0, 0, 0); code != clSuccess {
		return fmt.Errorf("%w: unmap buffer (code %d)", ErrEnqueue, code)
	}
	return nil
}

// Finish blocks until all enqueued work completes.
func (q *Queue) Finish() error {
	if code := clFinish(q.handle); code != clSuccess {
		return fmt.Errorf("%w: finish (code %d)", ErrEnqueue, code)
	}
	return nil
}

// Release frees the queue.
func (q *Queue) Release() {
	if q.handle != 0 {
		clReleaseCommandQueue(q.handle)
		q.handle = 0
	}
}

// Buffer implements compute.Buffer.
type Buffer struct {
	handle clMem
}

// Release frees the buffer object. Host memory aliased by the buffer
// is untouched.
func (b *Buffer) Release() {
	if b.handle != 0 {
		clReleaseMemObject(b.handle)
		b.handle = 0
	}
}

// cString trims a NUL-terminated byte buffer into a Go string.
func cString(buf []byte) string {
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
