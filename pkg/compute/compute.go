// Package compute defines the narrow device abstraction the search
// engines are written against. The real implementation lives in
// pkg/opencl; tests substitute in-memory stubs so registry and engine
// logic can be exercised on machines without any compute device.
package compute

import "unsafe"

// DeviceType selects the class of device a context is created for.
// Values match the OpenCL device-type bitfield.
type DeviceType uint64

const (
	DeviceDefault     DeviceType = 1 << 0
	DeviceCPU         DeviceType = 1 << 1
	DeviceGPU         DeviceType = 1 << 2
	DeviceAccelerator DeviceType = 1 << 3
	DeviceAll         DeviceType = 0xFFFFFFFF
)

// String returns a short human-readable name for logging.
func (t DeviceType) String() string {
	switch t {
	case DeviceDefault:
		return "default"
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	case DeviceAccelerator:
		return "accelerator"
	case DeviceAll:
		return "all"
	}
	return "unknown"
}

// MemFlag describes buffer allocation behavior. Values match the
// OpenCL cl_mem_flags bitfield.
type MemFlag uint64

const (
	MemReadWrite  MemFlag = 1 << 0
	MemWriteOnly  MemFlag = 1 << 1
	MemReadOnly   MemFlag = 1 << 2
	MemUseHostPtr MemFlag = 1 << 3
)

// Runtime is the entry point: a loaded compute runtime able to
// enumerate platforms.
type Runtime interface {
	Platforms() ([]Platform, error)
}

// Platform is one installed compute platform (driver).
type Platform interface {
	Name() string
	// CreateContext creates a context restricted to the given device
	// type. It fails when the platform has no such device.
	CreateContext(t DeviceType) (Context, error)
}

// Context owns a device list and creates the objects tied to it.
type Context interface {
	Devices() []Device
	CreateProgram(source string) (Program, error)
	CreateQueue(d Device) (Queue, error)
	// CreateBuffer creates a device buffer of size bytes. With
	// MemUseHostPtr the buffer aliases host memory at ptr and no copy
	// is made; the host region must outlive the buffer.
	CreateBuffer(flags MemFlag, size int, ptr unsafe.Pointer) (Buffer, error)
	Release()
}

// Device is a single compute device within a context.
type Device interface {
	Name() string
}

// Program is a device program created from source text.
type Program interface {
	// Build compiles for the given devices. The build log stays
	// retrievable whether or not compilation succeeded.
	Build(devices []Device) error
	BuildLog(d Device) string
	CreateKernel(name string) (Kernel, error)
	Release()
}

// Kernel is a bound entry point of a built program.
type Kernel interface {
	SetBufferArg(index int, b Buffer) error
	SetInt32Arg(index int, v int32) error
	SetUint32Arg(index int, v uint32) error
	SetFloat32Arg(index int, v float32) error
	Release()
}

// Queue is an in-order command queue. All operations here are
// synchronous from the caller's point of view once Finish returns.
type Queue interface {
	// EnqueueKernel dispatches globalWork work items in one dimension.
	EnqueueKernel(k Kernel, globalWork int) error
	// SyncRead blocks until size bytes of b are visible to the host.
	// For host-aliased buffers this maps and unmaps the region.
	SyncRead(b Buffer, size int) error
	Finish() error
	Release()
}

// Buffer is a device memory object.
type Buffer interface {
	Release()
}
