// Package opencl binds the OpenCL runtime through purego, loading the
// shared library at run time so no cgo toolchain or OpenCL SDK is
// needed to build.
//
// Supported platforms:
//   - Linux: libOpenCL.so.1 (vendor ICD loaders, mesa, pocl)
//   - macOS: the system OpenCL framework
//   - Windows: OpenCL.dll (shipped with GPU drivers)
//
// The package exposes thin wrappers implementing the pkg/compute
// interfaces; nothing here knows about k-NN.
package opencl

import (
	"errors"
	"sync"
)

// OpenCL API constants, from cl.h.
const (
	clSuccess = 0

	clContextPlatform = 0x1084
	clContextDevices  = 0x1081

	clPlatformName = 0x0902

	clDeviceName = 0x102B

	clProgramBuildLog = 0x1183

	clMapRead = 1 << 0
)

// Handle types. All OpenCL objects are opaque pointers.
type (
	clPlatformID   uintptr
	clDeviceID     uintptr
	clContext      uintptr
	clCommandQueue uintptr
	clProgram      uintptr
	clKernel       uintptr
	clMem          uintptr
)

// Function pointers, registered from the loaded library.
var (
	clGetPlatformIDs          func(numEntries uint32, platforms *clPlatformID, numPlatforms *uint32) int32
	clGetPlatformInfo         func(platform clPlatformID, param uint32, size uintptr, value *byte, sizeRet *uintptr) int32
	clCreateContextFromType   func(properties *uintptr, deviceType uint64, notify uintptr, userData uintptr, errRet *int32) clContext
	clGetContextInfo          func(context clContext, param uint32, size uintptr, value *clDeviceID, sizeRet *uintptr) int32
	clReleaseContext          func(context clContext) int32
	clGetDeviceInfo           func(device clDeviceID, param uint32, size uintptr, value *byte, sizeRet *uintptr) int32
	clCreateCommandQueue      func(context clContext, device clDeviceID, properties uint64, errRet *int32) clCommandQueue
	clReleaseCommandQueue     func(queue clCommandQueue) int32
	clCreateProgramWithSource func(context clContext, count uint32, strings **byte, lengths *uintptr, errRet *int32) clProgram
	clBuildProgram            func(program clProgram, numDevices uint32, devices *clDeviceID, options *byte, notify uintptr, userData uintptr) int32
	clGetProgramBuildInfo     func(program clProgram, device clDeviceID, param uint32, size uintptr, value *byte, sizeRet *uintptr) int32
	clReleaseProgram          func(program clProgram) int32
	clCreateKernel            func(program clProgram, name *byte, errRet *int32) clKernel
	clSetKernelArg            func(kernel clKernel, index uint32, size uintptr, value uintptr) int32
	clReleaseKernel           func(kernel clKernel) int32
	clCreateBuffer            func(context clContext, flags uint64, size uintptr, hostPtr uintptr, errRet *int32) clMem
	clReleaseMemObject        func(mem clMem) int32
	clEnqueueNDRangeKernel    func(queue clCommandQueue, kernel clKernel, workDim uint32, globalOffset *uintptr, globalSize *uintptr, localSize *uintptr, numEvents uint32, waitList uintptr, event uintptr) int32
	clEnqueueMapBuffer        func(queue clCommandQueue, buffer clMem, blocking uint32, mapFlags uint64, offset uintptr, size uintptr, numEvents uint32, waitList uintptr, event uintptr, errRet *int32) uintptr
	clEnqueueUnmapMemObject   func(queue clCommandQueue, buffer clMem, mapped uintptr, numEvents uint32, waitList uintptr, event uintptr) int32
	clFinish                  func(queue clCommandQueue) int32
)

var (
	libMu   sync.Mutex
	clLib   uintptr // loaded library handle
	loadErr error
)

// ErrNotAvailable is returned when the OpenCL library cannot be found
// or loaded on this system.
var ErrNotAvailable = errors.New("opencl: OpenCL library not available")

// initCL loads the OpenCL library once. Subsequent calls return the
// sticky result of the first attempt.
func initCL() error {
	libMu.Lock()
	defer libMu.Unlock()

	if clLib != 0 {
		return nil
	}
	if loadErr != nil {
		return loadErr
	}

	lib, err := loadLibrary()
	if err != nil {
		loadErr = err
		return err
	}
	clLib = lib
	registerFunctions(lib)
	return nil
}

// Available reports whether the OpenCL runtime can be loaded and
// exposes at least one platform.
func Available() bool {
	if err := initCL(); err != nil {
		return false
	}
	var n uint32
	if clGetPlatformIDs(0, nil, &n) != clSuccess {
		return false
	}
	return n > 0
}
