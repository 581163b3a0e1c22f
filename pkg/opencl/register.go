package opencl

import "github.com/ebitengine/purego"

// registerFunctions registers OpenCL function pointers using purego.
func registerFunctions(lib uintptr) {
	purego.RegisterLibFunc(&clGetPlatformIDs, lib, "clGetPlatformIDs")
	purego.RegisterLibFunc(&clGetPlatformInfo, lib, "clGetPlatformInfo")
	purego.RegisterLibFunc(&clCreateContextFromType, lib, "clCreateContextFromType")
	purego.RegisterLibFunc(&clGetContextInfo, lib, "clGetContextInfo")
	purego.RegisterLibFunc(&clReleaseContext, lib, "clReleaseContext")
	purego.RegisterLibFunc(&clGetDeviceInfo, lib, "clGetDeviceInfo")
	purego.RegisterLibFunc(&clCreateCommandQueue, lib, "clCreateCommandQueue")
	purego.RegisterLibFunc(&clReleaseCommandQueue, lib, "clReleaseCommandQueue")
	purego.RegisterLibFunc(&clCreateProgramWithSource, lib, "clCreateProgramWithSource")
	purego.RegisterLibFunc(&clBuildProgram, lib, "clBuildProgram")
	purego.RegisterLibFunc(&clGetProgramBuildInfo, lib, "clGetProgramBuildInfo")
	purego.RegisterLibFunc(&clReleaseProgram, lib, "clReleaseProgram")
	purego.RegisterLibFunc(&clCreateKernel, lib, "clCreateKernel")
	purego.RegisterLibFunc(&clSetKernelArg, lib, "clSetKernelArg")
	purego.RegisterLibFunc(&clReleaseKernel, lib, "clReleaseKernel")
	purego.RegisterLibFunc(&clCreateBuffer, lib, "clCreateBuffer")
	purego.RegisterLibFunc(&clReleaseMemObject, lib, "clReleaseMemObject")
	purego.RegisterLibFunc(&clEnqueueNDRangeKernel, lib, "clEnqueueNDRangeKernel")
	purego.RegisterLibFunc(&clEnqueueMapBuffer, lib, "clEnqueueMapBuffer")
	purego.RegisterLibFunc(&clEnqueueUnmapMemObject, lib, "clEnqueueUnmapMemObject")
	purego.RegisterLibFunc(&clFinish, lib, "clFinish")
}
