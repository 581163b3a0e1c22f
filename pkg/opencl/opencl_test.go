package opencl

import (
	"testing"

	"github.com/orneryd/pointknn/pkg/compute"
)

// These tests exercise the real OpenCL library and skip when it is not
// installed.

func TestAvailable(t *testing.T) {
	t.Logf("OpenCL available: %v", Available())
}

func TestNewRuntimeUnavailable(t *testing.T) {
	if Available() {
		t.Skip("OpenCL library present")
	}
	if _, err := NewRuntime(); err == nil {
		t.Fatal("NewRuntime succeeded without an OpenCL library")
	}
}

func TestPlatformEnumeration(t *testing.T) {
	if !Available() {
		t.Skip("OpenCL library not available")
	}
	rt, err := NewRuntime()
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	platforms, err := rt.Platforms()
	if err != nil {
		t.Fatalf("Platforms: %v", err)
	}
	for i, p := range platforms {
		t.Logf("platform %d: %s", i, p.Name())
	}
}

func TestContextLifecycle(t *testing.T) {
	if !Available() {
		t.Skip("OpenCL library not available")
	}
	rt, err := NewRuntime()
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	platforms, err := rt.Platforms()
	if err != nil || len(platforms) == 0 {
		t.Skipf("no OpenCL platform: %v", err)
	}

	ctx, err := platforms[0].CreateContext(compute.DeviceAll)
	if err != nil {
		t.Skipf("no device on platform %q: %v", platforms[0].Name(), err)
	}
	defer ctx.Release()

	devices := ctx.Devices()
	if len(devices) == 0 {
		t.Fatal("context created with zero devices")
	}
	for i, d := range devices {
		t.Logf("device %d: %s", i, d.Name())
	}

	queue, err := ctx.CreateQueue(devices[0])
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	queue.Release()
}

func TestTrivialProgramBuild(t *testing.T) {
	if !Available() {
		t.Skip("OpenCL library not available")
	}
	rt, err := NewRuntime()
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	platforms, err := rt.Platforms()
	if err != nil || len(platforms) == 0 {
		t.Skipf("no OpenCL platform: %v", err)
	}
	ctx, err := platforms[0].CreateContext(compute.DeviceAll)
	if err != nil {
		t.Skipf("no device: %v", err)
	}
	defer ctx.Release()

	prog, err := ctx.CreateProgram("__kernel void noop(__global float* out) { out[get_global_id(0)] = 1.0f; }")
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}
	defer prog.Release()

	if err := prog.Build(ctx.Devices()); err != nil {
		t.Fatalf("Build: %v\n%s", err, prog.BuildLog(ctx.Devices()[0]))
	}
	kernel, err := prog.CreateKernel("noop")
	if err != nil {
		t.Fatalf("CreateKernel: %v", err)
	}
	kernel.Release()
}
