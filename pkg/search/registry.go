package search

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/orneryd/pointknn/pkg/compute"
)

// EnvPlatformOverride selects among enumerated OpenCL platforms by
// integer index. Absent or out-of-range values fall back to the first
// platform.
const EnvPlatformOverride = "POINTKNN_OPENCL_PLATFORM"

// Registry is the process-wide authority over device contexts and
// compiled programs. It creates at most one context per device type
// and caches every compiled program by its exact assembled source
// text, so engines with identical parameterizations share one compiled
// artifact. Entries are never evicted.
//
// All creation and cache access is serialized by one mutex; in
// particular probe, compile and insert happen as a single critical
// section, so concurrent engine construction for one device type with
// different source texts is safe.
//
// A Registry is injected into engines rather than reached through a
// package singleton, so tests can substitute a stub runtime.
type Registry struct {
	rt compute.Runtime

	mu       sync.Mutex
	contexts map[compute.DeviceType]*deviceContext
}

// deviceContext pairs a created context with its program cache.
type deviceContext struct {
	context  compute.Context
	programs map[string]compute.Program
}

// NewRegistry creates a registry over the given runtime.
func NewRegistry(rt compute.Runtime) *Registry {
	return &Registry{
		rt:       rt,
		contexts: make(map[compute.DeviceType]*deviceContext),
	}
}

// AcquireContext returns the context for the given device type,
// creating it on first use.
func (r *Registry) AcquireContext(t compute.DeviceType) (compute.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc, err := r.lockedContext(t)
	if err != nil {
		return nil, err
	}
	return dc.context, nil
}

// lockedContext returns or creates the deviceContext for t. Caller
// holds r.mu.
func (r *Registry) lockedContext(t compute.DeviceType) (*deviceContext, error) {
	if dc, ok := r.contexts[t]; ok {
		return dc, nil
	}

	platforms, err := r.rt.Platforms()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlatform, err)
	}
	if len(platforms) == 0 {
		return nil, ErrNoPlatform
	}

	platform := platforms[0]
	if v := os.Getenv(EnvPlatformOverride); v != "" {
		if idx, err := strconv.Atoi(v); err == nil && idx >= 0 && idx < len(platforms) {
			platform = platforms[idx]
		}
	}

	ctx, err := platform.CreateContext(t)
	if err != nil {
		log.Printf("search: no device of type %s on platform %q, falling back to any device: %v",
			t, platform.Name(), err)
		ctx, err = platform.CreateContext(compute.DeviceAll)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
	}
	if len(ctx.Devices()) == 0 {
		ctx.Release()
		return nil, ErrNoDevice
	}

	dc := &deviceContext{
		context:  ctx,
		programs: make(map[string]compute.Program),
	}
	r.contexts[t] = dc
	return dc, nil
}

// Program returns the compiled program for the exact source text,
// compiling it on first request. Probe, compile and insert run as one
// critical section under the registry lock. The build log of every
// device is logged whether or not compilation succeeds; on failure the
// returned BuildError carries the logs and nothing is inserted.
//
// A context for t must already exist.
func (r *Registry) Program(t compute.DeviceType, source string) (compute.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.contexts[t]
	if !ok {
		return nil, ErrNoContext
	}
	if prog, ok := dc.programs[source]; ok {
		return prog, nil
	}

	prog, err := dc.context.CreateProgram(source)
	if err != nil {
		return nil, err
	}
	devices := dc.context.Devices()
	buildErr := prog.Build(devices)

	logs := make(map[string]string, len(devices))
	for _, d := range devices {
		buildLog := prog.BuildLog(d)
		logs[d.Name()] = buildLog
		log.Printf("search: device %q build log:\n%s", d.Name(), buildLog)
	}

	if buildErr != nil {
		prog.Release()
		return nil, &BuildError{Logs: logs, Err: buildErr}
	}

	dc.programs[source] = prog
	return prog, nil
}

// CacheSize returns the number of programs cached for the device
// type, 0 when no context exists. Exposed for tests and diagnostics.
func (r *Registry) CacheSize(t compute.DeviceType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc, ok := r.contexts[t]
	if !ok {
		return 0
	}
	return len(dc.programs)
}

// Close releases every cached program and context, logging how many
// were created over the registry's lifetime.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	programs := 0
	for _, dc := range r.contexts {
		for _, prog := range dc.programs {
			prog.Release()
			programs++
		}
		dc.context.Release()
	}
	log.Printf("search: registry closed, %d contexts and %d cached programs released",
		len(r.contexts), programs)
	r.contexts = make(map[compute.DeviceType]*deviceContext)
}
