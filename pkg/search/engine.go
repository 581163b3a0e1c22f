package search

import (
	"fmt"
	"unsafe"

	"github.com/orneryd/pointknn/pkg/cloud"
	"github.com/orneryd/pointknn/pkg/compute"
)

// CreationFlags select optional engine behavior fixed at construction.
type CreationFlags uint32

const (
	// TouchStatistics compiles the kernels with per-query traversal
	// counters and makes KNN return their aggregate.
	TouchStatistics CreationFlags = 1 << 0
)

// SearchFlags select per-call behavior, forwarded to the kernel.
type SearchFlags uint32

const (
	// AllowSelfMatch admits zero-distance matches (a query point that
	// is also a cloud point matching itself).
	AllowSelfMatch SearchFlags = 1 << 0
	// SortResults orders each query's neighbors by increasing squared
	// distance.
	SortResults SearchFlags = 1 << 1
)

// Config parameterizes engine construction.
type Config struct {
	// Dim restricts the search to the first Dim rows of the cloud.
	// 0 means all rows.
	Dim int
	// DeviceType selects the device class the context is created for.
	DeviceType compute.DeviceType
	// SourceDir is the kernel source directory; empty falls back to
	// $POINTKNN_KERNEL_DIR, then "kernels".
	SourceDir string
	// Flags are the creation options.
	Flags CreationFlags
}

// DefaultConfig returns the defaults: full dimensionality, GPU device
// class, environment-resolved kernel directory, no statistics.
func DefaultConfig() *Config {
	return &Config{DeviceType: compute.DeviceGPU}
}

// Engine is the shared dispatch pipeline of all search variants. It
// holds the compiled kernel, the command queue and the device-resident
// static buffers (cloud, and node array for tree variants).
//
// An Engine is not safe for concurrent KNN calls; each call blocks
// until the device completes. Engines sharing a Registry may be used
// concurrently with each other.
type Engine struct {
	cloud      *cloud.Matrix
	dim        int
	flags      CreationFlags
	deviceType compute.DeviceType

	ctx    compute.Context
	kernel compute.Kernel
	queue  compute.Queue

	cloudBuf compute.Buffer
	nodesBuf compute.Buffer
	layout   argLayout

	// Min and Max are the cloud's bounding box over the first dim rows.
	Min, Max []float32
}

// newEngine runs the construction pipeline common to every variant:
// validate the cloud layout, acquire a context, assemble and compile
// the program, bind the kernel, create the queue, and upload the cloud
// as a zero-copy read-only buffer.
func newEngine(reg *Registry, pts *cloud.Matrix, cfg *Config, kernelFile, kernelName, extraDefines string, hasNodes bool) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if pts.Order() != cloud.ColMajor {
		return nil, fmt.Errorf("%w: point cloud must be column-major with direct access", ErrUsage)
	}
	if pts.Cols() == 0 {
		return nil, fmt.Errorf("%w: empty point cloud", ErrUsage)
	}
	dim := cfg.Dim
	if dim == 0 {
		dim = pts.Rows()
	}
	if dim < 1 || dim > pts.Rows() {
		return nil, fmt.Errorf("%w: dim %d outside cloud rows %d", ErrUsage, dim, pts.Rows())
	}

	ctx, err := reg.AcquireContext(cfg.DeviceType)
	if err != nil {
		return nil, err
	}

	collectStats := cfg.Flags&TouchStatistics != 0
	preamble := definesPreamble(dim, pts.Stride(), collectStats, extraDefines)
	source, err := assembleSource(kernelDir(cfg.SourceDir), preamble, kernelFile)
	if err != nil {
		return nil, err
	}

	program, err := reg.Program(cfg.DeviceType, source)
	if err != nil {
		return nil, err
	}

	kernel, err := program.CreateKernel(kernelName)
	if err != nil {
		return nil, err
	}

	devices := ctx.Devices()
	queue, err := ctx.CreateQueue(devices[len(devices)-1])
	if err != nil {
		kernel.Release()
		return nil, err
	}

	e := &Engine{
		cloud:      pts,
		dim:        dim,
		flags:      cfg.Flags,
		deviceType: cfg.DeviceType,
		ctx:        ctx,
		kernel:     kernel,
		queue:      queue,
		layout:     argLayout{hasNodes: hasNodes, hasVisit: collectStats},
	}
	e.Min, e.Max = pts.Bounds(dim)

	data := pts.Data()
	cloudBytes := pts.Cols() * pts.Stride() * 4
	e.cloudBuf, err = ctx.CreateBuffer(compute.MemReadOnly|compute.MemUseHostPtr, cloudBytes, unsafe.Pointer(&data[0]))
	if err != nil {
		e.Close()
		return nil, err
	}
	if err := kernel.SetBufferArg(argCloud, e.cloudBuf); err != nil {
		e.Close()
		return nil, err
	}

	return e, nil
}

// uploadNodes uploads a packed node array as a zero-copy read-only
// buffer and binds it to the kernel's node slot. The host slice must
// stay alive for the engine's lifetime.
func (e *Engine) uploadNodes(ptr unsafe.Pointer, size int) error {
	buf, err := e.ctx.CreateBuffer(compute.MemReadOnly|compute.MemUseHostPtr, size, ptr)
	if err != nil {
		return err
	}
	e.nodesBuf = buf
	return e.kernel.SetBufferArg(e.layout.nodesPos(), buf)
}

// Dim returns the search dimensionality.
func (e *Engine) Dim() int { return e.dim }

// Cloud returns the referenced point cloud.
func (e *Engine) Cloud() *cloud.Matrix { return e.cloud }

// KNN finds, for every query column, the k nearest cloud points by
// squared Euclidean distance, writing indices and squared distances in
// place into the caller's matrices. The matrices are borrowed for the
// duration of the call and must not be mutated while it runs.
//
// epsilon > 0 permits approximate results: a branch is skipped when
// its squared distance bound exceeds the current worst candidate
// divided by 1+epsilon. With statistics enabled at construction the
// returned count is the sum of per-query traversal visits, else 0.
//
// The call blocks until the device signals completion.
func (e *Engine) KNN(query *cloud.Matrix, indices *cloud.IndexMatrix, dists2 *cloud.Matrix, k int, epsilon float32, flags SearchFlags) (uint64, error) {
	if err := e.checkSizes(query, indices, dists2, k); err != nil {
		return 0, err
	}
	if query.Cols() == 0 {
		return 0, nil
	}

	queryData := query.Data()
	queryBuf, err := e.ctx.CreateBuffer(compute.MemReadOnly|compute.MemUseHostPtr,
		query.Cols()*query.Stride()*4, unsafe.Pointer(&queryData[0]))
	if err != nil {
		return 0, err
	}
	defer queryBuf.Release()

	indexData := indices.Data()
	indicesBytes := indices.Cols() * indices.Stride() * 4
	indicesBuf, err := e.ctx.CreateBuffer(compute.MemWriteOnly|compute.MemUseHostPtr,
		indicesBytes, unsafe.Pointer(&indexData[0]))
	if err != nil {
		return 0, err
	}
	defer indicesBuf.Release()

	distData := dists2.Data()
	distBytes := dists2.Cols() * dists2.Stride() * 4
	distBuf, err := e.ctx.CreateBuffer(compute.MemWriteOnly|compute.MemUseHostPtr,
		distBytes, unsafe.Pointer(&distData[0]))
	if err != nil {
		return 0, err
	}
	defer distBuf.Release()

	if err := e.kernel.SetBufferArg(argQuery, queryBuf); err != nil {
		return 0, err
	}
	if err := e.kernel.SetBufferArg(argIndices, indicesBuf); err != nil {
		return 0, err
	}
	if err := e.kernel.SetBufferArg(argDists2, distBuf); err != nil {
		return 0, err
	}
	if err := e.kernel.SetUint32Arg(argK, uint32(k)); err != nil {
		return 0, err
	}
	if err := e.kernel.SetFloat32Arg(argMaxError, 1+epsilon); err != nil {
		return 0, err
	}
	if err := e.kernel.SetUint32Arg(argOptionFlags, uint32(flags)); err != nil {
		return 0, err
	}
	if err := e.kernel.SetUint32Arg(argIndexStride, uint32(indices.Stride())); err != nil {
		return 0, err
	}
	if err := e.kernel.SetUint32Arg(argDists2Stride, uint32(dists2.Stride())); err != nil {
		return 0, err
	}
	if err := e.kernel.SetUint32Arg(argPointCount, uint32(e.cloud.Cols())); err != nil {
		return 0, err
	}

	var visits []uint32
	var visitBuf compute.Buffer
	if e.layout.hasVisit {
		visits = make([]uint32, query.Cols())
		visitBuf, err = e.ctx.CreateBuffer(compute.MemWriteOnly|compute.MemUseHostPtr,
			len(visits)*4, unsafe.Pointer(&visits[0]))
		if err != nil {
			return 0, err
		}
		defer visitBuf.Release()
		if err := e.kernel.SetBufferArg(e.layout.visitPos(), visitBuf); err != nil {
			return 0, err
		}
	}

	if err := e.queue.EnqueueKernel(e.kernel, query.Cols()); err != nil {
		return 0, err
	}
	if err := e.queue.SyncRead(indicesBuf, indicesBytes); err != nil {
		return 0, err
	}
	if err := e.queue.SyncRead(distBuf, distBytes); err != nil {
		return 0, err
	}
	if visitBuf != nil {
		if err := e.queue.SyncRead(visitBuf, len(visits)*4); err != nil {
			return 0, err
		}
	}
	if err := e.queue.Finish(); err != nil {
		return 0, err
	}

	var total uint64
	for _, v := range visits {
		total += uint64(v)
	}
	return total, nil
}

// checkSizes validates every caller-supplied shape before any device
// interaction, so usage errors never touch device state.
func (e *Engine) checkSizes(query *cloud.Matrix, indices *cloud.IndexMatrix, dists2 *cloud.Matrix, k int) error {
	if k < 1 || k > MaxK {
		return fmt.Errorf("%w: k=%d outside [1,%d]", ErrUsage, k, MaxK)
	}
	if query.Rows() != e.dim {
		return fmt.Errorf("%w: query dimension %d, cloud dimension %d", ErrUsage, query.Rows(), e.dim)
	}
	if query.Stride() != e.cloud.Stride() {
		return fmt.Errorf("%w: query stride %d, cloud stride %d", ErrUsage, query.Stride(), e.cloud.Stride())
	}
	if query.Order() != cloud.ColMajor {
		return fmt.Errorf("%w: query must be column-major with direct access", ErrUsage)
	}
	if indices.Rows() != k || indices.Cols() != query.Cols() {
		return fmt.Errorf("%w: indices shape %dx%d, want %dx%d",
			ErrUsage, indices.Rows(), indices.Cols(), k, query.Cols())
	}
	if dists2.Rows() != k || dists2.Cols() != query.Cols() {
		return fmt.Errorf("%w: dists2 shape %dx%d, want %dx%d",
			ErrUsage, dists2.Rows(), dists2.Cols(), k, query.Cols())
	}
	if indices.Order() != cloud.ColMajor || dists2.Order() != cloud.ColMajor {
		return fmt.Errorf("%w: result matrices must be column-major with direct access", ErrUsage)
	}
	return nil
}

// Close releases the engine's device objects. The registry-owned
// context and cached program are left alone.
func (e *Engine) Close() {
	if e.nodesBuf != nil {
		e.nodesBuf.Release()
		e.nodesBuf = nil
	}
	if e.cloudBuf != nil {
		e.cloudBuf.Release()
		e.cloudBuf = nil
	}
	if e.queue != nil {
		e.queue.Release()
		e.queue = nil
	}
	if e.kernel != nil {
		e.kernel.Release()
		e.kernel = nil
	}
}
