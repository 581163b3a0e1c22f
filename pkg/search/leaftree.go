package search

import (
	"fmt"
	"unsafe"

	"github.com/orneryd/pointknn/pkg/cloud"
	"github.com/orneryd/pointknn/pkg/kdtree"
)

// LeafTree is the engine backed by a balanced k-d tree with points in
// the leaves. The node array is built on the host once and uploaded
// as a read-only zero-copy buffer; queries traverse it on the device
// with a bounded explicit stack.
type LeafTree struct {
	*Engine
	Tree *kdtree.LeafTree

	// packed aliases device memory and must outlive the engine.
	packed []kdtree.PackedLeafNode
}

// NewLeafTree builds the tree and creates the engine.
func NewLeafTree(reg *Registry, pts *cloud.Matrix, cfg *Config) (*LeafTree, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dim := cfg.Dim
	if dim == 0 {
		dim = pts.Rows()
	}
	if pts.Order() != cloud.ColMajor {
		return nil, fmt.Errorf("%w: point cloud must be column-major with direct access", ErrUsage)
	}
	if dim < 1 || dim > pts.Rows() {
		return nil, fmt.Errorf("%w: dim %d outside cloud rows %d", ErrUsage, dim, pts.Rows())
	}

	tree, err := kdtree.BuildLeafTree(pts, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	maxStackDepth := tree.Depth() + 1
	extra := fmt.Sprintf("#define MAX_STACK_DEPTH %d\n", maxStackDepth)

	e, err := newEngine(reg, pts, cfg, fileLeafTree, "knnKDTree", extra, true)
	if err != nil {
		return nil, err
	}

	t := &LeafTree{Engine: e, Tree: tree, packed: tree.Packed()}
	size := len(t.packed) * int(unsafe.Sizeof(t.packed[0]))
	if err := e.uploadNodes(unsafe.Pointer(&t.packed[0]), size); err != nil {
		e.Close()
		return nil, err
	}
	return t, nil
}
