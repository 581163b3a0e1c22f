package search

import (
	"fmt"
	"unsafe"

	"github.com/orneryd/pointknn/pkg/cloud"
	"github.com/orneryd/pointknn/pkg/kdtree"
)

// PointTree is the engine backed by a balanced k-d tree storing one
// point per internal node, halving the node array relative to the
// leaf tree at the cost of empty slots in the last level.
type PointTree struct {
	*Engine
	Tree *kdtree.PointTree

	// packed aliases device memory and must outlive the engine.
	packed []kdtree.PackedPointNode
}

// NewPointTree builds the tree and creates the engine.
func NewPointTree(reg *Registry, pts *cloud.Matrix, cfg *Config) (*PointTree, error) {
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

	tree, err := kdtree.BuildPointTree(pts, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	maxStackDepth := tree.Depth() + 1
	extra := fmt.Sprintf("#define MAX_STACK_DEPTH %d\n", maxStackDepth)

	e, err := newEngine(reg, pts, cfg, filePointTree, "knnKDTree", extra, true)
	if err != nil {
		return nil, err
	}

	t := &PointTree{Engine: e, Tree: tree, packed: tree.Packed()}
	size := len(t.packed) * int(unsafe.Sizeof(t.packed[0]))
	if err := e.uploadNodes(unsafe.Pointer(&t.packed[0]), size); err != nil {
		e.Close()
		return nil, err
	}
	return t, nil
}
