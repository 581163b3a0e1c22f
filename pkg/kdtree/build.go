package kdtree

import (
	"math"
	"math/bits"

	"github.com/orneryd/pointknn/pkg/cloud"
)

// maxElements is the element-count ceiling shared by both sizing
// formulas. They index bits of a 32-bit word, so larger clouds would
// silently produce undersized trees; reject them instead.
const maxElements = math.MaxUint32

// buildPoints is the ephemeral permutation of original point indices
// partitioned during construction and discarded afterwards.
type buildPoints []uint32

// selectNth partially sorts pts so that pts[nth] holds the value of
// rank nth under coord: every element before it compares <= and every
// element at or after compares >=. Hoare quickselect with
// median-of-three pivoting.
func selectNth(pts buildPoints, nth int, coord func(uint32) float32) {
	lo, hi := 0, len(pts)-1
	for lo < hi {
		// median of three
		mid := lo + (hi-lo)/2
		if coord(pts[mid]) < coord(pts[lo]) {
			pts[mid], pts[lo] = pts[lo], pts[mid]
		}
		if coord(pts[hi]) < coord(pts[lo]) {
			pts[hi], pts[lo] = pts[lo], pts[hi]
		}
		if coord(pts[hi]) < coord(pts[mid]) {
			pts[hi], pts[mid] = pts[mid], pts[hi]
		}
		pivot := coord(pts[mid])

		i, j := lo, hi
		for i <= j {
			for coord(pts[i]) < pivot {
				i++
			}
			for coord(pts[j]) > pivot {
				j--
			}
			if i <= j {
				pts[i], pts[j] = pts[j], pts[i]
				i++
				j--
			}
		}
		if nth <= j {
			hi = j
		} else if nth >= i {
			lo = i
		} else {
			return
		}
	}
}

// widestAxis returns the dimension with the largest extent, lowest
// index winning ties.
func widestAxis(min, max []float32) int {
	axis := 0
	var best float32
	for d := range min {
		if ext := max[d] - min[d]; ext > best {
			best = ext
			axis = d
		}
	}
	return axis
}

// LeafTreeSize returns the node-array length of a leaf tree over n
// points: with i the highest set bit of n-1, ((2^(i+1)-1) << 1) | 1.
func LeafTreeSize(n int) int {
	top := bits.Len32(uint32(n - 1))
	return ((1<<top)-1)<<1 | 1
}

// LeafTreeDepth returns the depth of a leaf tree over n points.
func LeafTreeDepth(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len32(uint32(n - 1))
}

// PointTreeSize returns the node-array length of a point tree over n
// points: with i the highest set bit of n, 2^(i+1) - 1.
func PointTreeSize(n int) int {
	return (1 << bits.Len32(uint32(n))) - 1
}

// PointTreeDepth returns the depth of a point tree over n points.
func PointTreeDepth(n int) int {
	return bits.Len32(uint32(n))
}

// LeafTree is a balanced k-d tree with every point in a leaf and
// (axis, cut value) in internal nodes.
type LeafTree struct {
	Nodes    []Node
	Min, Max []float32
}

// BuildLeafTree partitions the first dim rows of the cloud into a leaf
// tree. The cloud is only read; the tree references points by column
// index.
func BuildLeafTree(m *cloud.Matrix, dim int) (*LeafTree, error) {
	n := m.Cols()
	if n == 0 {
		return nil, ErrEmptyCloud
	}
	if uint64(n) > maxElements {
		return nil, ErrTooLarge
	}
	if dim < 1 || dim > m.Rows() {
		return nil, ErrDim
	}

	pts := make(buildPoints, n)
	for i := range pts {
		pts[i] = uint32(i)
	}
	min, max := m.Bounds(dim)

	t := &LeafTree{
		Nodes: make([]Node, LeafTreeSize(n)),
		Min:   min,
		Max:   max,
	}
	boundsMin := append([]float32(nil), min...)
	boundsMax := append([]float32(nil), max...)
	t.build(m, pts, 0, boundsMin, boundsMax)
	return t, nil
}

func (t *LeafTree) build(m *cloud.Matrix, pts buildPoints, pos int, min, max []float32) {
	if len(pts) == 1 {
		t.Nodes[pos] = Node{Kind: Leaf, Index: pts[0]}
		return
	}

	cutDim := widestAxis(min, max)
	right := len(pts) / 2
	left := len(pts) - right

	selectNth(pts, left, func(i uint32) float32 { return m.At(cutDim, int(i)) })
	cutVal := m.At(cutDim, int(pts[left]))
	t.Nodes[pos] = Node{Kind: Split, Axis: cutDim, CutValue: cutVal}

	prevMax, prevMin := max[cutDim], min[cutDim]
	max[cutDim] = cutVal
	t.build(m, pts[:left], ChildLeft(pos), min, max)
	max[cutDim] = prevMax
	min[cutDim] = cutVal
	t.build(m, pts[left:], ChildRight(pos), min, max)
	min[cutDim] = prevMin
}

// Depth returns the tree depth implied by the node-array length.
func (t *LeafTree) Depth() int { return LeafTreeDepth(len(t.Nodes)) }

// Packed encodes the node array into device records.
func (t *LeafTree) Packed() []PackedLeafNode {
	out := make([]PackedLeafNode, len(t.Nodes))
	for i, n := range t.Nodes {
		out[i] = EncodeLeafNode(n)
	}
	return out
}

// PointTree is a balanced k-d tree storing one point per internal
// node. Slots the build never reaches are Empty.
type PointTree struct {
	Nodes    []Node
	Min, Max []float32
}

// BuildPointTree partitions the first dim rows of the cloud into a
// point tree.
func BuildPointTree(m *cloud.Matrix, dim int) (*PointTree, error) {
	n := m.Cols()
	if n == 0 {
		return nil, ErrEmptyCloud
	}
	if uint64(n) > maxElements {
		return nil, ErrTooLarge
	}
	if dim < 1 || dim > m.Rows() {
		return nil, ErrDim
	}

	pts := make(buildPoints, n)
	for i := range pts {
		pts[i] = uint32(i)
	}
	min, max := m.Bounds(dim)

	t := &PointTree{
		Nodes: make([]Node, PointTreeSize(n)),
		Min:   min,
		Max:   max,
	}
	boundsMin := append([]float32(nil), min...)
	boundsMax := append([]float32(nil), max...)
	t.build(m, pts, 0, boundsMin, boundsMax)
	return t, nil
}

func (t *PointTree) build(m *cloud.Matrix, pts buildPoints, pos int, min, max []float32) {
	if len(pts) == 1 {
		t.Nodes[pos] = Node{Kind: Leaf, Index: pts[0]}
		return
	}

	cutDim := widestAxis(min, max)

	// The median point becomes this node's payload; only the rest
	// recurses.
	recurse := len(pts) - 1
	right := recurse / 2
	left := recurse - right

	selectNth(pts, left, func(i uint32) float32 { return m.At(cutDim, int(i)) })
	index := pts[left]
	cutVal := m.At(cutDim, int(index))
	t.Nodes[pos] = Node{Kind: Split, Axis: cutDim, Index: index}

	if len(pts) == 2 {
		t.Nodes[ChildLeft(pos)] = Node{Kind: Leaf, Index: pts[0]}
		t.Nodes[ChildRight(pos)] = Node{Kind: Empty}
		return
	}

	prevMax, prevMin := max[cutDim], min[cutDim]
	max[cutDim] = cutVal
	t.build(m, pts[:left], ChildLeft(pos), min, max)
	max[cutDim] = prevMax
	min[cutDim] = cutVal
	t.build(m, pts[left+1:], ChildRight(pos), min, max)
	min[cutDim] = prevMin
}

// Depth returns the tree depth implied by the node-array length.
func (t *PointTree) Depth() int { return PointTreeDepth(len(t.Nodes)) }

// Packed encodes the node array into device records.
func (t *PointTree) Packed() []PackedPointNode {
	out := make([]PackedPointNode, len(t.Nodes))
	for i, n := range t.Nodes {
		out[i] = EncodePointNode(n)
	}
	return out
}
