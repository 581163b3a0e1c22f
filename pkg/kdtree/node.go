// Package kdtree builds balanced k-d trees over static point clouds,
// encoded as flat arrays suitable for upload to a compute device.
//
// Two encodings are supported. The leaf tree keeps every point in a
// leaf and stores (axis, cut value) in internal nodes. The point tree
// stores one point per internal node, which halves the array size at
// the cost of empty slots in the last level.
//
// Trees are immutable once built; changing the cloud requires a full
// rebuild. Node arrays use implicit binary heap indexing: the children
// of slot p are slots 2p+1 and 2p+2.
package kdtree

import "errors"

var (
	ErrEmptyCloud = errors.New("kdtree: point cloud is empty")
	ErrTooLarge   = errors.New("kdtree: point count exceeds 32-bit limit")
	ErrDim        = errors.New("kdtree: dimension outside cloud rows")
)

// NodeKind tags the variants of a tree node.
type NodeKind uint8

const (
	// Empty marks an unused slot in the point tree's node array.
	Empty NodeKind = iota
	// Leaf references one original point by index.
	Leaf
	// Split is an internal node cutting its range on one axis.
	Split
)

// Node is a decoded tree node. Split nodes in a leaf tree carry
// (Axis, CutValue); Split nodes in a point tree carry (Axis, Index),
// the cut value being the indexed point's coordinate on Axis.
type Node struct {
	Kind     NodeKind
	Axis     int
	CutValue float32
	Index    uint32
}

// ChildLeft returns the array slot of the left child of pos.
func ChildLeft(pos int) int { return 2*pos + 1 }

// ChildRight returns the array slot of the right child of pos.
func ChildRight(pos int) int { return 2*pos + 2 }

// Packed records are what actually crosses the host/device boundary.
// The dim field doubles as a kind tag using the same sentinel scheme
// the kernels decode: values >= 0 are split axes, negative values mark
// leaves and empty slots. That scheme exists only here and in the
// kernel sources; host code works with Node.

const (
	leafDimBase = -2 // leaf tree: dim = leafDimBase - index
	pointLeaf   = -1 // point tree: leaf marker
	pointEmpty  = -2 // point tree: empty marker
)

// PackedLeafNode is the 8-byte device record of a leaf-tree node.
type PackedLeafNode struct {
	Dim    int32
	CutVal float32
}

// PackedPointNode is the 8-byte device record of a point-tree node.
type PackedPointNode struct {
	Dim   int32
	Index uint32
}

// EncodeLeafNode packs a leaf-tree node. n.Kind must be Leaf or Split.
func EncodeLeafNode(n Node) PackedLeafNode {
	if n.Kind == Leaf {
		return PackedLeafNode{Dim: leafDimBase - int32(n.Index)}
	}
	return PackedLeafNode{Dim: int32(n.Axis), CutVal: n.CutValue}
}

// DecodeLeafNode unpacks a leaf-tree device record.
func DecodeLeafNode(p PackedLeafNode) Node {
	if p.Dim < 0 {
		return Node{Kind: Leaf, Index: uint32(leafDimBase - p.Dim)}
	}
	return Node{Kind: Split, Axis: int(p.Dim), CutValue: p.CutVal}
}

// EncodePointNode packs a point-tree node.
func EncodePointNode(n Node) PackedPointNode {
	switch n.Kind {
	case Empty:
		return PackedPointNode{Dim: pointEmpty}
	case Leaf:
		return PackedPointNode{Dim: pointLeaf, Index: n.Index}
	default:
		return PackedPointNode{Dim: int32(n.Axis), Index: n.Index}
	}
}

// DecodePointNode unpacks a point-tree device record.
func DecodePointNode(p PackedPointNode) Node {
	switch {
	case p.Dim == pointEmpty:
		return Node{Kind: Empty}
	case p.Dim == pointLeaf:
		return Node{Kind: Leaf, Index: p.Index}
	default:
		return Node{Kind: Split, Axis: int(p.Dim), Index: p.Index}
	}
}
