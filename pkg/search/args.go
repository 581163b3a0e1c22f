package search

// Kernel argument binding is positional on the device side; this table
// is the single place positions are computed so host and kernel cannot
// drift apart silently. The first ten slots are identical across all
// variants; the tail depends on which optional buffers exist.
const (
	argCloud        = 0 // cloud buffer, bound once at construction
	argQuery        = 1
	argIndices      = 2
	argDists2       = 3
	argK            = 4
	argMaxError     = 5 // relaxation factor 1+epsilon
	argOptionFlags  = 6
	argIndexStride  = 7
	argDists2Stride = 8
	argPointCount   = 9

	argFixedCount = 10
)

// argLayout captures which optional tail arguments a kernel variant
// declares. The node buffer, when present, always precedes the
// visit-count buffer.
type argLayout struct {
	hasNodes bool
	hasVisit bool
}

// nodesPos returns the slot of the tree node buffer.
func (l argLayout) nodesPos() int {
	if !l.hasNodes {
		panic("search: variant has no node buffer")
	}
	return argFixedCount
}

// visitPos returns the slot of the visit-count buffer.
func (l argLayout) visitPos() int {
	if !l.hasVisit {
		panic("search: statistics collection not enabled")
	}
	if l.hasNodes {
		return argFixedCount + 1
	}
	return argFixedCount
}

// count returns the total number of kernel arguments the variant
// declares.
func (l argLayout) count() int {
	n := argFixedCount
	if l.hasNodes {
		n++
	}
	if l.hasVisit {
		n++
	}
	return n
}
