package search

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// MaxK is the hard cap on the neighbor count a single query may
// request. The device kernels size their per-work-item result heaps
// with it at compile time.
const MaxK = 32

// EnvKernelDir overrides the default kernel source directory.
const EnvKernelDir = "POINTKNN_KERNEL_DIR"

// Kernel source artifacts. structure.cl and heap.cl are shared by all
// variants; each variant adds its own kernel body.
const (
	fileStructure = "structure.cl"
	fileHeap      = "heap.cl"

	fileBruteForce = "knn_bf.cl"
	fileLeafTree   = "knn_kdtree_pt_in_leaves.cl"
	filePointTree  = "knn_kdtree_pt_in_nodes.cl"
)

// kernelDir resolves the directory kernel sources are loaded from:
// the explicit configuration, then the environment, then ./kernels.
func kernelDir(configured string) string {
	if configured != "" {
		return configured
	}
	if dir := os.Getenv(EnvKernelDir); dir != "" {
		return dir
	}
	return "kernels"
}

// float32Eps is the machine epsilon of the device scalar type,
// embedded in the preamble for self-match filtering.
var float32Eps = math.Nextafter32(1, 2) - 1

// definesPreamble generates the compile-time parameterization of a
// kernel. The full preamble participates in the program cache key, so
// any difference here compiles a distinct program.
func definesPreamble(dim, stride int, collectStatistics bool, extra string) string {
	var b strings.Builder
	b.WriteString("typedef float T;\n")
	fmt.Fprintf(&b, "#define EPSILON %g\n", float32Eps)
	fmt.Fprintf(&b, "#define DIM_COUNT %d\n", dim)
	fmt.Fprintf(&b, "#define POINT_STRIDE %d\n", stride)
	fmt.Fprintf(&b, "#define MAX_K %d\n", MaxK)
	if collectStatistics {
		b.WriteString("#define TOUCH_STATISTICS\n")
	}
	b.WriteString(extra)
	return b.String()
}

// assembleSource concatenates the preamble with the shared and
// variant-specific kernel files. A missing file is fatal.
func assembleSource(dir, preamble, kernelFile string) (string, error) {
	var b strings.Builder
	b.WriteString(preamble)
	for _, name := range []string{fileStructure, fileHeap, kernelFile} {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return "", &SourceError{Path: path, Err: err}
		}
		b.Write(content)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
