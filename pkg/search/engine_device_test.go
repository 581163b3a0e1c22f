package search

// Tests in this file need a working OpenCL installation and are
// skipped when none is present. They validate device results against a
// host-side linear scan.

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/viterin/vek/vek32"

	"github.com/orneryd/pointknn/pkg/cloud"
	"github.com/orneryd/pointknn/pkg/compute"
	"github.com/orneryd/pointknn/pkg/opencl"
)

func deviceRegistry(t *testing.T) *Registry {
	t.Helper()
	if !opencl.Available() {
		t.Skip("OpenCL library not available")
	}
	rt, err := opencl.NewRuntime()
	if err != nil {
		t.Skipf("OpenCL runtime: %v", err)
	}
	reg := NewRegistry(rt)
	if _, err := reg.AcquireContext(compute.DeviceAll); err != nil {
		t.Skipf("no usable OpenCL device: %v", err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func deviceConfig(flags CreationFlags) *Config {
	return &Config{DeviceType: compute.DeviceAll, SourceDir: "kernels", Flags: flags}
}

func randCloud(rng *rand.Rand, dim, n int) *cloud.Matrix {
	m := cloud.NewMatrix(dim, n)
	for c := 0; c < n; c++ {
		for r := 0; r < dim; r++ {
			m.Set(r, c, rng.Float32()*10-5)
		}
	}
	return m
}

func dist2(a, b []float32) float32 {
	diff := vek32.Sub(a, b)
	return vek32.Dot(diff, diff)
}

// refKNN is the exact host answer: a full scan sorted by squared
// distance, index breaking ties.
func refKNN(pts, query *cloud.Matrix, col, k int) ([]int32, []float32) {
	type cand struct {
		idx int32
		d2  float32
	}
	cands := make([]cand, pts.Cols())
	q := query.Col(col)
	for i := 0; i < pts.Cols(); i++ {
		cands[i] = cand{idx: int32(i), d2: dist2(q, pts.Col(i))}
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].d2 != cands[b].d2 {
			return cands[a].d2 < cands[b].d2
		}
		return cands[a].idx < cands[b].idx
	})
	idx := make([]int32, k)
	d2 := make([]float32, k)
	for i := 0; i < k; i++ {
		idx[i] = cands[i].idx
		d2[i] = cands[i].d2
	}
	return idx, d2
}

func TestDeviceBruteForceMatchesReference(t *testing.T) {
	reg := deviceRegistry(t)
	rng := rand.New(rand.NewSource(21))
	pts := randCloud(rng, 3, 500)
	query := randCloud(rng, 3, 32)
	const k = 8

	bf, err := NewBruteForce(reg, pts, deviceConfig(0))
	if err != nil {
		t.Fatalf("NewBruteForce: %v", err)
	}
	defer bf.Close()

	idx := cloud.NewIndexMatrix(k, query.Cols())
	d2 := cloud.NewMatrix(k, query.Cols())
	if _, err := bf.KNN(query, idx, d2, k, 0, AllowSelfMatch|SortResults); err != nil {
		t.Fatalf("KNN: %v", err)
	}

	for c := 0; c < query.Cols(); c++ {
		wantIdx, wantD2 := refKNN(pts, query, c, k)
		for i := 0; i < k; i++ {
			if idx.At(i, c) != wantIdx[i] {
				t.Errorf("query %d rank %d: got index %d want %d", c, i, idx.At(i, c), wantIdx[i])
			}
			if diff := d2.At(i, c) - wantD2[i]; diff > 1e-4 || diff < -1e-4 {
				t.Errorf("query %d rank %d: got dist2 %g want %g", c, i, d2.At(i, c), wantD2[i])
			}
		}
	}
}

func TestDeviceTreesMatchReference(t *testing.T) {
	reg := deviceRegistry(t)
	rng := rand.New(rand.NewSource(22))
	pts := randCloud(rng, 3, 500)
	query := randCloud(rng, 3, 32)
	const k = 8

	lt, err := NewLeafTree(reg, pts, deviceConfig(0))
	if err != nil {
		t.Fatalf("NewLeafTree: %v", err)
	}
	defer lt.Close()
	pt, err := NewPointTree(reg, pts, deviceConfig(0))
	if err != nil {
		t.Fatalf("NewPointTree: %v", err)
	}
	defer pt.Close()

	engines := map[string]interface {
		KNN(*cloud.Matrix, *cloud.IndexMatrix, *cloud.Matrix, int, float32, SearchFlags) (uint64, error)
	}{
		"leaf tree":  lt,
		"point tree": pt,
	}
	for name, e := range engines {
		idx := cloud.NewIndexMatrix(k, query.Cols())
		d2 := cloud.NewMatrix(k, query.Cols())
		if _, err := e.KNN(query, idx, d2, k, 0, AllowSelfMatch|SortResults); err != nil {
			t.Fatalf("%s KNN: %v", name, err)
		}
		for c := 0; c < query.Cols(); c++ {
			_, wantD2 := refKNN(pts, query, c, k)
			for i := 0; i < k; i++ {
				if diff := d2.At(i, c) - wantD2[i]; diff > 1e-4 || diff < -1e-4 {
					t.Errorf("%s query %d rank %d: got dist2 %g want %g",
						name, c, i, d2.At(i, c), wantD2[i])
				}
			}
		}
	}
}

func TestDeviceApproximateBound(t *testing.T) {
	reg := deviceRegistry(t)
	rng := rand.New(rand.NewSource(23))
	pts := randCloud(rng, 3, 500)
	query := randCloud(rng, 3, 16)
	const k = 4
	const epsilon = 0.5

	lt, err := NewLeafTree(reg, pts, deviceConfig(0))
	if err != nil {
		t.Fatalf("NewLeafTree: %v", err)
	}
	defer lt.Close()

	idx := cloud.NewIndexMatrix(k, query.Cols())
	d2 := cloud.NewMatrix(k, query.Cols())
	if _, err := lt.KNN(query, idx, d2, k, epsilon, AllowSelfMatch|SortResults); err != nil {
		t.Fatalf("KNN: %v", err)
	}

	// a pruned branch can only hide points beyond worst/(1+epsilon), so
	// every returned squared distance stays within that factor of the
	// exact answer
	for c := 0; c < query.Cols(); c++ {
		_, wantD2 := refKNN(pts, query, c, k)
		bound := wantD2[k-1] * (1 + epsilon)
		for i := 0; i < k; i++ {
			got := d2.At(i, c)
			if got < wantD2[0]-1e-4 || got > bound+1e-4 {
				t.Errorf("query %d rank %d: dist2 %g outside [%g, %g]",
					c, i, got, wantD2[0], bound)
			}
		}
	}
}

func TestDeviceSortedResults(t *testing.T) {
	reg := deviceRegistry(t)
	rng := rand.New(rand.NewSource(24))
	pts := randCloud(rng, 2, 300)
	query := randCloud(rng, 2, 10)
	const k = 6

	bf, err := NewBruteForce(reg, pts, deviceConfig(0))
	if err != nil {
		t.Fatalf("NewBruteForce: %v", err)
	}
	defer bf.Close()

	idx := cloud.NewIndexMatrix(k, query.Cols())
	d2 := cloud.NewMatrix(k, query.Cols())
	if _, err := bf.KNN(query, idx, d2, k, 0, SortResults); err != nil {
		t.Fatalf("KNN: %v", err)
	}
	for c := 0; c < query.Cols(); c++ {
		for i := 1; i < k; i++ {
			if d2.At(i, c) < d2.At(i-1, c) {
				t.Errorf("query %d: dist2 not ascending at rank %d", c, i)
			}
		}
	}
}

func TestDeviceSelfMatchFilter(t *testing.T) {
	reg := deviceRegistry(t)
	rng := rand.New(rand.NewSource(25))
	pts := randCloud(rng, 3, 100)
	const k = 1

	bf, err := NewBruteForce(reg, pts, deviceConfig(0))
	if err != nil {
		t.Fatalf("NewBruteForce: %v", err)
	}
	defer bf.Close()

	// querying the cloud with itself
	idx := cloud.NewIndexMatrix(k, pts.Cols())
	d2 := cloud.NewMatrix(k, pts.Cols())

	if _, err := bf.KNN(pts, idx, d2, k, 0, AllowSelfMatch); err != nil {
		t.Fatalf("KNN: %v", err)
	}
	for c := 0; c < pts.Cols(); c++ {
		if idx.At(0, c) != int32(c) {
			t.Errorf("query %d: self match allowed but nearest is %d", c, idx.At(0, c))
		}
	}

	if _, err := bf.KNN(pts, idx, d2, k, 0, 0); err != nil {
		t.Fatalf("KNN: %v", err)
	}
	for c := 0; c < pts.Cols(); c++ {
		if idx.At(0, c) == int32(c) {
			t.Errorf("query %d: self match returned despite filter", c)
		}
	}
}

func TestDeviceVisitStatistics(t *testing.T) {
	reg := deviceRegistry(t)
	rng := rand.New(rand.NewSource(26))
	pts := randCloud(rng, 3, 200)
	query := randCloud(rng, 3, 8)

	bf, err := NewBruteForce(reg, pts, deviceConfig(TouchStatistics))
	if err != nil {
		t.Fatalf("NewBruteForce: %v", err)
	}
	defer bf.Close()

	idx := cloud.NewIndexMatrix(4, query.Cols())
	d2 := cloud.NewMatrix(4, query.Cols())
	visits, err := bf.KNN(query, idx, d2, 4, 0, AllowSelfMatch)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	// brute force touches every point for every query
	want := uint64(pts.Cols()) * uint64(query.Cols())
	if visits != want {
		t.Errorf("visit count %d, want %d", visits, want)
	}

	lt, err := NewLeafTree(reg, pts, deviceConfig(TouchStatistics))
	if err != nil {
		t.Fatalf("NewLeafTree: %v", err)
	}
	defer lt.Close()
	visits, err = lt.KNN(query, idx, d2, 4, 0, AllowSelfMatch)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if visits == 0 {
		t.Error("tree search reported zero visits with statistics enabled")
	}
	if visits >= want {
		t.Errorf("tree search visited %d points, no better than scanning %d", visits, want)
	}
}
