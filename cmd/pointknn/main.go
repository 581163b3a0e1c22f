// Package main provides the pointknn CLI entry point.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/viterin/vek/vek32"

	"github.com/orneryd/pointknn/pkg/cloud"
	"github.com/orneryd/pointknn/pkg/compute"
	"github.com/orneryd/pointknn/pkg/config"
	"github.com/orneryd/pointknn/pkg/opencl"
	"github.com/orneryd/pointknn/pkg/search"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pointknn",
		Short: "pointknn - OpenCL-accelerated k-nearest-neighbor search",
		Long: `pointknn batches k-NN queries over static point clouds and runs
them on an OpenCL device: an exhaustive brute-force kernel and two
balanced k-d tree kernels traversed entirely on the device.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pointknn %s (%s)\n", version, commit)
		},
	})

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List OpenCL platforms and devices",
		RunE:  runDevices,
	}
	rootCmd.AddCommand(devicesCmd)

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the search engines on a random cloud",
		RunE:  runBench,
	}
	defaults := config.LoadDefaults()
	benchCmd.Flags().String("device", defaults.Device, "Device class: gpu, cpu, accelerator, all")
	benchCmd.Flags().String("kernel-dir", defaults.KernelDir, "OpenCL kernel source directory")
	benchCmd.Flags().Int("points", defaults.Bench.Points, "Cloud size")
	benchCmd.Flags().Int("queries", defaults.Bench.Queries, "Query batch size")
	benchCmd.Flags().Int("dim", defaults.Bench.Dim, "Point dimensionality")
	benchCmd.Flags().Int("k", defaults.Bench.K, "Neighbors per query")
	benchCmd.Flags().Float64("epsilon", defaults.Bench.Epsilon, "Approximation slack (0 = exact)")
	benchCmd.Flags().Int64("seed", defaults.Bench.Seed, "Random seed")
	benchCmd.Flags().Bool("stats", false, "Collect per-query traversal counters")
	benchCmd.Flags().Bool("verify", false, "Verify device results against a host linear scan")
	benchCmd.Flags().String("config", "", "Config file (default: pointknn.yaml)")
	rootCmd.AddCommand(benchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDevices(cmd *cobra.Command, args []string) error {
	if !opencl.Available() {
		return fmt.Errorf("no OpenCL library found on this system")
	}
	rt, err := opencl.NewRuntime()
	if err != nil {
		return err
	}
	platforms, err := rt.Platforms()
	if err != nil {
		return err
	}
	if len(platforms) == 0 {
		fmt.Println("no OpenCL platforms installed")
		return nil
	}
	for i, p := range platforms {
		fmt.Printf("platform %d: %s\n", i, p.Name())
		ctx, err := p.CreateContext(compute.DeviceAll)
		if err != nil {
			fmt.Printf("  (no devices: %v)\n", err)
			continue
		}
		for j, d := range ctx.Devices() {
			fmt.Printf("  device %d: %s\n", j, d.Name())
		}
		ctx.Release()
	}
	return nil
}

// benchConfig merges file, environment and flag settings for the bench
// command, flags winning.
func benchConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("device") {
		cfg.Device, _ = cmd.Flags().GetString("device")
	}
	if cmd.Flags().Changed("kernel-dir") {
		cfg.KernelDir, _ = cmd.Flags().GetString("kernel-dir")
	}
	if cmd.Flags().Changed("points") {
		cfg.Bench.Points, _ = cmd.Flags().GetInt("points")
	}
	if cmd.Flags().Changed("queries") {
		cfg.Bench.Queries, _ = cmd.Flags().GetInt("queries")
	}
	if cmd.Flags().Changed("dim") {
		cfg.Bench.Dim, _ = cmd.Flags().GetInt("dim")
	}
	if cmd.Flags().Changed("k") {
		cfg.Bench.K, _ = cmd.Flags().GetInt("k")
	}
	if cmd.Flags().Changed("epsilon") {
		cfg.Bench.Epsilon, _ = cmd.Flags().GetFloat64("epsilon")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Bench.Seed, _ = cmd.Flags().GetInt64("seed")
	}
	if cmd.Flags().Changed("stats") {
		cfg.Statistics, _ = cmd.Flags().GetBool("stats")
	}
	if cmd.Flags().Changed("verify") {
		cfg.Bench.Verify, _ = cmd.Flags().GetBool("verify")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type engineFactory struct {
	name string
	make func(*search.Registry, *cloud.Matrix, *search.Config) (knnEngine, error)
}

type knnEngine interface {
	KNN(*cloud.Matrix, *cloud.IndexMatrix, *cloud.Matrix, int, float32, search.SearchFlags) (uint64, error)
	Close()
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := benchConfig(cmd)
	if err != nil {
		return err
	}
	deviceType, err := cfg.DeviceType()
	if err != nil {
		return err
	}

	if cfg.Platform >= 0 {
		os.Setenv(search.EnvPlatformOverride, strconv.Itoa(cfg.Platform))
	}

	rt, err := opencl.NewRuntime()
	if err != nil {
		return fmt.Errorf("OpenCL runtime: %w", err)
	}
	reg := search.NewRegistry(rt)
	defer reg.Close()

	b := cfg.Bench
	log.Printf("bench: %d points, %d queries, dim %d, k %d, epsilon %g, device %s",
		b.Points, b.Queries, b.Dim, b.K, b.Epsilon, deviceType)

	rng := rand.New(rand.NewSource(b.Seed))
	pts := randomCloud(rng, b.Dim, b.Points)
	queries := randomCloud(rng, b.Dim, b.Queries)

	searchCfg := &search.Config{
		DeviceType: deviceType,
		SourceDir:  cfg.KernelDir,
	}
	if cfg.Statistics {
		searchCfg.Flags |= search.TouchStatistics
	}

	factories := []engineFactory{
		{"brute force", func(r *search.Registry, m *cloud.Matrix, c *search.Config) (knnEngine, error) {
			return search.NewBruteForce(r, m, c)
		}},
		{"leaf tree", func(r *search.Registry, m *cloud.Matrix, c *search.Config) (knnEngine, error) {
			return search.NewLeafTree(r, m, c)
		}},
		{"point tree", func(r *search.Registry, m *cloud.Matrix, c *search.Config) (knnEngine, error) {
			return search.NewPointTree(r, m, c)
		}},
	}

	for _, f := range factories {
		buildStart := time.Now()
		engine, err := f.make(reg, pts, searchCfg)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		buildTime := time.Since(buildStart)

		indices := cloud.NewIndexMatrix(b.K, b.Queries)
		dists2 := cloud.NewMatrix(b.K, b.Queries)

		searchStart := time.Now()
		visits, err := engine.KNN(queries, indices, dists2, b.K, float32(b.Epsilon),
			search.AllowSelfMatch|search.SortResults)
		if err != nil {
			engine.Close()
			return fmt.Errorf("%s: %w", f.name, err)
		}
		searchTime := time.Since(searchStart)

		perQuery := searchTime / time.Duration(b.Queries)
		fmt.Printf("%-12s build %10v  search %10v  (%v/query)", f.name, buildTime, searchTime, perQuery)
		if cfg.Statistics {
			fmt.Printf("  %d visits", visits)
		}
		fmt.Println()

		if b.Verify {
			if bad := verify(pts, queries, dists2, b.K, b.Epsilon); bad > 0 {
				engine.Close()
				return fmt.Errorf("%s: %d of %d queries outside the error bound", f.name, bad, b.Queries)
			}
			fmt.Printf("%-12s verified against host scan\n", f.name)
		}
		engine.Close()
	}
	return nil
}

func randomCloud(rng *rand.Rand, dim, n int) *cloud.Matrix {
	m := cloud.NewMatrix(dim, n)
	data := m.Data()
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return m
}

// verify recomputes every query's exact k-th squared distance on the
// host and counts queries whose device results exceed the (1+epsilon)
// bound. Returns the number of failing queries.
func verify(pts, queries, dists2 *cloud.Matrix, k int, epsilon float64) int {
	bad := 0
	scratch := make([]float32, pts.Cols())
	bound := float32(1 + epsilon)
	for c := 0; c < queries.Cols(); c++ {
		q := queries.Col(c)
		for i := 0; i < pts.Cols(); i++ {
			diff := vek32.Sub(q, pts.Col(i))
			scratch[i] = vek32.Dot(diff, diff)
		}
		sort.Slice(scratch, func(a, b int) bool { return scratch[a] < scratch[b] })
		kth := scratch[k-1]
		for i := 0; i < k; i++ {
			if dists2.At(i, c) > kth*bound+1e-4 {
				bad++
				break
			}
		}
	}
	return bad
}
