// Package config handles pointknn configuration via YAML files and
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags (--device, --kernel-dir, etc.)
//  2. Environment variables (POINTKNN_*)
//  3. Config file (pointknn.yaml)
//  4. Built-in defaults
//
// Environment variables:
//   - POINTKNN_DEVICE="gpu", "cpu", "accelerator" or "all"
//   - POINTKNN_KERNEL_DIR="./kernels"
//   - POINTKNN_OPENCL_PLATFORM=0
//   - POINTKNN_STATISTICS=true
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/pointknn/pkg/compute"
)

// Config holds the runtime configuration of the pointknn CLI.
type Config struct {
	// Device is the requested device class: gpu, cpu, accelerator, all.
	Device string
	// KernelDir is the OpenCL kernel source directory.
	KernelDir string
	// Platform is the OpenCL platform index, -1 for the default.
	Platform int
	// Statistics enables per-query traversal counters.
	Statistics bool

	// Bench settings.
	Bench BenchConfig
}

// BenchConfig parameterizes the bench command.
type BenchConfig struct {
	// Points is the cloud size.
	Points int
	// Queries is the batch size.
	Queries int
	// Dim is the point dimensionality.
	Dim int
	// K is the neighbor count per query.
	K int
	// Epsilon is the approximation slack, 0 for exact search.
	Epsilon float64
	// Seed for the random cloud.
	Seed int64
	// Verify re-checks device results against a host linear scan.
	Verify bool
}

// LoadDefaults returns the built-in defaults.
func LoadDefaults() *Config {
	return &Config{
		Device:    "gpu",
		KernelDir: "",
		Platform:  -1,
		Bench: BenchConfig{
			Points:  100000,
			Queries: 1000,
			Dim:     3,
			K:       8,
			Seed:    1,
		},
	}
}

// yamlConfig mirrors the YAML file layout. Zero values mean "keep the
// default".
type yamlConfig struct {
	Device     string `yaml:"device"`
	KernelDir  string `yaml:"kernel_dir"`
	Platform   *int   `yaml:"platform"`
	Statistics bool   `yaml:"statistics"`

	Bench struct {
		Points  int     `yaml:"points"`
		Queries int     `yaml:"queries"`
		Dim     int     `yaml:"dim"`
		K       int     `yaml:"k"`
		Epsilon float64 `yaml:"epsilon"`
		Seed    int64   `yaml:"seed"`
		Verify  bool    `yaml:"verify"`
	} `yaml:"bench"`
}

// LoadFromFile loads defaults, overlays the YAML file when it exists,
// then overlays POINTKNN_* environment variables.
func LoadFromFile(path string) (*Config, error) {
	config := LoadDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			config.applyEnv()
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.Device != "" {
		config.Device = yamlCfg.Device
	}
	if yamlCfg.KernelDir != "" {
		config.KernelDir = yamlCfg.KernelDir
	}
	if yamlCfg.Platform != nil {
		config.Platform = *yamlCfg.Platform
	}
	if yamlCfg.Statistics {
		config.Statistics = true
	}
	if yamlCfg.Bench.Points > 0 {
		config.Bench.Points = yamlCfg.Bench.Points
	}
	if yamlCfg.Bench.Queries > 0 {
		config.Bench.Queries = yamlCfg.Bench.Queries
	}
	if yamlCfg.Bench.Dim > 0 {
		config.Bench.Dim = yamlCfg.Bench.Dim
	}
	if yamlCfg.Bench.K > 0 {
		config.Bench.K = yamlCfg.Bench.K
	}
	if yamlCfg.Bench.Epsilon > 0 {
		config.Bench.Epsilon = yamlCfg.Bench.Epsilon
	}
	if yamlCfg.Bench.Seed != 0 {
		config.Bench.Seed = yamlCfg.Bench.Seed
	}
	if yamlCfg.Bench.Verify {
		config.Bench.Verify = true
	}

	config.applyEnv()
	return config, nil
}

// FindConfigFile returns the first existing candidate config path, or
// the default name when none exists.
func FindConfigFile() string {
	candidates := []string{"pointknn.yaml", "pointknn.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home+"/.pointknn.yaml")
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "pointknn.yaml"
}

func (c *Config) applyEnv() {
	c.Device = getEnv("POINTKNN_DEVICE", c.Device)
	c.KernelDir = getEnv("POINTKNN_KERNEL_DIR", c.KernelDir)
	c.Platform = getEnvInt("POINTKNN_OPENCL_PLATFORM", c.Platform)
	c.Statistics = getEnvBool("POINTKNN_STATISTICS", c.Statistics)
}

// DeviceType maps the textual device class to the compute bitfield.
func (c *Config) DeviceType() (compute.DeviceType, error) {
	switch strings.ToLower(c.Device) {
	case "default":
		return compute.DeviceDefault, nil
	case "cpu":
		return compute.DeviceCPU, nil
	case "gpu", "":
		return compute.DeviceGPU, nil
	case "accelerator":
		return compute.DeviceAccelerator, nil
	case "all", "any":
		return compute.DeviceAll, nil
	}
	return 0, fmt.Errorf("config: unknown device class %q", c.Device)
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if _, err := c.DeviceType(); err != nil {
		return err
	}
	if c.Bench.Points < 1 {
		return fmt.Errorf("config: bench points must be positive, got %d", c.Bench.Points)
	}
	if c.Bench.Queries < 1 {
		return fmt.Errorf("config: bench queries must be positive, got %d", c.Bench.Queries)
	}
	if c.Bench.Dim < 1 {
		return fmt.Errorf("config: bench dim must be positive, got %d", c.Bench.Dim)
	}
	if c.Bench.K < 1 {
		return fmt.Errorf("config: bench k must be positive, got %d", c.Bench.K)
	}
	if c.Bench.Epsilon < 0 {
		return fmt.Errorf("config: bench epsilon must be non-negative, got %g", c.Bench.Epsilon)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
