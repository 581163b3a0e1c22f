package search

import (
	"github.com/orneryd/pointknn/pkg/cloud"
)

// BruteForce is the exhaustive-scan engine: every query point is
// compared against every cloud point on the device. No index is
// built, so construction is cheap and results are always exact.
type BruteForce struct {
	*Engine
}

// NewBruteForce creates a brute-force engine over the cloud.
func NewBruteForce(reg *Registry, pts *cloud.Matrix, cfg *Config) (*BruteForce, error) {
	e, err := newEngine(reg, pts, cfg, fileBruteForce, "knnBruteForce", "", false)
	if err != nil {
		return nil, err
	}
	return &BruteForce{Engine: e}, nil
}
