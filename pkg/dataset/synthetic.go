package dataset

import (
	"fmt"
	"math/rand"
)

// SyntheticConfig describes a generated class-clustered dataset
type SyntheticConfig struct {
	Samples  int
	RGBDim   int
	DepthDim int
	Classes  int
	Noise    float64
	Seed     int64
}

// Synthetic generates samples scattered around one random centre per class.
// The same config always yields the same samples.
func Synthetic(cfg SyntheticConfig) (*Memory, error) {
	if cfg.Samples <= 0 || cfg.RGBDim <= 0 || cfg.DepthDim <= 0 {
		return nil, fmt.Errorf("synthetic dataset needs positive samples and dimensions, got %+v", cfg)
	}
	if cfg.Classes < 2 {
		return nil, fmt.Errorf("synthetic dataset needs at least 2 classes, got %d", cfg.Classes)
	}
	if cfg.Noise < 0 {
		return nil, fmt.Errorf("noise must be non-negative, got %v", cfg.Noise)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	centres := make([][]float32, cfg.Classes)
	for c := range centres {
		centres[c] = make([]float32, cfg.RGBDim+cfg.DepthDim)
		for j := range centres[c] {
			centres[c][j] = float32(rng.Float64()*2 - 1)
		}
	}

	samples := make([]Sample, cfg.Samples)
	for i := range samples {
		label := rng.Intn(cfg.Classes)
		features := make([]float32, cfg.RGBDim+cfg.DepthDim)
		for j := range features {
			features[j] = centres[label][j] + float32(rng.NormFloat64()*cfg.Noise)
		}
		samples[i] = Sample{
			RGB:   features[:cfg.RGBDim:cfg.RGBDim],
			Depth: features[cfg.RGBDim:],
			Label: label,
		}
	}

	return NewMemory(samples)
}
