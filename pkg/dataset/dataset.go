package dataset

import (
	"fmt"
)

// Sample is one labeled RGB-D example as flat feature vectors
type Sample struct {
	RGB   []float32 `json:"rgb"`
	Depth []float32 `json:"depth"`
	Label int       `json:"label"`
}

// Dataset is an indexable collection of samples
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

// Memory is a Dataset held in memory
type Memory struct {
	samples []Sample
}

// NewMemory wraps samples after checking every sample has the same feature
// dimensions and a non-negative label
func NewMemory(samples []Sample) (*Memory, error) {
	for i, s := range samples {
		if s.Label < 0 {
			return nil, fmt.Errorf("sample %d: negative label %d", i, s.Label)
		}
		if len(s.RGB) == 0 || len(s.Depth) == 0 {
			return nil, fmt.Errorf("sample %d: empty modality", i)
		}
		if len(s.RGB) != len(samples[0].RGB) || len(s.Depth) != len(samples[0].Depth) {
			return nil, fmt.Errorf("sample %d: dimensions rgb=%d depth=%d differ from rgb=%d depth=%d",
				i, len(s.RGB), len(s.Depth), len(samples[0].RGB), len(samples[0].Depth))
		}
	}
	return &Memory{samples: samples}, nil
}

func (m *Memory) Len() int { return len(m.samples) }

func (m *Memory) Get(i int) (Sample, error) {
	if i < 0 || i >= len(m.samples) {
		return Sample{}, fmt.Errorf("index %d out of range [0, %d)", i, len(m.samples))
	}
	return m.samples[i], nil
}

// Classes returns one more than the largest label
func (m *Memory) Classes() int {
	max := -1
	for _, s := range m.samples {
		if s.Label > max {
			max = s.Label
		}
	}
	return max + 1
}

// Dims returns the RGB and depth feature dimensions, zero when empty
func Dims(ds Dataset) (rgb, depth int, err error) {
	if ds.Len() == 0 {
		return 0, 0, nil
	}
	s, err := ds.Get(0)
	if err != nil {
		return 0, 0, err
	}
	return len(s.RGB), len(s.Depth), nil
}

// Subset is a contiguous view [start, end) of a parent dataset
type Subset struct {
	parent     Dataset
	start, end int
}

func (s *Subset) Len() int { return s.end - s.start }

func (s *Subset) Get(i int) (Sample, error) {
	if i < 0 || i >= s.Len() {
		return Sample{}, fmt.Errorf("index %d out of range [0, %d)", i, s.Len())
	}
	return s.parent.Get(s.start + i)
}

// Split partitions ds into contiguous train, validation and test subsets.
// Fractions are of the whole dataset; rounding favours the training split.
func Split(ds Dataset, valFraction, testFraction float64) (train, val, test Dataset, err error) {
	if valFraction < 0 || testFraction < 0 || valFraction+testFraction >= 1 {
		return nil, nil, nil, fmt.Errorf("invalid split fractions val=%v test=%v", valFraction, testFraction)
	}

	n := ds.Len()
	nVal := int(float64(n) * valFraction)
	nTest := int(float64(n) * testFraction)
	nTrain := n - nVal - nTest

	train = &Subset{parent: ds, start: 0, end: nTrain}
	val = &Subset{parent: ds, start: nTrain, end: nTrain + nVal}
	test = &Subset{parent: ds, start: nTrain + nVal, end: n}
	return train, val, test, nil
}
