package dataset

import (
	"context"
	"fmt"
	"io"

	"rgbdtrain/pkg/training"
)

// Loader batches a Dataset in index order. It implements training.DataSource.
// The final batch of a pass may be smaller than the batch size.
type Loader struct {
	ds        Dataset
	batchSize int
	pos       int
}

// NewLoader creates a loader positioned at the start of ds
func NewLoader(ds Dataset, batchSize int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Loader{ds: ds, batchSize: batchSize}, nil
}

// Reset starts a new pass
func (l *Loader) Reset() error {
	l.pos = 0
	return nil
}

// Batches returns the number of batches in one pass
func (l *Loader) Batches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Next returns the next batch or io.EOF at the end of the pass
func (l *Loader) Next(ctx context.Context) (*training.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.pos >= l.ds.Len() {
		return nil, io.EOF
	}

	end := l.pos + l.batchSize
	if end > l.ds.Len() {
		end = l.ds.Len()
	}
	n := end - l.pos

	first, err := l.ds.Get(l.pos)
	if err != nil {
		return nil, err
	}
	rgbDim, depthDim := len(first.RGB), len(first.Depth)

	batch := &training.Batch{
		RGB:    training.NewTensor(n, rgbDim),
		Depth:  training.NewTensor(n, depthDim),
		Labels: make([]int, n),
	}
	for i := 0; i < n; i++ {
		s := first
		if i > 0 {
			if s, err = l.ds.Get(l.pos + i); err != nil {
				return nil, err
			}
		}
		if len(s.RGB) != rgbDim || len(s.Depth) != depthDim {
			return nil, fmt.Errorf("sample %d has inconsistent dimensions", l.pos+i)
		}
		copy(batch.RGB.Row(i), s.RGB)
		copy(batch.Depth.Row(i), s.Depth)
		batch.Labels[i] = s.Label
	}

	l.pos = end
	return batch, nil
}
