package training

import (
	"context"

	"rgbdtrain/pkg/checkpoint"
)

// Model is a two-modality classifier. Forward returns one row of class
// scores per sample.
type Model interface {
	Name() string
	Train()
	Eval()
	Forward(rgb, depth Tensor) (Tensor, error)
	State() ([]byte, error)
}

// Optimizer updates the parameters of the model it was built for
type Optimizer interface {
	ZeroGrad()
	Step() error
	State() ([]byte, error)
}

// Loss is the scalar result of a loss computation
type Loss interface {
	Value() float64
	Backward() error
}

// LossFunction computes a loss from model output and labels
type LossFunction interface {
	Compute(output Tensor, labels []int) (Loss, error)
}

// DataSource is a finite, restartable sequence of batches. Next returns
// io.EOF once the pass is exhausted; Reset starts a new pass in the same order.
type DataSource interface {
	Reset() error
	Next(ctx context.Context) (*Batch, error)
}

// MetricSink records named scalars at a step or epoch index
type MetricSink interface {
	Record(name string, value float64, index int) error
}

// Persister writes a checkpoint to dir/name and evicts the oldest entries
// beyond maxRetained
type Persister interface {
	Persist(ckpt *checkpoint.Checkpoint, dir, name string, maxRetained int) (string, error)
}

// Observer receives progress notifications from the coordinator
type Observer interface {
	OnStep(phase Phase, epoch, step int, loss float64)
	OnEpoch(record EpochRecord)
}
