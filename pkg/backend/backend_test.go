package backend

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgbdtrain/pkg/dataset"
	"rgbdtrain/pkg/training"
)

func TestCrossEntropyUniformScores(t *testing.T) {
	model, err := NewLinearFusion(1, 1, 4, 1)
	require.NoError(t, err)

	loss, err := NewCrossEntropy(model).Compute(training.NewTensor(2, 4), []int{0, 3})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), loss.Value(), 1e-6)
}

func TestCrossEntropyRejectsBadLabels(t *testing.T) {
	ce := NewCrossEntropy(nil)
	_, err := ce.Compute(training.NewTensor(1, 3), []int{3})
	assert.Error(t, err)
	_, err = ce.Compute(training.NewTensor(2, 3), []int{0})
	assert.Error(t, err)
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	model, err := NewLinearFusion(2, 1, 3, 5)
	require.NoError(t, err)
	model.Train()

	rgb := training.Tensor{Shape: []int{2, 2}, Data: []float32{0.5, -1, 0.25, 0.75}}
	depth := training.Tensor{Shape: []int{2, 1}, Data: []float32{1, -0.5}}
	labels := []int{2, 0}
	ce := NewCrossEntropy(model)

	lossAt := func() float64 {
		out, err := model.Forward(rgb, depth)
		require.NoError(t, err)
		l, err := ce.Compute(out, labels)
		require.NoError(t, err)
		return l.Value()
	}

	out, err := model.Forward(rgb, depth)
	require.NoError(t, err)
	l, err := ce.Compute(out, labels)
	require.NoError(t, err)
	require.NoError(t, l.Backward())

	const eps = 1e-3
	for _, p := range model.Params() {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + eps
			up := lossAt()
			p.Value[i] = orig - eps
			down := lossAt()
			p.Value[i] = orig

			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, float64(p.Grad[i]), 2e-3, "%s[%d]", p.Name, i)
		}
	}
}

func TestForwardRejectsWrongShape(t *testing.T) {
	model, err := NewLinearFusion(3, 2, 2, 1)
	require.NoError(t, err)

	_, err = model.Forward(training.NewTensor(1, 2), training.NewTensor(1, 2))
	assert.Error(t, err)

	model.Eval()
	assert.Error(t, model.Backward(training.NewTensor(1, 2)))
}

func TestTrainingReducesLoss(t *testing.T) {
	ds, err := dataset.Synthetic(dataset.SyntheticConfig{
		Samples: 200, RGBDim: 6, DepthDim: 3, Classes: 3, Noise: 0.2, Seed: 11,
	})
	require.NoError(t, err)
	loader, err := dataset.NewLoader(ds, 20)
	require.NoError(t, err)

	model, err := NewLinearFusion(6, 3, 3, 2)
	require.NoError(t, err)
	ce := NewCrossEntropy(model)
	opt, err := NewSGD(model.Params(), 0.3, 0.9)
	require.NoError(t, err)

	epochLoss := func(train bool) float64 {
		require.NoError(t, loader.Reset())
		if train {
			model.Train()
		} else {
			model.Eval()
		}
		total, n := 0.0, 0
		for {
			batch, err := loader.Next(context.Background())
			if err == io.EOF {
				return total / float64(n)
			}
			require.NoError(t, err)
			out, err := model.Forward(batch.RGB, batch.Depth)
			require.NoError(t, err)
			l, err := ce.Compute(out, batch.Labels)
			require.NoError(t, err)
			total += l.Value() * float64(batch.Size())
			n += batch.Size()
			if train {
				opt.ZeroGrad()
				require.NoError(t, l.Backward())
				require.NoError(t, opt.Step())
			}
		}
	}

	before := epochLoss(false)
	for i := 0; i < 20; i++ {
		epochLoss(true)
	}
	after := epochLoss(false)
	assert.Less(t, after, 0.7*before)
}

func TestModelStateRoundTrip(t *testing.T) {
	a, err := NewLinearFusion(4, 2, 3, 1)
	require.NoError(t, err)
	b, err := NewLinearFusion(4, 2, 3, 99)
	require.NoError(t, err)

	state, err := a.State()
	require.NoError(t, err)
	require.NoError(t, b.LoadState(state))

	rgb := training.Tensor{Shape: []int{1, 4}, Data: []float32{1, 2, 3, 4}}
	depth := training.Tensor{Shape: []int{1, 2}, Data: []float32{5, 6}}
	outA, err := a.Forward(rgb, depth)
	require.NoError(t, err)
	outB, err := b.Forward(rgb, depth)
	require.NoError(t, err)
	assert.Equal(t, outA.Data, outB.Data)

	other, err := NewLinearFusion(4, 2, 5, 1)
	require.NoError(t, err)
	assert.Error(t, other.LoadState(state))
	assert.Error(t, b.LoadState([]byte("{")))
}

func TestSGDStepAndState(t *testing.T) {
	p := &Param{Name: "w", Value: []float32{1, 1}, Grad: []float32{0.5, -0.5}}
	opt, err := NewSGD([]*Param{p}, 0.1, 0.5)
	require.NoError(t, err)

	require.NoError(t, opt.Step())
	assert.InDeltaSlice(t, []float32{0.95, 1.05}, p.Value, 1e-6)
	require.NoError(t, opt.Step())
	// v = 0.5*0.5 + 0.5 = 0.75
	assert.InDeltaSlice(t, []float32{0.875, 1.125}, p.Value, 1e-6)

	opt.ZeroGrad()
	assert.Equal(t, []float32{0, 0}, p.Grad)

	state, err := opt.State()
	require.NoError(t, err)

	q := &Param{Name: "w", Value: []float32{0, 0}, Grad: []float32{0, 0}}
	restored, err := NewSGD([]*Param{q}, 0.1, 0.5)
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(state))
	assert.Equal(t, opt.velocity, restored.velocity)

	missing := &Param{Name: "other", Value: []float32{0}, Grad: []float32{0}}
	bad, err := NewSGD([]*Param{missing}, 0.1, 0.5)
	require.NoError(t, err)
	assert.Error(t, bad.LoadState(state))
}

func TestNewSGDValidates(t *testing.T) {
	_, err := NewSGD(nil, 0, 0.9)
	assert.Error(t, err)
	_, err = NewSGD(nil, 0.1, 1)
	assert.Error(t, err)
}
