package backend

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"rgbdtrain/pkg/training"
)

// Arch is the architecture name of LinearFusion
const Arch = "LinearFusion"

// Param is a parameter vector with its accumulated gradient
type Param struct {
	Name  string
	Value []float32
	Grad  []float32
}

// LinearFusion concatenates the RGB and depth features of a sample and maps
// them to class scores with one affine layer
type LinearFusion struct {
	rgbDim   int
	depthDim int
	classes  int

	weights Param // classes x (rgbDim + depthDim), row-major
	bias    Param // classes

	training bool
	inputs   training.Tensor
}

// NewLinearFusion builds a model with small random weights drawn from seed
func NewLinearFusion(rgbDim, depthDim, classes int, seed int64) (*LinearFusion, error) {
	if rgbDim <= 0 || depthDim <= 0 || classes < 2 {
		return nil, fmt.Errorf("invalid model shape rgb=%d depth=%d classes=%d", rgbDim, depthDim, classes)
	}

	in := rgbDim + depthDim
	m := &LinearFusion{
		rgbDim:   rgbDim,
		depthDim: depthDim,
		classes:  classes,
		weights:  Param{Name: "weights", Value: make([]float32, classes*in), Grad: make([]float32, classes*in)},
		bias:     Param{Name: "bias", Value: make([]float32, classes), Grad: make([]float32, classes)},
	}

	rng := rand.New(rand.NewSource(seed))
	scale := 1 / math.Sqrt(float64(in))
	for i := range m.weights.Value {
		m.weights.Value[i] = float32((rng.Float64()*2 - 1) * scale)
	}
	return m, nil
}

func (m *LinearFusion) Name() string { return Arch }
func (m *LinearFusion) Train()       { m.training = true }

// Eval switches to inference mode and drops cached inputs
func (m *LinearFusion) Eval() {
	m.training = false
	m.inputs = training.Tensor{}
}

// Classes returns the number of output classes
func (m *LinearFusion) Classes() int { return m.classes }

// Params returns the trainable parameters
func (m *LinearFusion) Params() []*Param {
	return []*Param{&m.weights, &m.bias}
}

// Forward computes class scores for each sample
func (m *LinearFusion) Forward(rgb, depth training.Tensor) (training.Tensor, error) {
	if rgb.RowSize() != m.rgbDim || depth.RowSize() != m.depthDim {
		return training.Tensor{}, fmt.Errorf("input features rgb=%d depth=%d, model expects rgb=%d depth=%d",
			rgb.RowSize(), depth.RowSize(), m.rgbDim, m.depthDim)
	}
	if rgb.Rows() != depth.Rows() {
		return training.Tensor{}, fmt.Errorf("modalities disagree on batch size: %d vs %d", rgb.Rows(), depth.Rows())
	}

	n, in := rgb.Rows(), m.rgbDim+m.depthDim
	x := training.NewTensor(n, in)
	for i := 0; i < n; i++ {
		row := x.Row(i)
		copy(row, rgb.Row(i))
		copy(row[m.rgbDim:], depth.Row(i))
	}

	out := training.NewTensor(n, m.classes)
	for i := 0; i < n; i++ {
		xi, oi := x.Row(i), out.Row(i)
		for c := 0; c < m.classes; c++ {
			w := m.weights.Value[c*in : (c+1)*in]
			sum := m.bias.Value[c]
			for j, v := range xi {
				sum += w[j] * v
			}
			oi[c] = sum
		}
	}

	if m.training {
		m.inputs = x
	}
	return out, nil
}

// Backward accumulates parameter gradients for the last training Forward
// given the gradient of the loss with respect to its output
func (m *LinearFusion) Backward(gradOutput training.Tensor) error {
	if !m.training || m.inputs.Rows() == 0 {
		return fmt.Errorf("backward without a training forward pass")
	}
	if gradOutput.Rows() != m.inputs.Rows() || gradOutput.RowSize() != m.classes {
		return fmt.Errorf("gradient shape %v does not match output [%d %d]", gradOutput.Shape, m.inputs.Rows(), m.classes)
	}

	in := m.rgbDim + m.depthDim
	for i := 0; i < gradOutput.Rows(); i++ {
		gi, xi := gradOutput.Row(i), m.inputs.Row(i)
		for c, g := range gi {
			if g == 0 {
				continue
			}
			wg := m.weights.Grad[c*in : (c+1)*in]
			for j, v := range xi {
				wg[j] += g * v
			}
			m.bias.Grad[c] += g
		}
	}
	return nil
}

// linearState is the serialized form of LinearFusion
type linearState struct {
	Arch     string    `json:"arch"`
	RGBDim   int       `json:"rgb_dim"`
	DepthDim int       `json:"depth_dim"`
	Classes  int       `json:"classes"`
	Weights  []float32 `json:"weights"`
	Bias     []float32 `json:"bias"`
}

// State returns the parameters as JSON
func (m *LinearFusion) State() ([]byte, error) {
	return json.Marshal(linearState{
		Arch:     Arch,
		RGBDim:   m.rgbDim,
		DepthDim: m.depthDim,
		Classes:  m.classes,
		Weights:  m.weights.Value,
		Bias:     m.bias.Value,
	})
}

// LoadState restores parameters written by State. Shapes must match.
func (m *LinearFusion) LoadState(data []byte) error {
	var s linearState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode model state: %w", err)
	}
	if s.Arch != Arch {
		return fmt.Errorf("state is for architecture %q, not %q", s.Arch, Arch)
	}
	if s.RGBDim != m.rgbDim || s.DepthDim != m.depthDim || s.Classes != m.classes {
		return fmt.Errorf("state shape rgb=%d depth=%d classes=%d does not match model rgb=%d depth=%d classes=%d",
			s.RGBDim, s.DepthDim, s.Classes, m.rgbDim, m.depthDim, m.classes)
	}
	if len(s.Weights) != len(m.weights.Value) || len(s.Bias) != len(m.bias.Value) {
		return fmt.Errorf("state parameter sizes do not match model")
	}
	copy(m.weights.Value, s.Weights)
	copy(m.bias.Value, s.Bias)
	return nil
}
