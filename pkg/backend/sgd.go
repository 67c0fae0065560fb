package backend

import (
	"encoding/json"
	"fmt"
)

// SGD is stochastic gradient descent with classical momentum
type SGD struct {
	params       []*Param
	learningRate float64
	momentum     float64
	velocity     [][]float32
}

// NewSGD creates an optimizer over params
func NewSGD(params []*Param, learningRate, momentum float64) (*SGD, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", learningRate)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %v", momentum)
	}

	velocity := make([][]float32, len(params))
	for i, p := range params {
		velocity[i] = make([]float32, len(p.Value))
	}
	return &SGD{params: params, learningRate: learningRate, momentum: momentum, velocity: velocity}, nil
}

// ZeroGrad clears accumulated gradients
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// Step applies v = momentum*v + grad, value -= lr*v
func (o *SGD) Step() error {
	lr, mu := float32(o.learningRate), float32(o.momentum)
	for i, p := range o.params {
		v := o.velocity[i]
		for j, g := range p.Grad {
			v[j] = mu*v[j] + g
			p.Value[j] -= lr * v[j]
		}
	}
	return nil
}

type sgdState struct {
	LearningRate float64              `json:"lr"`
	Momentum     float64              `json:"momentum"`
	Velocity     map[string][]float32 `json:"velocity"`
}

// State returns the hyperparameters and momentum buffers as JSON
func (o *SGD) State() ([]byte, error) {
	s := sgdState{LearningRate: o.learningRate, Momentum: o.momentum, Velocity: make(map[string][]float32)}
	for i, p := range o.params {
		s.Velocity[p.Name] = o.velocity[i]
	}
	return json.Marshal(s)
}

// LoadState restores momentum buffers written by State. The configured
// learning rate and momentum are kept.
func (o *SGD) LoadState(data []byte) error {
	var s sgdState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode optimizer state: %w", err)
	}
	for i, p := range o.params {
		v, ok := s.Velocity[p.Name]
		if !ok {
			return fmt.Errorf("optimizer state has no buffer for %q", p.Name)
		}
		if len(v) != len(o.velocity[i]) {
			return fmt.Errorf("optimizer buffer %q has %d values, want %d", p.Name, len(v), len(o.velocity[i]))
		}
		copy(o.velocity[i], v)
	}
	return nil
}
