package backend

import (
	"fmt"
	"math"

	"rgbdtrain/pkg/training"
)

// Backwarder receives the gradient of the loss with respect to model output
type Backwarder interface {
	Backward(gradOutput training.Tensor) error
}

// CrossEntropy is the mean negative log-likelihood of softmax scores.
// Backward sends the output gradient to the bound model.
type CrossEntropy struct {
	model Backwarder
}

// NewCrossEntropy binds the loss to the model that produced the scores
func NewCrossEntropy(model Backwarder) *CrossEntropy {
	return &CrossEntropy{model: model}
}

type crossEntropyLoss struct {
	value float64
	grad  training.Tensor
	model Backwarder
}

func (l *crossEntropyLoss) Value() float64 { return l.value }

func (l *crossEntropyLoss) Backward() error {
	return l.model.Backward(l.grad)
}

// Compute returns the loss of output against labels
func (ce *CrossEntropy) Compute(output training.Tensor, labels []int) (training.Loss, error) {
	n, classes := output.Rows(), output.RowSize()
	if n == 0 || n != len(labels) {
		return nil, fmt.Errorf("output has %d rows for %d labels", n, len(labels))
	}

	grad := training.NewTensor(n, classes)
	total := 0.0
	for i := 0; i < n; i++ {
		label := labels[i]
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("label %d out of range for %d classes", label, classes)
		}

		row := output.Row(i)
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(float64(v - max))
		}
		logSum := math.Log(sum) + float64(max)
		total += logSum - float64(row[label])

		g := grad.Row(i)
		for c, v := range row {
			p := math.Exp(float64(v) - logSum)
			if c == label {
				p--
			}
			g[c] = float32(p / float64(n))
		}
	}

	return &crossEntropyLoss{value: total / float64(n), grad: grad, model: ce.model}, nil
}
