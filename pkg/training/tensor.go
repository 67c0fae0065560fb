package training

import "fmt"

// Tensor is a dense row-major float32 array. Dimension 0 is the batch axis.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Rows returns the size of dimension 0
func (t Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowSize returns the number of elements per row
func (t Tensor) RowSize() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape[1:] {
		n *= d
	}
	return n
}

// Row returns the elements of row i without copying
func (t Tensor) Row(i int) []float32 {
	size := t.RowSize()
	return t.Data[i*size : (i+1)*size]
}

// Validate checks that Data matches Shape
func (t Tensor) Validate() error {
	n := 1
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension in shape %v", t.Shape)
		}
		n *= d
	}
	if len(t.Shape) == 0 || n != len(t.Data) {
		return fmt.Errorf("shape %v does not match %d elements", t.Shape, len(t.Data))
	}
	return nil
}

// Batch is one step's worth of labeled RGB-D samples
type Batch struct {
	RGB    Tensor
	Depth  Tensor
	Labels []int
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return b.RGB.Rows()
}

// Validate checks that both modalities and the labels agree on batch size
func (b *Batch) Validate() error {
	if err := b.RGB.Validate(); err != nil {
		return fmt.Errorf("rgb: %w", err)
	}
	if err := b.Depth.Validate(); err != nil {
		return fmt.Errorf("depth: %w", err)
	}
	if b.Depth.Rows() != b.Size() || len(b.Labels) != b.Size() {
		return fmt.Errorf("batch size mismatch: rgb %d, depth %d, labels %d",
			b.Size(), b.Depth.Rows(), len(b.Labels))
	}
	return nil
}

// Argmax returns the index of the largest score in each row. NaN compares
// above every number, so the first NaN of a row wins.
func Argmax(scores Tensor) []int {
	rows := scores.Rows()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		row := scores.Row(i)
		best := 0
		for j := 0; j < len(row); j++ {
			if row[j] != row[j] {
				best = j
				break
			}
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// CountMatches counts the rows whose argmax equals the label
func CountMatches(scores Tensor, labels []int) (int, error) {
	if scores.Rows() != len(labels) {
		return 0, fmt.Errorf("output has %d rows for %d labels", scores.Rows(), len(labels))
	}
	if scores.RowSize() == 0 {
		return 0, fmt.Errorf("output has no classes")
	}
	correct := 0
	for i, p := range Argmax(scores) {
		if p == labels[i] {
			correct++
		}
	}
	return correct, nil
}
