package training

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"rgbdtrain/pkg/checkpoint"
)

const fakeClasses = 4

// fakeModel predicts the class stored in the first RGB feature of each sample
type fakeModel struct {
	training   bool
	forwards   int
	forwardErr error
	failAt     int
}

func (m *fakeModel) Name() string { return "fake-fusion" }
func (m *fakeModel) Train()       { m.training = true }
func (m *fakeModel) Eval()        { m.training = false }

func (m *fakeModel) Forward(rgb, depth Tensor) (Tensor, error) {
	m.forwards++
	if m.forwardErr != nil && m.forwards >= m.failAt {
		return Tensor{}, m.forwardErr
	}
	out := NewTensor(rgb.Rows(), fakeClasses)
	for i := 0; i < rgb.Rows(); i++ {
		out.Row(i)[int(rgb.Row(i)[0])] = 1
	}
	return out, nil
}

func (m *fakeModel) State() ([]byte, error) { return []byte(`{"w":[0.5]}`), nil }

type fakeLoss struct {
	value     float64
	backwards *int
}

func (l fakeLoss) Value() float64 { return l.value }
func (l fakeLoss) Backward() error {
	*l.backwards++
	return nil
}

type fakeLossFunction struct {
	value     float64
	backwards int
}

func (f *fakeLossFunction) Compute(output Tensor, labels []int) (Loss, error) {
	return fakeLoss{value: f.value, backwards: &f.backwards}, nil
}

type mockOptimizer struct {
	mock.Mock
}

func (m *mockOptimizer) ZeroGrad() { m.Called() }

func (m *mockOptimizer) Step() error {
	return m.Called().Error(0)
}

func (m *mockOptimizer) State() ([]byte, error) {
	args := m.Called()
	return args.Get(0).([]byte), args.Error(1)
}

func newMockOptimizer() *mockOptimizer {
	opt := &mockOptimizer{}
	opt.On("ZeroGrad").Return()
	opt.On("Step").Return(nil)
	opt.On("State").Return([]byte(`{"v":[0]}`), nil)
	return opt
}

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) Persist(ckpt *checkpoint.Checkpoint, dir, name string, maxRetained int) (string, error) {
	args := m.Called(ckpt, dir, name, maxRetained)
	return args.String(0), args.Error(1)
}

type scalar struct {
	Name  string
	Value float64
	Index int
}

type recordingSink struct {
	records []scalar
}

func (s *recordingSink) Record(name string, value float64, index int) error {
	s.records = append(s.records, scalar{name, value, index})
	return nil
}

func (s *recordingSink) named(name string) []scalar {
	var out []scalar
	for _, r := range s.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// sliceSource replays a fixed list of batches
type sliceSource struct {
	batches []*Batch
	pos     int
	resets  int
}

func (s *sliceSource) Reset() error {
	s.pos = 0
	s.resets++
	return nil
}

func (s *sliceSource) Next(ctx context.Context) (*Batch, error) {
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

// makeBatch builds a batch whose fake prediction for sample i is preds[i]
func makeBatch(preds, labels []int) *Batch {
	rgb := NewTensor(len(preds), 1)
	for i, p := range preds {
		rgb.Data[i] = float32(p)
	}
	return &Batch{RGB: rgb, Depth: NewTensor(len(preds), 1), Labels: labels}
}

// sourceWithAccuracy returns batches of size batchSize where the first
// correct samples overall are classified correctly
func sourceWithAccuracy(batches, batchSize, correct int) *sliceSource {
	src := &sliceSource{}
	n := 0
	for b := 0; b < batches; b++ {
		preds := make([]int, batchSize)
		labels := make([]int, batchSize)
		for i := range preds {
			labels[i] = (n + i) % fakeClasses
			if n+i < correct {
				preds[i] = labels[i]
			} else {
				preds[i] = (labels[i] + 1) % fakeClasses
			}
		}
		n += batchSize
		src.batches = append(src.batches, makeBatch(preds, labels))
	}
	return src
}
