package training

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rgbdtrain/pkg/checkpoint"
	errs "rgbdtrain/pkg/errors"
	"rgbdtrain/pkg/logger"
	"rgbdtrain/pkg/metrics"
)

type fixture struct {
	model     *fakeModel
	optimizer *mockOptimizer
	loss      *fakeLossFunction
	sink      *recordingSink
	persister *mockPersister
	opts      Options
}

func newFixture(train, validate, test DataSource) *fixture {
	f := &fixture{
		model:     &fakeModel{},
		optimizer: newMockOptimizer(),
		loss:      &fakeLossFunction{value: 0.5},
		sink:      &recordingSink{},
		persister: &mockPersister{},
	}
	f.opts = Options{
		Model:     f.model,
		Optimizer: f.optimizer,
		Loss:      f.loss,
		Train:     train,
		Validate:  validate,
		Test:      test,
		Sink:      f.sink,
		Persister: f.persister,
		Logger:    logger.NewTestLogger(),
		Epochs:    1,
		LogSteps:  true,
		LogRoot:   "runs",
		RunName:   "exp",
		State:     NewTrainingState(0, 0, 0),
	}
	return f
}

func (f *fixture) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(f.opts)
	require.NoError(t, err)
	return c
}

func TestNewCoordinatorRequiresCollaborators(t *testing.T) {
	_, err := NewCoordinator(Options{Save: true, Epochs: -1})
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "model is required")
	assert.Contains(t, err.Error(), "persister is required")
	assert.Contains(t, err.Error(), "epochs must be non-negative")
}

func TestTrainEpochAggregates(t *testing.T) {
	train := sourceWithAccuracy(10, 4, 30)
	f := newFixture(train, nil, nil)
	f.opts.Validate, f.opts.Test = train, train
	c := f.coordinator(t)

	totals, err := c.TrainEpoch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30, totals.Correct)
	assert.Equal(t, 40, totals.Samples)
	assert.Equal(t, 10, totals.Steps)
	assert.InDelta(t, 0.75, totals.Accuracy(), 1e-12)
	assert.InDelta(t, 0.5, totals.MeanLoss(), 1e-12)
	assert.InDelta(t, 20.0, totals.Loss, 1e-12)

	assert.True(t, f.model.training)
	assert.Equal(t, 10, f.loss.backwards)
	f.optimizer.AssertNumberOfCalls(t, "ZeroGrad", 10)
	f.optimizer.AssertNumberOfCalls(t, "Step", 10)

	state := c.State()
	assert.Equal(t, 9, state.Step)
	assert.Equal(t, 10, state.StepOffset)

	running := f.sink.named("Train/Running_Accu(steps)")
	require.Len(t, running, 10)
	assert.Equal(t, 0, running[0].Index)
	assert.Equal(t, 1.0, running[0].Value)
	assert.Equal(t, 0.5, running[7].Value)
	assert.Equal(t, 0.0, running[9].Value)
	assert.Len(t, f.sink.named("Train/Running_Loss(steps)"), 10)
}

func TestTrainEpochStepIndexContinues(t *testing.T) {
	train := sourceWithAccuracy(3, 2, 6)
	f := newFixture(train, train, train)
	f.opts.State = NewTrainingState(0, 100, 0)
	c := f.coordinator(t)

	_, err := c.TrainEpoch(context.Background())
	require.NoError(t, err)
	_, err = c.TrainEpoch(context.Background())
	require.NoError(t, err)

	var indices []int
	for _, r := range f.sink.named("Train/Running_Loss(steps)") {
		indices = append(indices, r.Index)
	}
	assert.Equal(t, []int{100, 101, 102, 103, 104, 105}, indices)
	assert.Equal(t, 106, c.State().StepOffset)
	assert.Equal(t, 2, train.resets)
}

func TestTrainEpochWithoutStepLogging(t *testing.T) {
	train := sourceWithAccuracy(2, 2, 4)
	f := newFixture(train, train, train)
	f.opts.LogSteps = false
	c := f.coordinator(t)

	_, err := c.TrainEpoch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.sink.records)
}

func TestDebugCapLimitsPasses(t *testing.T) {
	train := sourceWithAccuracy(10, 4, 40)
	valid := sourceWithAccuracy(10, 4, 40)
	f := newFixture(train, valid, valid)
	f.opts.Debug = DefaultDebugPolicy()
	c := f.coordinator(t)

	totals, err := c.TrainEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, totals.Steps)
	assert.Equal(t, 20, totals.Samples)
	assert.Equal(t, 5, train.pos)

	_, _, err = c.Evaluate(context.Background(), valid, ModeValidate)
	require.NoError(t, err)
	assert.Equal(t, 5, valid.pos)
}

func TestEvaluateBestTracking(t *testing.T) {
	first := sourceWithAccuracy(5, 4, 14)
	second := sourceWithAccuracy(5, 4, 13)
	f := newFixture(first, first, first)
	c := f.coordinator(t)

	acc, isBest, err := c.Evaluate(context.Background(), first, ModeValidate)
	require.NoError(t, err)
	assert.InDelta(t, 0.70, acc, 1e-12)
	assert.True(t, isBest)
	assert.False(t, f.model.training)

	acc, isBest, err = c.Evaluate(context.Background(), second, ModeValidate)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, acc, 1e-12)
	assert.False(t, isBest)
	assert.InDelta(t, 0.70, c.State().BestAccuracy, 1e-12)

	best := f.sink.named("Validate/Best_accu(epochs)")
	require.Len(t, best, 2)
	assert.InDelta(t, 0.70, best[1].Value, 1e-12)
	assert.Equal(t, -1, best[1].Index)
}

func TestEvaluateTieCountsAsBest(t *testing.T) {
	src := sourceWithAccuracy(2, 5, 5)
	f := newFixture(src, src, src)
	f.opts.State = NewTrainingState(0, 0, 0.5)
	c := f.coordinator(t)

	acc, isBest, err := c.Evaluate(context.Background(), src, ModeValidate)
	require.NoError(t, err)
	assert.Equal(t, 0.5, acc)
	assert.True(t, isBest)
}

func TestEvaluateEmptySource(t *testing.T) {
	empty := &sliceSource{}
	f := newFixture(empty, empty, empty)
	c := f.coordinator(t)

	_, _, err := c.Evaluate(context.Background(), empty, ModeValidate)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeEmptySource))
	assert.Empty(t, f.sink.records)
}

func TestMaybeCheckpointDebugThreshold(t *testing.T) {
	src := sourceWithAccuracy(1, 1, 1)
	f := newFixture(src, src, src)
	f.opts.Save = true
	f.opts.SaveBest = true
	f.opts.Debug = DefaultDebugPolicy()
	f.opts.State = TrainingState{Epoch: 2, Step: 7, EpochOffset: 0, StepOffset: 8, BestAccuracy: 0.81}
	c := f.coordinator(t)

	require.NoError(t, c.MaybeCheckpoint(0.79, true))
	f.persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	zeroBest := mock.MatchedBy(func(ckpt *checkpoint.Checkpoint) bool {
		return ckpt.BestAccuracy == 0 && ckpt.EpochOffset == 3 && ckpt.StepOffset == 8
	})
	f.persister.On("Persist", zeroBest, mock.Anything, mock.Anything, mock.Anything).Return("path", nil)

	require.NoError(t, c.MaybeCheckpoint(0.81, true))
	f.persister.AssertNumberOfCalls(t, "Persist", 2)
}

func TestMaybeCheckpointDirectories(t *testing.T) {
	src := sourceWithAccuracy(1, 1, 1)
	f := newFixture(src, src, src)
	f.opts.Save = true
	f.opts.SaveBest = true
	f.opts.State = TrainingState{Epoch: 4, Step: 39, EpochOffset: 0, StepOffset: 40, BestAccuracy: 0.75}
	c := f.coordinator(t)

	latestDir := filepath.Join("runs", "exp", "checkpoints")
	bestDir := filepath.Join(latestDir, "best")
	name := "val_acc_of_0.75_at_epoch:4.ckpt"

	offsets := mock.MatchedBy(func(ckpt *checkpoint.Checkpoint) bool {
		return ckpt.EpochOffset == 5 && ckpt.StepOffset == 40 &&
			ckpt.BestAccuracy == 0.75 && ckpt.Arch == "fake-fusion" &&
			string(ckpt.OptimizerState) == `{"v":[0]}`
	})
	f.persister.On("Persist", offsets, bestDir, name, 3).Return(filepath.Join(bestDir, name), nil).Once()
	f.persister.On("Persist", offsets, latestDir, name, 1).Return(filepath.Join(latestDir, name), nil).Twice()

	require.NoError(t, c.MaybeCheckpoint(0.75, true))
	require.NoError(t, c.MaybeCheckpoint(0.75, false))
	f.persister.AssertExpectations(t)
}

func TestMaybeCheckpointDisabled(t *testing.T) {
	src := sourceWithAccuracy(1, 1, 1)
	f := newFixture(src, src, src)
	f.opts.Persister = nil
	c := f.coordinator(t)

	require.NoError(t, c.MaybeCheckpoint(1, true))
}

func TestMaybeCheckpointPersistError(t *testing.T) {
	src := sourceWithAccuracy(1, 1, 1)
	f := newFixture(src, src, src)
	f.opts.Save = true
	c := f.coordinator(t)

	ioErr := errs.New(errs.ErrorTypeCheckpointIO, "write checkpoint", os.ErrPermission)
	f.persister.On("Persist", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", ioErr)

	err := c.MaybeCheckpoint(0.5, false)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeCheckpointIO))
	assert.True(t, errors.Is(err, os.ErrPermission))
}

func TestRunEndToEnd(t *testing.T) {
	root := t.TempDir()
	train := sourceWithAccuracy(10, 4, 30)
	valid := sourceWithAccuracy(5, 4, 16)
	test := sourceWithAccuracy(5, 4, 18)

	f := newFixture(train, valid, test)
	f.opts.Epochs = 3
	f.opts.LogRoot = root
	f.opts.Save = true
	f.opts.SaveBest = true
	f.opts.Persister = checkpoint.NewSaver(logger.NewTestLogger())
	f.opts.State = NewTrainingState(2, 50, 0)
	c := f.coordinator(t)
	assert.Equal(t, PhaseIdle, c.Phase())

	testAcc, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.9, testAcc, 1e-12)
	assert.Equal(t, PhaseDone, c.Phase())

	var epochs []int
	for _, r := range f.sink.named("Train/Accu(epochs)") {
		epochs = append(epochs, r.Index)
		assert.InDelta(t, 0.75, r.Value, 1e-12)
	}
	assert.Equal(t, []int{2, 3, 4}, epochs)

	history := c.History()
	require.Len(t, history, 3)
	assert.Equal(t, 4, history[2].Epoch)
	assert.InDelta(t, 0.8, history[0].ValidAccuracy, 1e-12)
	assert.True(t, history[2].IsBest)

	state := c.State()
	assert.Equal(t, 4, state.Epoch)
	assert.Equal(t, 5, state.EpochOffset)
	assert.Equal(t, 79, state.Step)
	assert.Equal(t, 80, state.StepOffset)
	assert.InDelta(t, 0.9, state.BestAccuracy, 1e-12)

	testAccu := f.sink.named("Test/Accu(epochs)")
	require.Len(t, testAccu, 1)
	assert.Equal(t, 4, testAccu[0].Index)

	latestDir, bestDir := checkpoint.Dirs(root, "exp")
	best, err := checkpoint.List(bestDir)
	require.NoError(t, err)
	assert.Len(t, best, 3)

	latest, err := checkpoint.Latest(latestDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(latestDir, "val_acc_of_0.8_at_epoch:4.ckpt"), latest)

	ckpt, err := checkpoint.Load(latest)
	require.NoError(t, err)
	assert.Equal(t, 5, ckpt.EpochOffset)
	assert.Equal(t, 80, ckpt.StepOffset)
	assert.InDelta(t, 0.8, ckpt.BestAccuracy, 1e-12)

	resumed := ResumeState(ckpt)
	assert.Equal(t, -1, resumed.Epoch)
	assert.Equal(t, 5, resumed.EpochOffset)
	assert.Equal(t, 80, resumed.StepOffset)
}

func TestRunFailsFast(t *testing.T) {
	train := sourceWithAccuracy(10, 4, 30)
	f := newFixture(train, train, train)
	f.model.forwardErr = errors.New("device lost")
	f.model.failAt = 3
	c := f.coordinator(t)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeCollaborator))
	assert.Contains(t, err.Error(), "forward at step 2")
	assert.Equal(t, 3, f.model.forwards)
	assert.Equal(t, PhaseTraining, c.Phase())
	f.optimizer.AssertNumberOfCalls(t, "Step", 2)
}

func TestRunAdvancesEpochOffset(t *testing.T) {
	train := sourceWithAccuracy(2, 2, 4)
	f := newFixture(train, train, train)
	f.opts.Epochs = 3
	c := f.coordinator(t)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	state := c.State()
	assert.Equal(t, 2, state.Epoch)
	assert.Equal(t, 3, state.EpochOffset)
	assert.Equal(t, 5, state.Step)
	assert.Equal(t, 6, state.StepOffset)
}

func TestRunFailureKeepsLastCompletedEpochOffset(t *testing.T) {
	// one epoch is 10 training and 10 validation forwards
	train := sourceWithAccuracy(10, 4, 30)
	f := newFixture(train, train, train)
	f.opts.Epochs = 3
	f.model.forwardErr = errors.New("device lost")
	f.model.failAt = 25
	c := f.coordinator(t)

	_, err := c.Run(context.Background())
	require.Error(t, err)

	state := c.State()
	assert.Equal(t, 1, state.Epoch)
	assert.Equal(t, 1, state.EpochOffset)
	assert.Equal(t, 14, state.Step)
	assert.Equal(t, 14, state.StepOffset, "the failed step is not counted")
	assert.Len(t, c.History(), 1)
}

func TestRunWithDivergedLossKeepsRecording(t *testing.T) {
	root := t.TempDir()
	scalars, err := metrics.OpenScalarFile(filepath.Join(root, "scalars.jsonl"))
	require.NoError(t, err)
	defer scalars.Close()

	train := sourceWithAccuracy(2, 2, 2)
	f := newFixture(train, train, train)
	f.loss.value = math.NaN()
	f.opts.Epochs = 2
	f.opts.Sink = metrics.Multi{f.sink, scalars}
	c := f.coordinator(t)

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	history := c.History()
	require.Len(t, history, 2)
	assert.True(t, math.IsNaN(history[1].TrainLoss))

	recorded, err := metrics.ReadScalars(filepath.Join(root, "scalars.jsonl"))
	require.NoError(t, err)
	assert.Len(t, recorded, len(f.sink.records))
}

func TestRunEmptyTrainingSource(t *testing.T) {
	empty := &sliceSource{}
	valid := sourceWithAccuracy(1, 1, 1)
	f := newFixture(empty, valid, valid)
	c := f.coordinator(t)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeEmptySource))
}

func TestRunObservesCancellation(t *testing.T) {
	train := sourceWithAccuracy(10, 4, 30)
	f := newFixture(train, train, train)
	c := f.coordinator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, f.model.forwards)
}

func TestRunZeroEpochsOnlyTests(t *testing.T) {
	src := sourceWithAccuracy(2, 2, 3)
	f := newFixture(src, src, src)
	f.opts.Epochs = 0
	c := f.coordinator(t)

	acc, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.75, acc)
	assert.Empty(t, c.History())
	assert.Len(t, f.sink.named("Test/Accu(epochs)"), 1)
}

type countingObserver struct {
	steps  int
	epochs []EpochRecord
}

func (o *countingObserver) OnStep(phase Phase, epoch, step int, loss float64) { o.steps++ }
func (o *countingObserver) OnEpoch(record EpochRecord)                        { o.epochs = append(o.epochs, record) }

func TestRunNotifiesObserver(t *testing.T) {
	train := sourceWithAccuracy(3, 2, 6)
	valid := sourceWithAccuracy(2, 2, 4)
	f := newFixture(train, valid, valid)
	f.opts.Epochs = 2
	observer := &countingObserver{}
	f.opts.Observer = observer
	c := f.coordinator(t)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	// 3 train + 2 validate per epoch, then 2 test
	assert.Equal(t, 12, observer.steps)
	assert.Len(t, observer.epochs, 2)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "checkpointing", PhaseCheckpointing.String())
	assert.Equal(t, "unknown", Phase(42).String())
}

func TestCountMatchesRejectsMismatch(t *testing.T) {
	_, err := CountMatches(NewTensor(2, 3), []int{0})
	assert.Error(t, err)

	n, err := CountMatches(Tensor{Shape: []int{2, 2}, Data: []float32{0, 1, 1, 0}}, []int{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArgmaxTreatsNaNAsMax(t *testing.T) {
	nan := float32(math.NaN())
	scores := Tensor{Shape: []int{4, 3}, Data: []float32{
		0.1, 0.7, 0.2,
		0.9, nan, 5,
		nan, 2, nan,
		3, 3, 1,
	}}
	assert.Equal(t, []int{1, 1, 0, 0}, Argmax(scores))
}
