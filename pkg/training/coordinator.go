package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rgbdtrain/pkg/checkpoint"
	errs "rgbdtrain/pkg/errors"
	"rgbdtrain/pkg/logger"
)

// Evaluation modes, used as the metric namespace
const (
	ModeValidate = "Validate"
	ModeTest     = "Test"
)

// Retention bounds of the two checkpoint directories
const (
	BestRetained   = 3
	LatestRetained = 1
)

var tracer = otel.Tracer("rgbdtrain/pkg/training")

// Options configures a Coordinator
type Options struct {
	Model     Model
	Optimizer Optimizer
	Loss      LossFunction

	Train    DataSource
	Validate DataSource
	Test     DataSource

	Sink      MetricSink
	Persister Persister
	Observer  Observer
	Logger    logger.Logger

	Epochs   int
	LogSteps bool

	// LogRoot and RunName locate the checkpoint directories
	LogRoot  string
	RunName  string
	Save     bool
	SaveBest bool

	// BestRetain and LatestRetain override BestRetained and LatestRetained when > 0
	BestRetain   int
	LatestRetain int

	Debug DebugPolicy
	State TrainingState
}

// Coordinator drives the epoch loop over externally supplied collaborators
type Coordinator struct {
	opts    Options
	state   TrainingState
	phase   Phase
	history []EpochRecord
	logger  logger.Logger
}

// NewCoordinator checks the collaborators and returns a coordinator in the idle phase
func NewCoordinator(opts Options) (*Coordinator, error) {
	var missing []error
	if opts.Model == nil {
		missing = append(missing, errors.New("model is required"))
	}
	if opts.Optimizer == nil {
		missing = append(missing, errors.New("optimizer is required"))
	}
	if opts.Loss == nil {
		missing = append(missing, errors.New("loss function is required"))
	}
	if opts.Train == nil || opts.Validate == nil || opts.Test == nil {
		missing = append(missing, errors.New("train, validate and test sources are required"))
	}
	if opts.Sink == nil {
		missing = append(missing, errors.New("metric sink is required"))
	}
	if (opts.Save || opts.SaveBest) && opts.Persister == nil {
		missing = append(missing, errors.New("persister is required when saving is enabled"))
	}
	if opts.Epochs < 0 {
		missing = append(missing, fmt.Errorf("epochs must be non-negative, got %d", opts.Epochs))
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.ErrorTypeConfig, "new coordinator", errors.Join(missing...))
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.BestRetain <= 0 {
		opts.BestRetain = BestRetained
	}
	if opts.LatestRetain <= 0 {
		opts.LatestRetain = LatestRetained
	}

	return &Coordinator{
		opts:   opts,
		state:  opts.State,
		phase:  PhaseIdle,
		logger: log.WithField("run", opts.RunName),
	}, nil
}

// State returns a copy of the current training state
func (c *Coordinator) State() TrainingState {
	return c.state
}

// Phase returns the current position in the run state machine
func (c *Coordinator) Phase() Phase {
	return c.phase
}

// History returns the records of the epochs completed by Run
func (c *Coordinator) History() []EpochRecord {
	return append([]EpochRecord(nil), c.history...)
}

// capped reports whether the debug batch cap stops a pass before batch i
func (c *Coordinator) capped(i int) bool {
	limit := c.opts.Debug.MaxBatchesPerEpoch
	return limit > 0 && i+1 > limit
}

// TrainEpoch runs one training pass. Step indices are consecutive and continue
// from StepOffset, which advances only when a step completes.
func (c *Coordinator) TrainEpoch(ctx context.Context) (EpochTotals, error) {
	var totals EpochTotals

	c.opts.Model.Train()
	if err := c.opts.Train.Reset(); err != nil {
		return totals, errs.New(errs.ErrorTypeCollaborator, "reset training source", err)
	}

	for i := 0; !c.capped(i); i++ {
		if err := ctx.Err(); err != nil {
			return totals, err
		}

		batch, err := c.opts.Train.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return totals, ctxErr
			}
			return totals, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("load training batch %d", i), err)
		}

		c.state.Step = c.state.StepOffset
		loss, correct, err := c.trainStep(batch)
		if err != nil {
			return totals, err
		}
		c.state.StepOffset = c.state.Step + 1

		size := batch.Size()
		totals.Loss += loss * float64(size)
		totals.Correct += correct
		totals.Samples += size
		totals.Steps++

		if c.opts.LogSteps {
			c.logger.DebugWithFields("Training step", map[string]interface{}{
				"step":     i,
				"abs_step": c.state.Step,
				"loss":     loss,
			})
			if err := c.record("Train/Running_Loss(steps)", loss, c.state.Step); err != nil {
				return totals, err
			}
			if err := c.record("Train/Running_Accu(steps)", float64(correct)/float64(size), c.state.Step); err != nil {
				return totals, err
			}
		}
		if c.opts.Observer != nil {
			c.opts.Observer.OnStep(PhaseTraining, c.state.Epoch, c.state.Step, loss)
		}
	}

	return totals, nil
}

func (c *Coordinator) trainStep(batch *Batch) (float64, int, error) {
	step := c.state.Step
	if err := batch.Validate(); err != nil {
		return 0, 0, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("validate batch at step %d", step), err)
	}

	output, err := c.opts.Model.Forward(batch.RGB, batch.Depth)
	if err != nil {
		return 0, 0, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("forward at step %d", step), err)
	}
	loss, err := c.opts.Loss.Compute(output, batch.Labels)
	if err != nil {
		return 0, 0, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("compute loss at step %d", step), err)
	}
	correct, err := CountMatches(output, batch.Labels)
	if err != nil {
		return 0, 0, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("score output at step %d", step), err)
	}

	c.opts.Optimizer.ZeroGrad()
	if err := loss.Backward(); err != nil {
		return 0, 0, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("backward at step %d", step), err)
	}
	if err := c.opts.Optimizer.Step(); err != nil {
		return 0, 0, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("optimizer step at step %d", step), err)
	}

	return loss.Value(), correct, nil
}

// Evaluate runs the model in inference mode over source and updates the best
// accuracy. Ties with the previous best count as best.
func (c *Coordinator) Evaluate(ctx context.Context, source DataSource, mode string) (float64, bool, error) {
	c.logger.DebugWithFields(mode+" started", map[string]interface{}{"epoch": c.state.Epoch})

	c.opts.Model.Eval()
	if err := source.Reset(); err != nil {
		return 0, false, errs.New(errs.ErrorTypeCollaborator, "reset "+mode+" source", err)
	}

	correct, total := 0, 0
	for i := 0; !c.capped(i); i++ {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		batch, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, false, ctxErr
			}
			return 0, false, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("load %s batch %d", mode, i), err)
		}
		if err := batch.Validate(); err != nil {
			return 0, false, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("validate %s batch %d", mode, i), err)
		}

		output, err := c.opts.Model.Forward(batch.RGB, batch.Depth)
		if err != nil {
			return 0, false, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("forward %s batch %d", mode, i), err)
		}
		n, err := CountMatches(output, batch.Labels)
		if err != nil {
			return 0, false, errs.New(errs.ErrorTypeCollaborator, fmt.Sprintf("score %s batch %d", mode, i), err)
		}
		correct += n
		total += batch.Size()

		if c.opts.Observer != nil {
			c.opts.Observer.OnStep(c.phase, c.state.Epoch, i, 0)
		}
	}

	if total == 0 {
		return 0, false, errs.Newf(errs.ErrorTypeEmptySource, "evaluate "+mode, "source yielded no samples")
	}

	accuracy := float64(correct) / float64(total)
	previous := c.state.BestAccuracy
	isBest := accuracy >= previous
	if isBest {
		c.state.BestAccuracy = accuracy
	}

	if err := c.record(mode+"/Accu(epochs)", accuracy, c.state.Epoch); err != nil {
		return accuracy, isBest, err
	}
	if err := c.record(mode+"/Best_accu(epochs)", c.state.BestAccuracy, c.state.Epoch); err != nil {
		return accuracy, isBest, err
	}

	logger.LogEvaluation(c.logger, mode, c.state.Epoch, accuracy, c.state.BestAccuracy, isBest)
	return accuracy, isBest, nil
}

// MaybeCheckpoint persists the current state unless the debug policy
// suppresses it. Best checkpoints are written only when isBest.
func (c *Coordinator) MaybeCheckpoint(accuracy float64, isBest bool) error {
	if accuracy < c.opts.Debug.MinAccuracyToSave {
		logger.LogCheckpointSkipped(c.logger, c.state.Epoch, accuracy, c.opts.Debug.MinAccuracyToSave)
		return nil
	}
	if !c.opts.Save && !(isBest && c.opts.SaveBest) {
		return nil
	}

	ckpt, err := c.snapshot()
	if err != nil {
		return err
	}

	latestDir, bestDir := checkpoint.Dirs(c.opts.LogRoot, c.opts.RunName)
	name := checkpoint.FileName(accuracy, c.state.Epoch)

	if isBest && c.opts.SaveBest {
		path, err := c.opts.Persister.Persist(ckpt, bestDir, name, c.opts.BestRetain)
		if err != nil {
			return fmt.Errorf("persist best checkpoint: %w", err)
		}
		logger.LogCheckpoint(c.logger, "best", path, c.state.Epoch, accuracy)
	}

	if !c.opts.Save {
		return nil
	}

	path, err := c.opts.Persister.Persist(ckpt, latestDir, name, c.opts.LatestRetain)
	if err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	logger.LogCheckpoint(c.logger, "latest", path, c.state.Epoch, accuracy)
	return nil
}

func (c *Coordinator) snapshot() (*checkpoint.Checkpoint, error) {
	modelState, err := c.opts.Model.State()
	if err != nil {
		return nil, errs.New(errs.ErrorTypeCollaborator, "snapshot model", err)
	}
	optimState, err := c.opts.Optimizer.State()
	if err != nil {
		return nil, errs.New(errs.ErrorTypeCollaborator, "snapshot optimizer", err)
	}

	best := c.state.BestAccuracy
	if c.opts.Debug.ZeroBestOnSave {
		best = 0
	}

	return &checkpoint.Checkpoint{
		EpochOffset:    c.state.Epoch + 1,
		StepOffset:     c.state.Step + 1,
		Arch:           c.opts.Model.Name(),
		ModelState:     modelState,
		BestAccuracy:   best,
		OptimizerState: optimState,
	}, nil
}

// Run trains for the configured number of epochs, validating and
// checkpointing after each, then returns the test accuracy
func (c *Coordinator) Run(ctx context.Context) (testAccuracy float64, err error) {
	ctx, span := tracer.Start(ctx, "training.Run", trace.WithAttributes(
		attribute.Int("epochs", c.opts.Epochs),
		attribute.Int("epoch_offset", c.state.EpochOffset),
	))
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	c.logger.InfoWithFields("Run started", map[string]interface{}{
		"epochs":       c.opts.Epochs,
		"epoch_offset": c.state.EpochOffset,
		"step_offset":  c.state.StepOffset,
		"best":         c.state.BestAccuracy,
	})

	base := c.state.EpochOffset
	for epoch := 0; epoch < c.opts.Epochs; epoch++ {
		c.state.Epoch = epoch + base

		record, err := c.runEpoch(ctx)
		if err != nil {
			return 0, err
		}
		c.state.EpochOffset = c.state.Epoch + 1
		c.history = append(c.history, record)
		if c.opts.Observer != nil {
			c.opts.Observer.OnEpoch(record)
		}
	}

	c.phase = PhaseTesting
	testAccuracy, _, err = c.Evaluate(ctx, c.opts.Test, ModeTest)
	if err != nil {
		return 0, fmt.Errorf("test: %w", err)
	}

	c.phase = PhaseDone
	span.SetAttributes(attribute.Float64("test_accuracy", testAccuracy))
	c.logger.InfoWithFields("Run finished", map[string]interface{}{
		"test_accuracy": testAccuracy,
		"best":          c.state.BestAccuracy,
	})
	return testAccuracy, nil
}

// runEpoch trains, validates and checkpoints the epoch in c.state.Epoch
func (c *Coordinator) runEpoch(ctx context.Context) (record EpochRecord, err error) {
	started := time.Now()
	epoch := c.state.Epoch

	ctx, span := tracer.Start(ctx, "training.Epoch", trace.WithAttributes(attribute.Int("epoch", epoch)))
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	c.phase = PhaseTraining
	totals, err := c.TrainEpoch(ctx)
	if err != nil {
		return record, fmt.Errorf("train epoch %d: %w", epoch, err)
	}
	if totals.Samples == 0 {
		return record, errs.Newf(errs.ErrorTypeEmptySource, fmt.Sprintf("train epoch %d", epoch),
			"training source yielded no samples")
	}

	meanLoss, accuracy := totals.MeanLoss(), totals.Accuracy()
	if err := c.record("Train/Loss(epochs)", meanLoss, epoch); err != nil {
		return record, err
	}
	if err := c.record("Train/Accu(epochs)", accuracy, epoch); err != nil {
		return record, err
	}
	logger.LogEpoch(c.logger, epoch, meanLoss, accuracy, totals.Samples, time.Since(started))

	c.phase = PhaseValidating
	validAccuracy, isBest, err := c.Evaluate(ctx, c.opts.Validate, ModeValidate)
	if err != nil {
		return record, fmt.Errorf("validate epoch %d: %w", epoch, err)
	}

	c.phase = PhaseCheckpointing
	if err := c.MaybeCheckpoint(validAccuracy, isBest); err != nil {
		return record, fmt.Errorf("checkpoint epoch %d: %w", epoch, err)
	}

	span.SetAttributes(
		attribute.Float64("train_loss", meanLoss),
		attribute.Float64("valid_accuracy", validAccuracy),
		attribute.Bool("is_best", isBest),
	)

	return EpochRecord{
		Epoch:         epoch,
		TrainLoss:     meanLoss,
		TrainAccuracy: accuracy,
		ValidAccuracy: validAccuracy,
		IsBest:        isBest,
		Steps:         totals.Steps,
		Duration:      time.Since(started),
	}, nil
}

func (c *Coordinator) record(name string, value float64, index int) error {
	if err := c.opts.Sink.Record(name, value, index); err != nil {
		return errs.New(errs.ErrorTypeCollaborator, "record "+name, err)
	}
	return nil
}

// ResumeState builds the initial training state from a checkpoint
func ResumeState(ckpt *checkpoint.Checkpoint) TrainingState {
	return NewTrainingState(ckpt.EpochOffset, ckpt.StepOffset, ckpt.BestAccuracy)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
