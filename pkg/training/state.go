package training

import (
	"encoding/json"
	"time"

	"rgbdtrain/internal/jsonfloat"
)

// TrainingState is the bookkeeping the coordinator owns. Epoch and Step are
// the absolute indices of the unit in progress (or last processed), -1 before
// any. The offsets are the indices to resume from.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	EpochOffset  int     `json:"epoch_offset"`
	StepOffset   int     `json:"step_offset"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// NewTrainingState returns a state that resumes from the given offsets
func NewTrainingState(epochOffset, stepOffset int, bestAccuracy float64) TrainingState {
	return TrainingState{
		Epoch:        -1,
		Step:         -1,
		EpochOffset:  epochOffset,
		StepOffset:   stepOffset,
		BestAccuracy: bestAccuracy,
	}
}

// DebugPolicy groups the behaviours of a development run. The zero value
// disables all of them.
type DebugPolicy struct {
	// MaxBatchesPerEpoch caps every pass over a source when > 0
	MaxBatchesPerEpoch int
	// MinAccuracyToSave suppresses checkpoints below this validation accuracy
	MinAccuracyToSave float64
	// ZeroBestOnSave stores 0 as the best accuracy in written checkpoints
	ZeroBestOnSave bool
}

// DefaultDebugPolicy returns the policy used by debug runs
func DefaultDebugPolicy() DebugPolicy {
	return DebugPolicy{
		MaxBatchesPerEpoch: 5,
		MinAccuracyToSave:  0.8,
		ZeroBestOnSave:     true,
	}
}

// Phase is the coordinator's position in the run state machine
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTraining
	PhaseValidating
	PhaseCheckpointing
	PhaseTesting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTraining:
		return "training"
	case PhaseValidating:
		return "validating"
	case PhaseCheckpointing:
		return "checkpointing"
	case PhaseTesting:
		return "testing"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// EpochTotals aggregates one training pass
type EpochTotals struct {
	Loss    float64
	Correct int
	Samples int
	Steps   int
}

// MeanLoss returns the sample-weighted mean loss of the pass
func (t EpochTotals) MeanLoss() float64 {
	return t.Loss / float64(t.Samples)
}

// Accuracy returns the fraction of correctly classified training samples
func (t EpochTotals) Accuracy() float64 {
	return float64(t.Correct) / float64(t.Samples)
}

// EpochRecord summarizes one completed epoch of Run
type EpochRecord struct {
	Epoch         int           `json:"epoch"`
	TrainLoss     float64       `json:"train_loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	ValidAccuracy float64       `json:"valid_accuracy"`
	IsBest        bool          `json:"is_best"`
	Steps         int           `json:"steps"`
	Duration      time.Duration `json:"duration"`
}

// MarshalJSON keeps a diverged (NaN or infinite) training loss encodable
func (r EpochRecord) MarshalJSON() ([]byte, error) {
	type plain EpochRecord
	return json.Marshal(struct {
		plain
		TrainLoss jsonfloat.Value `json:"train_loss"`
	}{plain(r), jsonfloat.Value(r.TrainLoss)})
}

func (r *EpochRecord) UnmarshalJSON(data []byte) error {
	type plain EpochRecord
	aux := struct {
		*plain
		TrainLoss jsonfloat.Value `json:"train_loss"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.TrainLoss = float64(aux.TrainLoss)
	return nil
}
