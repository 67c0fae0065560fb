package metadata

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgbdtrain/pkg/training"
)

func TestSummaryRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exp")

	s := New("exp", "LinearFusion")
	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.Host.GOARCH)
	assert.False(t, Exists(dir))

	history := []training.EpochRecord{
		{Epoch: 0, TrainLoss: 1.2, ValidAccuracy: 0.6, IsBest: true},
		{Epoch: 1, TrainLoss: 0.9, ValidAccuracy: 0.55},
		{Epoch: 2, TrainLoss: 0.7, ValidAccuracy: 0.7, IsBest: true},
		{Epoch: 3, TrainLoss: 0.6, ValidAccuracy: 0.65},
	}
	state := training.TrainingState{Epoch: 3, Step: 39, EpochOffset: 4, StepOffset: 40, BestAccuracy: 0.72}
	s.Finish(history, state, 0.72, nil)

	path, err := s.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)
	assert.True(t, Exists(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, "LinearFusion", loaded.Arch)
	assert.Len(t, loaded.Epochs, 4)
	assert.Equal(t, state, loaded.FinalState)
	require.NotNil(t, loaded.TestAccuracy)
	assert.Equal(t, 0.72, *loaded.TestAccuracy)
	assert.Equal(t, 2, loaded.BestEpoch())
	assert.Empty(t, loaded.Error)
}

func TestSummaryRecordsFailure(t *testing.T) {
	s := New("exp", "LinearFusion")
	s.Finish(nil, training.NewTrainingState(0, 0, 0), 0, errors.New("device lost"))

	assert.Nil(t, s.TestAccuracy)
	assert.Equal(t, "device lost", s.Error)
	assert.Equal(t, -1, s.BestEpoch())
}

func TestSummaryWithDivergedLoss(t *testing.T) {
	dir := t.TempDir()
	s := New("exp", "LinearFusion")
	history := []training.EpochRecord{
		{Epoch: 0, TrainLoss: math.NaN(), ValidAccuracy: 0.25, IsBest: true, Steps: 4},
		{Epoch: 1, TrainLoss: math.Inf(1), ValidAccuracy: 0.25, IsBest: true, Steps: 4},
	}
	s.Finish(history, training.NewTrainingState(2, 8, 0.25), 0.25, nil)

	_, err := s.Save(dir)
	require.NoError(t, err)

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Epochs, 2)
	assert.True(t, math.IsNaN(loaded.Epochs[0].TrainLoss))
	assert.True(t, math.IsInf(loaded.Epochs[1].TrainLoss, 1))
	assert.Equal(t, 0.25, loaded.Epochs[1].ValidAccuracy)
	assert.Equal(t, 4, loaded.Epochs[1].Steps)
}

func TestGetFormattedDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		took time.Duration
		want string
	}{
		{1234 * time.Microsecond, "1ms"},
		{90*time.Second + 400*time.Millisecond, "1m30s"},
		{2*time.Hour + 10*time.Minute + 20*time.Second, "2h10m0s"},
	}

	for _, tt := range tests {
		s := &RunSummary{StartedAt: start, FinishedAt: start.Add(tt.took)}
		assert.Equal(t, tt.want, s.GetFormattedDuration())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}
