package ui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgbdtrain/pkg/training"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Output()
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(prev)
		SetQuiet(false)
	})
	return &buf
}

func TestQuietSuppressesAllButErrors(t *testing.T) {
	buf := captureOutput(t)
	SetQuiet(true)

	PrintInfo("Run", "exp")
	PrintSuccess("done")
	PrintWarning("careful")
	PrintError("Failed", errors.New("boom"))
	PrintResult("test_accuracy", "0.75")

	out := buf.String()
	assert.NotContains(t, out, "exp")
	assert.NotContains(t, out, "done")
	assert.Contains(t, out, "Failed: boom")
	assert.Contains(t, out, "test_accuracy: 0.75")
}

func TestPrintInfo(t *testing.T) {
	buf := captureOutput(t)

	PrintInfo("Epochs", "10")
	assert.Contains(t, buf.String(), "Epochs:")
	assert.Contains(t, buf.String(), "10")
}

func TestProgressDisplayWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, "exp", 2, 3)
	start := time.Unix(0, 0)
	p.startTime = start
	p.now = func() time.Time { return start.Add(90 * time.Second) }

	for i := 0; i < 3; i++ {
		p.OnStep(training.PhaseTraining, 0, i, 0.5)
	}
	assert.Empty(t, buf.String(), "step updates are terminal only")

	p.OnEpoch(training.EpochRecord{Epoch: 0, TrainLoss: 0.25, TrainAccuracy: 0.5, ValidAccuracy: 0.8, IsBest: true, Duration: 2 * time.Second})
	p.Complete(0.75, 0.8)

	out := buf.String()
	assert.Contains(t, out, "epoch 0")
	assert.Contains(t, out, "[1/2]")
	assert.Contains(t, out, "loss 0.2500")
	assert.Contains(t, out, "val 80.00%")
	assert.Contains(t, out, "best")
	assert.Contains(t, out, "exp finished in 1m30s")
	assert.Contains(t, out, "test accuracy 75.00%")
	assert.False(t, strings.Contains(out, "\r"))
}

func TestProgressDisplayTracksPhases(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, "exp", 1, 4)

	p.OnStep(training.PhaseTraining, 0, 10, 0.9)
	p.OnStep(training.PhaseTraining, 0, 11, 0.7)
	assert.Equal(t, 2, p.stepInPhase)
	assert.Equal(t, 0.7, p.lastLoss)

	p.OnStep(training.PhaseValidating, 0, 0, 0)
	assert.Equal(t, 1, p.stepInPhase)
	assert.Equal(t, 0.7, p.lastLoss)
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "step 3", renderBar(3, 0))
	assert.Equal(t, "["+strings.Repeat(ProgressBar, 12)+strings.Repeat(ProgressEmpty, 12)+"] 5/10", renderBar(5, 10))
	assert.Equal(t, "["+strings.Repeat(ProgressBar, 24)+"] 4/4", renderBar(9, 4))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.5s"},
		{125 * time.Second, "2m5s"},
		{3*time.Hour + 7*time.Minute, "3h7m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestETA(t *testing.T) {
	p := NewProgressDisplay(&bytes.Buffer{}, "exp", 4, 0)
	assert.Equal(t, "eta calculating...", p.calculateETA())

	start := time.Unix(0, 0)
	p.startTime = start
	p.now = func() time.Time { return start.Add(2 * time.Minute) }
	p.epochsDone = 2
	assert.Equal(t, "eta 2m0s", p.calculateETA())
}

func TestSpinnerIsNoopOffTerminal(t *testing.T) {
	captureOutput(t)

	called := false
	prev := newSpinner
	newSpinner = func(w io.Writer) Spinner {
		called = true
		return noopSpinner{}
	}
	defer func() { newSpinner = prev }()

	s := StartSpinner("loading")
	s.UpdateSuffix("still loading")
	s.Stop()
	assert.False(t, called)
}

type recordingSender struct {
	title, message string
	err            error
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.title, r.message = title, message
	return r.err
}

func TestNotifier(t *testing.T) {
	sender := &recordingSender{}
	n := &Notifier{sender: sender, enabled: true, timeout: time.Second}

	require.NoError(t, n.RunFinished("exp", 0.8125))
	assert.Equal(t, "rgbdtrain", sender.title)
	assert.Equal(t, "exp finished: test accuracy 81.25%", sender.message)

	sender.err = errors.New("no daemon")
	assert.Error(t, n.RunFailed("exp", errors.New("disk full")))
	assert.Equal(t, "exp failed: disk full", sender.message)

	disabled := &Notifier{sender: sender, enabled: false}
	sender.message = ""
	require.NoError(t, disabled.RunFinished("exp", 1))
	assert.Empty(t, sender.message)
}

func TestSenderFor(t *testing.T) {
	assert.NotNil(t, senderFor("linux"))
	assert.NotNil(t, senderFor("darwin"))
	assert.Nil(t, senderFor("plan9"))
	assert.NoError(t, (&Notifier{enabled: true}).Notify("t", "m"))
}
