package logger

import "time"

// LogEpoch logs the end-of-epoch training aggregates
func LogEpoch(l Logger, epoch int, loss, accuracy float64, samples int, took time.Duration) {
	l.InfoWithFields("Epoch finished", map[string]interface{}{
		"epoch":    epoch,
		"loss":     loss,
		"accuracy": accuracy,
		"samples":  samples,
		"duration": took,
	})
}

// LogEvaluation logs the outcome of a validation or test pass
func LogEvaluation(l Logger, mode string, epoch int, accuracy, best float64, isBest bool) {
	l.InfoWithFields(mode+" finished", map[string]interface{}{
		"epoch":    epoch,
		"accuracy": accuracy,
		"best":     best,
		"is_best":  isBest,
	})
}

// LogCheckpoint logs a persisted checkpoint
func LogCheckpoint(l Logger, kind, path string, epoch int, accuracy float64) {
	l.InfoWithFields("Checkpoint saved", map[string]interface{}{
		"kind":     kind,
		"path":     path,
		"epoch":    epoch,
		"accuracy": accuracy,
	})
}

// LogCheckpointSkipped logs a save suppressed by the debug policy
func LogCheckpointSkipped(l Logger, epoch int, accuracy, threshold float64) {
	l.DebugWithFields("Checkpoint skipped", map[string]interface{}{
		"epoch":     epoch,
		"accuracy":  accuracy,
		"threshold": threshold,
		"reason":    "below debug save threshold",
	})
}
