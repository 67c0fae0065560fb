// Package metadata writes the summary.json file that describes a finished
// (or failed) training run: per-epoch records, final state, test accuracy and
// the host it ran on.
package metadata
