// Package checkpoint persists and restores training snapshots.
//
// A checkpoint holds the resume offsets (one past the last completed epoch and
// step), the architecture name, opaque model and optimizer state, and the best
// validation accuracy seen so far. Files are JSON, written atomically through
// the storage package, and carry a BLAKE2b-256 digest that Load verifies.
//
// Each run keeps two directories:
//   - <log_root>/<run>/checkpoints       the most recent checkpoint
//   - <log_root>/<run>/checkpoints/best  the three most recent best checkpoints
//
// File names embed provenance, for example val_acc_of_0.75_at_epoch:3.ckpt.
// Saver.Persist evicts the oldest files of a directory once it holds more than
// the retention bound.
package checkpoint
