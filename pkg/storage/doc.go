// Package storage provides file management for run artifacts.
//
// The storage package handles:
//   - Creating and managing artifact directories
//   - Atomic writes through a temporary file, fsync and rename
//   - Listing files in write order
//   - Bounded retention by pruning the oldest files
//
// Write order is tracked through modification times. A freshly written file
// is always stamped later than its siblings, so two writes inside the
// filesystem's timestamp resolution still list in the order they happened.
//
// Usage:
//
//	manager, err := storage.NewManager("runs/rgbd/checkpoints")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := manager.WriteBytes("latest.ckpt", data); err != nil {
//	    return err
//	}
//	removed, err := manager.Prune(".ckpt", 1)
package storage
