// Package dataset provides RGB-D sample collections and a batching loader.
//
// Samples come from a deterministic synthetic generator or from JSON-lines
// files with one {"rgb": [...], "depth": [...], "label": n} object per line.
// Split carves a dataset into contiguous train, validation and test views, and
// Loader turns a view into a training.DataSource.
package dataset
