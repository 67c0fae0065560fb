// Package logger provides a structured logging interface for rgbdtrain.
//
// It wraps the zerolog library and provides:
//   - Leveled logging (Debug, Info, Warn, Error)
//   - Structured logging with fields
//   - Colored console output on stderr, optional JSON log file
//   - A global logger instance for easy access
//   - TestLogger, which captures messages for assertions in tests
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//
//	logger.Info("Training started")
//	logger.WithField("run", "rgbd").Info("Resuming from checkpoint")
//
// Training helpers such as LogEpoch and LogCheckpoint keep field names
// consistent across the coordinator and the CLI.
package logger
