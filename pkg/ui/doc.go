// Package ui prints terminal output for the CLI: styled messages, a
// per-step progress line, spinners and desktop notifications.
package ui
