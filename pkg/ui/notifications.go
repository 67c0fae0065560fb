package ui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(ctx context.Context, title, message string) error
}

// commandSender runs a platform notification command
type commandSender struct {
	build func(title, message string) (string, []string)
}

func (c commandSender) Send(ctx context.Context, title, message string) error {
	name, args := c.build(title, message)
	return exec.CommandContext(ctx, name, args...).Run()
}

// senderFor returns the sender for goos, or nil where none is supported
func senderFor(goos string) NotificationSender {
	switch goos {
	case "linux":
		return commandSender{func(title, message string) (string, []string) {
			return "notify-send", []string{title, message}
		}}
	case "darwin":
		return commandSender{func(title, message string) (string, []string) {
			return "osascript", []string{"-e", fmt.Sprintf("display notification %q with title %q", message, title)}
		}}
	default:
		return nil
	}
}

// Notifier sends run notifications when enabled
type Notifier struct {
	sender  NotificationSender
	enabled bool
	timeout time.Duration
}

// NewNotifier creates a notifier for the current platform
func NewNotifier(enabled bool) *Notifier {
	return &Notifier{sender: senderFor(runtime.GOOS), enabled: enabled, timeout: 5 * time.Second}
}

// Notify sends a notification. Failures are returned but never fatal to callers.
func (n *Notifier) Notify(title, message string) error {
	if !n.enabled || n.sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	return n.sender.Send(ctx, title, message)
}

// RunFinished notifies that a run completed with the given test accuracy
func (n *Notifier) RunFinished(run string, testAccuracy float64) error {
	return n.Notify("rgbdtrain", fmt.Sprintf("%s finished: test accuracy %s", run, formatPercent(testAccuracy)))
}

// RunFailed notifies that a run stopped with an error
func (n *Notifier) RunFailed(run string, err error) error {
	return n.Notify("rgbdtrain", fmt.Sprintf("%s failed: %v", run, err))
}
