package util

import "log/slog"

// LogNotifyResult executes a notification function and logs the outcome.
// Errors are logged internally, so no error is returned to the caller.
func LogNotifyResult(fn func() error, notifyType string, enabled bool) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "type", notifyType, "error", err)
	} else if enabled {
		slog.Info("notification sent", "type", notifyType)
	}
}
