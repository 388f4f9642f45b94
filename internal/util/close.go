package util

import (
	"io"
	"log/slog"
)

// SafeCloseFunc returns a close function suitable for defer that logs
// close errors instead of dropping them.
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("close failed", "resource", name, "error", err)
		}
	}
}

// LogNotifyResult executes a notification function and logs the result.
func LogNotifyResult(fn func() error, notifyType string) {
	err := fn()
	if err != nil {
		slog.Error("notification failed", "type", notifyType, "error", err)
	} else {
		slog.Info("notification sent", "type", notifyType)
	}
}
