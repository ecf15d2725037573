package util

import "log/slog"

// LogNotifyResult runs one notification channel send and logs the outcome.
// Channel failures are logged, never propagated; a broken webhook must not
// affect alert dispatch.
func LogNotifyResult(fn func() error, notifyType string) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "type", notifyType, "error", err)
		return
	}
	slog.Info("notification sent", "type", notifyType)
}
