package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zendrive/zendrive-monitor/internal/util"
)

// MonitorLogEntry is one JSON-lines record in the notification log file.
type MonitorLogEntry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	UserID    string `json:"user_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// LogDeliveryFailure records a failed alert delivery.
func LogDeliveryFailure(logPath, userID, detail string) error {
	return appendLogEntry(logPath, &MonitorLogEntry{
		Timestamp: timestampUTC(),
		Event:     "alert_delivery_failed",
		UserID:    userID,
		Detail:    detail,
	})
}

// LogDeliveryRecovered records that alert delivery recovered.
func LogDeliveryRecovered(logPath, userID string) error {
	return appendLogEntry(logPath, &MonitorLogEntry{
		Timestamp: timestampUTC(),
		Event:     "alert_delivery_recovered",
		UserID:    userID,
	})
}

// LogStaleTarget records a purged push token.
func LogStaleTarget(logPath, userID string) error {
	return appendLogEntry(logPath, &MonitorLogEntry{
		Timestamp: timestampUTC(),
		Event:     "stale_push_target",
		UserID:    userID,
	})
}

// LogSessionError records a capture session failure.
func LogSessionError(logPath, detail string) error {
	return appendLogEntry(logPath, &MonitorLogEntry{
		Timestamp: timestampUTC(),
		Event:     "capture_session_error",
		Detail:    detail,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &MonitorLogEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *MonitorLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return util.WrapError("write newline", err)
	}

	return nil
}
