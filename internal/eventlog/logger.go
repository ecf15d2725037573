// Package eventlog provides unified event logging for the monitor.
// It captures capture session events (started, stopped, error), alert
// events (triggered, delivered, failed, stale target) and artifact
// upload events in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Capture session event types.
const (
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
	SessionError   EventType = "session_error"
)

// Alert event types.
const (
	AlertTriggered EventType = "alert_triggered"
	AlertDelivered EventType = "alert_delivered"
	AlertFailed    EventType = "alert_failed"
	StaleTarget    EventType = "stale_target"
)

// Artifact event types.
const (
	UploadQueued     EventType = "upload_queued"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
	CleanupCompleted EventType = "cleanup_completed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains capture-session event details.
type SessionDetails struct {
	Input        string `json:"input,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AlertDetails contains alert event details.
type AlertDetails struct {
	UserID     string  `json:"user_id,omitempty"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ArtifactDetails contains artifact upload event details.
type ArtifactDetails struct {
	Filename     string `json:"filename,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	Error        string `json:"error,omitempty"`
	RetryCount   int    `json:"retry,omitempty"`
	FilesDeleted int    `json:"files_deleted,omitempty"`
	StorageType  string `json:"storage_type,omitempty"` // "local" or "s3" for cleanup
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "zendrive-monitor", "logs", fmt.Sprintf("%d", port), "monitor.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/zendrive-monitor", fmt.Sprintf("%d", port), "monitor.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a capture session event.
func (l *Logger) LogSession(eventType EventType, input, artifactPath string, sizeBytes int64, errMsg string) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details: &SessionDetails{
			Input:        input,
			ArtifactPath: artifactPath,
			SizeBytes:    sizeBytes,
			Error:        errMsg,
		},
	})
}

// LogAlert logs an alert event.
func (l *Logger) LogAlert(eventType EventType, userID, source string, confidence float64, reason, errMsg string) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details: &AlertDetails{
			UserID:     userID,
			Source:     source,
			Confidence: confidence,
			Reason:     reason,
			Error:      errMsg,
		},
	})
}

// LogArtifact logs an artifact upload event.
func (l *Logger) LogArtifact(eventType EventType, filename, s3Key, errMsg string, retryCount, filesDeleted int, storageType string) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details: &ArtifactDetails{
			Filename:     filename,
			S3Key:        s3Key,
			Error:        errMsg,
			RetryCount:   retryCount,
			FilesDeleted: filesDeleted,
			StorageType:  storageType,
		},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll      TypeFilter = ""
	FilterSession  TypeFilter = "session"
	FilterAlert    TypeFilter = "alert"
	FilterArtifact TypeFilter = "artifact"
)

// MaxReadLimit is the maximum number of events that can be read at once.
// This prevents denial-of-service via excessive memory allocation.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type.
// Events are returned in reverse chronological order (newest first).
// The n parameter is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	matches := func(t EventType) bool {
		switch filter {
		case FilterSession:
			return IsSessionEvent(t)
		case FilterAlert:
			return IsAlertEvent(t)
		case FilterArtifact:
			return IsArtifactEvent(t)
		default:
			return true
		}
	}

	// Parse events in reverse order (newest first), applying filter
	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) >= n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}

// IsSessionEvent returns true if the event type is a capture session event.
func IsSessionEvent(t EventType) bool {
	return t == SessionStarted || t == SessionStopped || t == SessionError
}

// IsAlertEvent returns true if the event type is an alert event.
func IsAlertEvent(t EventType) bool {
	return t == AlertTriggered || t == AlertDelivered || t == AlertFailed || t == StaleTarget
}

// IsArtifactEvent returns true if the event type is an artifact event.
func IsArtifactEvent(t EventType) bool {
	return t == UploadQueued || t == UploadCompleted || t == UploadFailed || t == CleanupCompleted
}
