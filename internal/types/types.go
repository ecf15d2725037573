// Package types provides shared type definitions used across the monitor.
package types

import "time"

// SessionState represents the current state of a capture session.
type SessionState string

const (
	// SessionIdle indicates no recording is active.
	SessionIdle SessionState = "idle"
	// SessionRequestingPermission indicates a microphone permission request is pending.
	SessionRequestingPermission SessionState = "requesting_permission"
	// SessionRecording indicates audio is being captured and metered.
	SessionRecording SessionState = "recording"
	// SessionStopping indicates the recording is being finalized.
	SessionStopping SessionState = "stopping"
	// SessionError indicates the session failed and requires acknowledgment.
	SessionError SessionState = "error"
)

// CaptureStatus contains runtime status for the capture session.
type CaptureStatus struct {
	State         SessionState `json:"state"`                    // Current session state
	Level         float64      `json:"level"`                    // Normalized loudness in [0,1]
	LevelDB       float64      `json:"level_db"`                 // Last metered level in dBFS
	PeakDB        float64      `json:"peak_db,omitzero"`         // Held peak level in dBFS
	ArtifactPath  string       `json:"artifact_path,omitempty"`  // Finished recording location
	StatusMessage string       `json:"status_message,omitempty"` // User-visible condition
	Error         string       `json:"error,omitempty"`          // Error message while in error state
	StartedAtMs   int64        `json:"started_at,omitzero"`      // Unix ms of recording start
}

// AlertReason classifies the business-level outcome of an alert dispatch.
type AlertReason string

const (
	// ReasonDelivered indicates the push provider accepted the notification.
	ReasonDelivered AlertReason = "delivered"
	// ReasonNoTarget indicates the user exists but has no registered push token.
	ReasonNoTarget AlertReason = "no_target"
	// ReasonProviderFailure indicates the provider rejected or failed the send.
	ReasonProviderFailure AlertReason = "provider_failure"
)

// AlertResult is the outcome of a dispatch. Delivery failure is reported
// here, never as an HTTP-level error.
type AlertResult struct {
	Delivered   bool        `json:"delivered"`
	Reason      AlertReason `json:"reason"`
	StaleTarget bool        `json:"stale_target,omitempty"` // Provider reported the token as unregistered
}

// User is a driver account that can receive drowsiness alerts.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Gender    string `json:"gender"`
	Age       int    `json:"age"`
	PushToken string `json:"push_token,omitempty"`
	CreatedAt int64  `json:"created_at"` // Unix ms
}

// SleepRecord is one night of sleep data reported for a user.
type SleepRecord struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	RemPercentage   float64 `json:"rem_sleep_percentage"`
	DeepPercentage  float64 `json:"deep_sleep_percentage"`
	LightPercentage float64 `json:"light_sleep_percentage"`
	TotalHours      float64 `json:"total_sleep_duration"`
	TimeOfSleep     string  `json:"time_of_sleep"` // RFC3339
}

// Audio format constants for PCM capture.
const (
	// SampleRate is the audio sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of audio channels (stereo).
	Channels = 2
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// DefaultMeteringIntervalMs is how often the session samples the recording level.
	DefaultMeteringIntervalMs = 100
)
