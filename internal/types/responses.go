package types

// WSConfigResponse is sent in response to config/get.
// Contains the full configuration without runtime state.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}

// WSCommandResult is the standard response for WebSocket command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}

// WSStatusUpdate carries the live capture status pushed to connected clients.
type WSStatusUpdate struct {
	Type    string        `json:"type"` // "status"
	Capture CaptureStatus `json:"capture"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}

// AlertResponse is the HTTP response body for POST /api/user/alert.
type AlertResponse struct {
	Message          string `json:"message"`
	NotificationSent bool   `json:"notification_sent"`
	Reason           string `json:"reason,omitempty"`
}
