package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
}

// --- Metering settings ---

// MeteringUpdateRequest is the request body for metering/update.
type MeteringUpdateRequest struct {
	IntervalMs *int     `json:"interval_ms" validate:"omitempty,gte=10,lte=5000"`
	FloorDB    *float64 `json:"floor_db" validate:"omitempty,gte=-120,lte=0"`
	CeilingDB  *float64 `json:"ceiling_db" validate:"omitempty,gte=-60,lte=0"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// --- Artifact upload settings ---

// ArtifactsUpdateRequest is the request body for artifacts/update.
type ArtifactsUpdateRequest struct {
	Enabled       *bool  `json:"enabled"`
	Endpoint      string `json:"endpoint" validate:"omitempty,max=2048"`
	Region        string `json:"region" validate:"omitempty,max=64"`
	Bucket        string `json:"bucket" validate:"omitempty,max=63"`
	Prefix        string `json:"prefix" validate:"omitempty,max=256"`
	AccessKey     string `json:"access_key" validate:"omitempty,max=128"`
	SecretKey     string `json:"secret_key" validate:"omitempty,max=256"`
	RetentionDays *int   `json:"retention_days" validate:"omitempty,gte=0,lte=3650"`
}

// S3TestRequest is the request body for artifacts/test-s3.
type S3TestRequest struct {
	Endpoint  string `json:"endpoint" validate:"omitempty,max=2048"`
	Region    string `json:"region" validate:"omitempty,max=64"`
	Bucket    string `json:"bucket" validate:"required,max=63"`
	AccessKey string `json:"access_key" validate:"required,max=128"`
	SecretKey string `json:"secret_key" validate:"required,max=256"`
}

// --- Event log ---

// EventsViewRequest is the request body for events/view.
type EventsViewRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=session alert artifact"`
}
