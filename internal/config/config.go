// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/zendrive/zendrive-monitor/internal/types"
	"github.com/zendrive/zendrive-monitor/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort            = 8080
	DefaultRecordingsDir      = "recordings"
	DefaultStorePath          = "data/monitor.db"
	DefaultMeteringIntervalMs = types.DefaultMeteringIntervalMs
	DefaultMeterFloorDB       = -60.0
	DefaultMeterCeilingDB     = 0.0
	DefaultPushTimeoutMs      = 10000
	DefaultAlertSource        = "monitor"
	DefaultArtifactRetention  = 30 // days kept in object storage
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port"`        // HTTP server port
	APIKey     string `json:"api_key"`     // API key for trigger endpoints (empty = open)
}

// CaptureConfig holds audio capture and metering settings.
type CaptureConfig struct {
	Input              string  `json:"input"`                // Audio input device identifier
	RecordingsDir      string  `json:"recordings_dir"`       // Directory for finished recordings
	MeteringIntervalMs int     `json:"metering_interval_ms"` // Level sampling period
	MeterFloorDB       float64 `json:"meter_floor_db"`       // Level meter floor in dBFS
	MeterCeilingDB     float64 `json:"meter_ceiling_db"`     // Level meter ceiling in dBFS
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `json:"path"` // SQLite database path
}

// PushConfig holds push provider settings.
type PushConfig struct {
	Endpoint  string `json:"endpoint"`   // Push API endpoint (empty = public Expo API)
	TimeoutMs int    `json:"timeout_ms"` // Per-send timeout
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for operational alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for monitor events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all operational notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Log     LogConfig     `json:"log"`     // Log file settings
	Email   EmailConfig   `json:"email"`   // Email settings
}

// ArtifactsConfig holds S3 upload settings for finished recordings.
type ArtifactsConfig struct {
	Enabled       bool   `json:"enabled"`        // Upload finished recordings to S3
	Endpoint      string `json:"endpoint"`       // S3 endpoint URL
	Region        string `json:"region"`         // S3 region
	Bucket        string `json:"bucket"`         // Bucket name
	Prefix        string `json:"prefix"`         // Key prefix inside the bucket
	AccessKey     string `json:"access_key"`     // Access key ID
	SecretKey     string `json:"secret_key"`     // Secret access key
	RetentionDays int    `json:"retention_days"` // Days to keep local copies after upload
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Capture       CaptureConfig       `json:"capture"`
	Store         StoreConfig         `json:"store"`
	Push          PushConfig          `json:"push"`
	Notifications NotificationsConfig `json:"notifications"`
	Artifacts     ArtifactsConfig     `json:"artifacts"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Capture: CaptureConfig{
			RecordingsDir:      DefaultRecordingsDir,
			MeteringIntervalMs: DefaultMeteringIntervalMs,
			MeterFloorDB:       DefaultMeterFloorDB,
			MeterCeilingDB:     DefaultMeterCeilingDB,
		},
		Store:    StoreConfig{Path: DefaultStorePath},
		Push:     PushConfig{TimeoutMs: DefaultPushTimeoutMs},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	if c.Capture.MeteringIntervalMs < 10 {
		return fmt.Errorf("invalid metering_interval_ms %d: must be at least 10", c.Capture.MeteringIntervalMs)
	}
	if c.Capture.MeterCeilingDB <= c.Capture.MeterFloorDB {
		return fmt.Errorf("invalid meter range: ceiling %.1f must be above floor %.1f",
			c.Capture.MeterCeilingDB, c.Capture.MeterFloorDB)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.Capture.RecordingsDir == "" {
		c.Capture.RecordingsDir = DefaultRecordingsDir
	}
	if c.Capture.MeteringIntervalMs == 0 {
		c.Capture.MeteringIntervalMs = DefaultMeteringIntervalMs
	}
	if c.Capture.MeterFloorDB == 0 && c.Capture.MeterCeilingDB == 0 {
		c.Capture.MeterFloorDB = DefaultMeterFloorDB
		c.Capture.MeterCeilingDB = DefaultMeterCeilingDB
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Push.TimeoutMs == 0 {
		c.Push.TimeoutMs = DefaultPushTimeoutMs
	}
	if c.Artifacts.RetentionDays == 0 {
		c.Artifacts.RetentionDays = DefaultArtifactRetention
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// GetAPIKey returns the API key protecting the trigger endpoints.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.Input = input
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	c.Notifications.Email.ClientSecret = clientSecret
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// SetMeteringConfig updates the level metering settings and saves the
// configuration. Changes apply to the next capture session.
func (c *Config) SetMeteringConfig(intervalMs int, floorDB, ceilingDB float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.MeteringIntervalMs = intervalMs
	c.Capture.MeterFloorDB = floorDB
	c.Capture.MeterCeilingDB = ceilingDB
	if err := c.validate(); err != nil {
		return err
	}
	return c.saveLocked()
}

// SetArtifactsConfig updates all S3 artifact upload settings and saves.
func (c *Config) SetArtifactsConfig(a ArtifactsConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Artifacts = a
	return c.saveLocked()
}

// SetAPIKey updates the trigger API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort int
	APIKey  string

	// Capture
	AudioInput         string
	RecordingsDir      string
	MeteringIntervalMs int
	MeterFloorDB       float64
	MeterCeilingDB     float64

	// Store
	StorePath string

	// Push
	PushEndpoint  string
	PushTimeoutMs int

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string

	// Artifacts
	ArtifactsEnabled       bool
	ArtifactsEndpoint      string
	ArtifactsRegion        string
	ArtifactsBucket        string
	ArtifactsPrefix        string
	ArtifactsAccessKey     string
	ArtifactsSecretKey     string
	ArtifactsRetentionDays int
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort: c.System.Port,
		APIKey:  c.System.APIKey,

		AudioInput:         c.Capture.Input,
		RecordingsDir:      cmp.Or(c.Capture.RecordingsDir, DefaultRecordingsDir),
		MeteringIntervalMs: cmp.Or(c.Capture.MeteringIntervalMs, DefaultMeteringIntervalMs),
		MeterFloorDB:       cmp.Or(c.Capture.MeterFloorDB, DefaultMeterFloorDB),
		MeterCeilingDB:     c.Capture.MeterCeilingDB,

		StorePath: cmp.Or(c.Store.Path, DefaultStorePath),

		PushEndpoint:  c.Push.Endpoint,
		PushTimeoutMs: cmp.Or(c.Push.TimeoutMs, DefaultPushTimeoutMs),

		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,

		ArtifactsEnabled:       c.Artifacts.Enabled,
		ArtifactsEndpoint:      c.Artifacts.Endpoint,
		ArtifactsRegion:        c.Artifacts.Region,
		ArtifactsBucket:        c.Artifacts.Bucket,
		ArtifactsPrefix:        c.Artifacts.Prefix,
		ArtifactsAccessKey:     c.Artifacts.AccessKey,
		ArtifactsSecretKey:     c.Artifacts.SecretKey,
		ArtifactsRetentionDays: cmp.Or(c.Artifacts.RetentionDays, DefaultArtifactRetention),
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasArtifacts reports whether S3 artifact upload is configured and enabled.
func (s *Snapshot) HasArtifacts() bool {
	return s.ArtifactsEnabled && s.ArtifactsEndpoint != "" && s.ArtifactsBucket != "" &&
		s.ArtifactsAccessKey != "" && s.ArtifactsSecretKey != ""
}

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
