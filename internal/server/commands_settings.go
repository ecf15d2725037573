package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/zendrive/zendrive-monitor/internal/artifact"
	"github.com/zendrive/zendrive-monitor/internal/audio"
	"github.com/zendrive/zendrive-monitor/internal/capture"
	"github.com/zendrive/zendrive-monitor/internal/config"
)

// --- Capture handlers ---

// handleCaptureStart processes a capture/start command.
func (h *CommandHandler) handleCaptureStart(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		if !h.captureAvailable {
			return nil, errors.New("audio capture is not available on this host")
		}
		if err := h.session.Start(context.Background()); err != nil {
			if errors.Is(err, capture.ErrStartAborted) {
				// Stopped before the recording began; not a caller error.
				return nil, nil
			}
			return nil, err
		}
		return nil, nil
	})
}

// handleCaptureStop processes a capture/stop command.
func (h *CommandHandler) handleCaptureStop(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		if err := h.session.Stop(context.Background()); err != nil {
			return nil, err
		}
		status := h.session.Status()
		if status.ArtifactPath != "" {
			return map[string]string{"artifact_path": status.ArtifactPath}, nil
		}
		return nil, nil
	})
}

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AudioUpdateRequest) error {
		if req.Input == "" {
			return nil // No change requested
		}

		slog.Info("audio/update: changing audio input", "input", req.Input)
		return h.cfg.SetAudioInput(req.Input)
	})
}

// handleAudioGet sends the current audio input and available devices.
func (h *CommandHandler) handleAudioGet(send chan<- any) {
	SendSuccess(send, "audio/get", map[string]any{
		"input":    h.cfg.AudioInput(),
		"devices":  audio.ListDevices(),
		"platform": runtime.GOOS,
	})
}

// --- Metering handlers ---

// handleMeteringUpdate processes a metering/update command. Changes take
// effect on the next recording.
func (h *CommandHandler) handleMeteringUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *MeteringUpdateRequest) error {
		snap := h.cfg.Snapshot()

		intervalMs := snap.MeteringIntervalMs
		floor := snap.MeterFloorDB
		ceiling := snap.MeterCeilingDB

		if req.IntervalMs != nil {
			intervalMs = *req.IntervalMs
		}
		if req.FloorDB != nil {
			floor = *req.FloorDB
		}
		if req.CeilingDB != nil {
			ceiling = *req.CeilingDB
		}

		return h.cfg.SetMeteringConfig(intervalMs, floor, ceiling)
	})
}

// --- Artifact handlers ---

// handleArtifactsUpdate processes an artifacts/update command.
func (h *CommandHandler) handleArtifactsUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ArtifactsUpdateRequest) error {
		snap := h.cfg.Snapshot()

		next := config.ArtifactsConfig{
			Enabled:       snap.ArtifactsEnabled,
			Endpoint:      snap.ArtifactsEndpoint,
			Region:        snap.ArtifactsRegion,
			Bucket:        snap.ArtifactsBucket,
			Prefix:        snap.ArtifactsPrefix,
			AccessKey:     snap.ArtifactsAccessKey,
			SecretKey:     snap.ArtifactsSecretKey,
			RetentionDays: snap.ArtifactsRetentionDays,
		}

		if req.Enabled != nil {
			next.Enabled = *req.Enabled
		}
		if req.Endpoint != "" {
			next.Endpoint = req.Endpoint
		}
		if req.Region != "" {
			next.Region = req.Region
		}
		if req.Bucket != "" {
			next.Bucket = req.Bucket
		}
		if req.Prefix != "" {
			next.Prefix = req.Prefix
		}
		if req.AccessKey != "" {
			next.AccessKey = req.AccessKey
		}
		if req.SecretKey != "" {
			next.SecretKey = req.SecretKey
		}
		if req.RetentionDays != nil {
			next.RetentionDays = *req.RetentionDays
		}

		if err := h.cfg.SetArtifactsConfig(next); err != nil {
			return err
		}
		if h.uploader != nil {
			h.uploader.InvalidateClient()
		}
		return nil
	})
}

// handleTestS3 processes an artifacts/test-s3 command.
func (h *CommandHandler) handleTestS3(cmd WSCommand, send chan<- any) {
	var req S3TestRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		err := artifact.TestS3Connection(&artifact.S3Config{
			Endpoint:        req.Endpoint,
			Region:          req.Region,
			Bucket:          req.Bucket,
			AccessKeyID:     req.AccessKey,
			SecretAccessKey: req.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// --- Trigger API handlers ---

// handleRegenerateAPIKey processes a trigger/regenerate-key command.
func (h *CommandHandler) handleRegenerateAPIKey(send chan<- any) {
	HandleActionAsync(WSCommand{Type: "trigger/regenerate-key"}, send, func() (any, error) {
		newKey, err := config.GenerateAPIKey()
		if err != nil {
			return nil, err
		}

		if err := h.cfg.SetAPIKey(newKey); err != nil {
			return nil, err
		}

		slog.Info("API key regenerated")

		return map[string]string{"api_key": newKey}, nil
	})
}

// --- Config handlers ---

// configPayload is the config/get response body. Secrets are reported as
// presence flags, never echoed back.
type configPayload struct {
	AudioInput         string  `json:"audio_input"`
	RecordingsDir      string  `json:"recordings_dir"`
	MeteringIntervalMs int     `json:"metering_interval_ms"`
	MeterFloorDB       float64 `json:"meter_floor_db"`
	MeterCeilingDB     float64 `json:"meter_ceiling_db"`

	PushEndpoint  string `json:"push_endpoint,omitempty"`
	PushTimeoutMs int    `json:"push_timeout_ms"`

	WebhookURL       string `json:"webhook_url"`
	LogPath          string `json:"log_path"`
	GraphTenantID    string `json:"graph_tenant_id"`
	GraphClientID    string `json:"graph_client_id"`
	GraphFromAddress string `json:"graph_from_address"`
	GraphRecipients  string `json:"graph_recipients"`
	GraphHasSecret   bool   `json:"graph_has_secret"`

	ArtifactsEnabled       bool   `json:"artifacts_enabled"`
	ArtifactsEndpoint      string `json:"artifacts_endpoint"`
	ArtifactsRegion        string `json:"artifacts_region"`
	ArtifactsBucket        string `json:"artifacts_bucket"`
	ArtifactsPrefix        string `json:"artifacts_prefix"`
	ArtifactsHasKeys       bool   `json:"artifacts_has_keys"`
	ArtifactsRetentionDays int    `json:"artifacts_retention_days"`

	APIKey   string `json:"api_key"`
	Platform string `json:"platform"`
}

// handleConfigGet sends the current configuration to the client.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	snap := h.cfg.Snapshot()

	SendSuccess(send, "config/get", configPayload{
		AudioInput:         snap.AudioInput,
		RecordingsDir:      snap.RecordingsDir,
		MeteringIntervalMs: snap.MeteringIntervalMs,
		MeterFloorDB:       snap.MeterFloorDB,
		MeterCeilingDB:     snap.MeterCeilingDB,

		PushEndpoint:  snap.PushEndpoint,
		PushTimeoutMs: snap.PushTimeoutMs,

		WebhookURL:       snap.WebhookURL,
		LogPath:          snap.LogPath,
		GraphTenantID:    snap.GraphTenantID,
		GraphClientID:    snap.GraphClientID,
		GraphFromAddress: snap.GraphFromAddress,
		GraphRecipients:  snap.GraphRecipients,
		GraphHasSecret:   snap.GraphClientSecret != "",

		ArtifactsEnabled:       snap.ArtifactsEnabled,
		ArtifactsEndpoint:      snap.ArtifactsEndpoint,
		ArtifactsRegion:        snap.ArtifactsRegion,
		ArtifactsBucket:        snap.ArtifactsBucket,
		ArtifactsPrefix:        snap.ArtifactsPrefix,
		ArtifactsHasKeys:       snap.ArtifactsAccessKey != "" && snap.ArtifactsSecretKey != "",
		ArtifactsRetentionDays: snap.ArtifactsRetentionDays,

		APIKey:   snap.APIKey,
		Platform: runtime.GOOS,
	})
}
