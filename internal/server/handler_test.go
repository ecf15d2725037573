package server

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zendrive/zendrive-monitor/internal/config"
	"github.com/zendrive/zendrive-monitor/internal/notify"
	"github.com/zendrive/zendrive-monitor/internal/types"
)

func newTestHandler(t *testing.T) (*CommandHandler, *config.Config) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	h := NewCommandHandler(cfg, nil, notify.NewDeliveryNotifier(cfg), nil, nil, false)
	return h, cfg
}

func command(t *testing.T, cmdType string, data any) WSCommand {
	t.Helper()
	cmd := WSCommand{Type: cmdType}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = raw
	}
	return cmd
}

// recv waits for one message on the send channel.
func recv(t *testing.T, send <-chan any) any {
	t.Helper()
	select {
	case msg := <-send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func resultOf(t *testing.T, msg any) map[string]any {
	t.Helper()
	result, ok := msg.(map[string]any)
	require.True(t, ok, "expected command result map, got %T", msg)
	return result
}

func TestWebhookUpdatePersists(t *testing.T) {
	h, cfg := newTestHandler(t)
	send := make(chan any, 16)

	statusUpdated := false
	h.Handle(command(t, "notifications/webhook/update", map[string]string{
		"url": "https://hooks.example.com/x",
	}), send, func() { statusUpdated = true })

	result := resultOf(t, recv(t, send))
	assert.Equal(t, "notifications/webhook/update_result", result["type"])
	assert.Equal(t, true, result["success"])
	assert.True(t, statusUpdated, "every handled command refreshes status")
	assert.Equal(t, "https://hooks.example.com/x", cfg.Snapshot().WebhookURL)
}

func TestMeteringUpdateMergesWithCurrent(t *testing.T) {
	h, cfg := newTestHandler(t)
	send := make(chan any, 16)

	floor := -90.0
	raw, err := json.Marshal(MeteringUpdateRequest{FloorDB: &floor})
	require.NoError(t, err)
	h.Handle(WSCommand{Type: "metering/update", Data: raw}, send, func() {})

	result := resultOf(t, recv(t, send))
	require.Equal(t, true, result["success"])

	snap := cfg.Snapshot()
	assert.Equal(t, -90.0, snap.MeterFloorDB)
	assert.Equal(t, config.DefaultMeteringIntervalMs, snap.MeteringIntervalMs, "unspecified fields keep their value")
}

func TestMeteringUpdateRejectsOutOfRange(t *testing.T) {
	h, cfg := newTestHandler(t)
	send := make(chan any, 16)

	h.Handle(command(t, "metering/update", map[string]int{"interval_ms": 5}), send, func() {})

	result := resultOf(t, recv(t, send))
	assert.Equal(t, false, result["success"])
	verr, ok := result["error"].(*types.ValidationError)
	require.True(t, ok, "expected validation error, got %T", result["error"])
	require.NotEmpty(t, verr.Errors)
	assert.Equal(t, "interval_ms", verr.Errors[0].Field)

	assert.Equal(t, config.DefaultMeteringIntervalMs, cfg.Snapshot().MeteringIntervalMs)
}

func TestConfigGetReportsSecretsAsPresenceFlags(t *testing.T) {
	h, cfg := newTestHandler(t)
	send := make(chan any, 16)

	require.NoError(t, cfg.SetGraphConfig("tenant", "client", "hunter2", "from@example.com", "ops@example.com"))
	require.NoError(t, cfg.SetArtifactsConfig(config.ArtifactsConfig{AccessKey: "ak", SecretKey: "sk"}))

	h.Handle(command(t, "config/get", nil), send, func() {})

	result := resultOf(t, recv(t, send))
	require.Equal(t, true, result["success"])
	payload, ok := result["data"].(configPayload)
	require.True(t, ok)
	assert.True(t, payload.GraphHasSecret)
	assert.True(t, payload.ArtifactsHasKeys)
	assert.Equal(t, "tenant", payload.GraphTenantID)
}

func TestEventsViewWithoutLogger(t *testing.T) {
	h, _ := newTestHandler(t)
	send := make(chan any, 16)

	h.Handle(command(t, "events/view", nil), send, func() {})

	result, ok := recv(t, send).(wsEventsResult)
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestRegenerateAPIKey(t *testing.T) {
	h, cfg := newTestHandler(t)
	send := make(chan any, 16)

	h.Handle(command(t, "trigger/regenerate-key", nil), send, func() {})

	result := resultOf(t, recv(t, send))
	require.Equal(t, true, result["success"])
	data, ok := result["data"].(map[string]string)
	require.True(t, ok)
	assert.Len(t, data["api_key"], 32)
	assert.Equal(t, data["api_key"], cfg.GetAPIKey())
}

func TestUnknownCommandStillTriggersStatusUpdate(t *testing.T) {
	h, _ := newTestHandler(t)
	send := make(chan any, 16)

	statusUpdated := false
	h.Handle(command(t, "bogus/none", nil), send, func() { statusUpdated = true })

	assert.True(t, statusUpdated)
	assert.Empty(t, send, "unknown commands produce no response")
}
