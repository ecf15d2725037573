package notify

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zendrive/zendrive-monitor/internal/config"
)

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"},
		ParseRecipients("a@example.com, b@example.com"))
	assert.Equal(t, []string{"a@example.com"}, ParseRecipients(" a@example.com ,, "))
	assert.Nil(t, ParseRecipients(""))
}

func TestValidateConfigRequiresGUIDs(t *testing.T) {
	cfg := &GraphConfig{
		TenantID:     "not-a-guid",
		ClientID:     "12345678-1234-1234-1234-123456789abc",
		ClientSecret: "secret",
		FromAddress:  "alerts@example.com",
		Recipients:   "ops@example.com",
	}
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GUID")

	cfg.TenantID = "12345678-1234-1234-1234-123456789abc"
	require.NoError(t, ValidateConfig(cfg))
}

func TestSendWebhookSkipsWhenUnconfigured(t *testing.T) {
	require.NoError(t, SendFailureWebhook("", "user", "detail"))
}

func TestSendTestWebhookRequiresURL(t *testing.T) {
	require.Error(t, SendTestWebhook(""))
}

func TestSendFailureWebhookPayload(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	var payload WebhookPayload
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/monitor",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	require.NoError(t, SendFailureWebhook("https://hooks.example.com/monitor", "user-1", "rate limited"))
	assert.Equal(t, "alert_delivery_failed", payload.Event)
	assert.Equal(t, "user-1", payload.UserID)
	assert.Equal(t, "rate limited", payload.Detail)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestSendWebhookRejectsErrorStatus(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/monitor",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	err := SendStaleTargetWebhook("https://hooks.example.com/monitor", "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLogEntriesAreJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "monitor.log")

	require.NoError(t, LogDeliveryFailure(logPath, "user-1", "timeout"))
	require.NoError(t, LogStaleTarget(logPath, "user-1"))
	require.NoError(t, WriteTestLog(logPath))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entries []MonitorLogEntry
	for line := range splitLines(string(data)) {
		var e MonitorLogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 3)
	assert.Equal(t, "alert_delivery_failed", entries[0].Event)
	assert.Equal(t, "timeout", entries[0].Detail)
	assert.Equal(t, "stale_push_target", entries[1].Event)
	assert.Equal(t, "test", entries[2].Event)
}

func splitLines(s string) func(func(string) bool) {
	return func(yield func(string) bool) {
		start := 0
		for i := range len(s) {
			if s[i] == '\n' {
				if i > start && !yield(s[start:i]) {
					return
				}
				start = i + 1
			}
		}
	}
}

func countLogEntries(t *testing.T, logPath, event string) int {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	count := 0
	for line := range splitLines(string(data)) {
		var e MonitorLogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		if e.Event == event {
			count++
		}
	}
	return count
}

func TestFailureStreakSuppression(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "monitor.log")

	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewDeliveryNotifier(cfg)

	// Repeated failures in one streak notify once.
	n.HandleProviderFailure("user-1", "timeout")
	n.HandleProviderFailure("user-1", "timeout")
	n.HandleProviderFailure("user-1", "timeout")

	require.Eventually(t, func() bool {
		return countLogEntries(t, logPath, "alert_delivery_failed") == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, countLogEntries(t, logPath, "alert_delivery_failed"))

	// Recovery notifies the channels that reported the failure and resets.
	n.HandleDeliveryRecovered("user-1")
	require.Eventually(t, func() bool {
		return countLogEntries(t, logPath, "alert_delivery_recovered") == 1
	}, time.Second, 10*time.Millisecond)

	n.HandleProviderFailure("user-1", "timeout again")
	require.Eventually(t, func() bool {
		return countLogEntries(t, logPath, "alert_delivery_failed") == 2
	}, time.Second, 10*time.Millisecond)
}

func TestStaleTargetAlwaysNotifies(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "monitor.log")

	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewDeliveryNotifier(cfg)
	n.HandleStaleTarget("user-1")
	n.HandleStaleTarget("user-2")

	require.Eventually(t, func() bool {
		return countLogEntries(t, logPath, "stale_push_target") == 2
	}, time.Second, 10*time.Millisecond)
}
