package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zendrive/zendrive-monitor/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string `json:"event"`
	UserID    string `json:"user_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SendFailureWebhook notifies the configured webhook that alert delivery
// to a user is failing.
func SendFailureWebhook(webhookURL, userID, detail string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "alert_delivery_failed",
		UserID:    userID,
		Detail:    detail,
		Timestamp: timestampUTC(),
	})
}

// SendRecoveryWebhook notifies the configured webhook that alert delivery
// recovered after a failure streak.
func SendRecoveryWebhook(webhookURL, userID string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "alert_delivery_recovered",
		UserID:    userID,
		Timestamp: timestampUTC(),
	})
}

// SendStaleTargetWebhook notifies the configured webhook that a push token
// was purged after the provider reported it unregistered.
func SendStaleTargetWebhook(webhookURL, userID string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "stale_push_target",
		UserID:    userID,
		Message:   "Push token purged; the user must re-register their device.",
		Timestamp: timestampUTC(),
	})
}

// SendSessionErrorWebhook notifies the configured webhook of a capture
// session failure.
func SendSessionErrorWebhook(webhookURL, detail string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "capture_session_error",
		Detail:    detail,
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10000 * time.Millisecond}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
