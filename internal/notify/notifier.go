package notify

import (
	"fmt"
	"sync"

	"github.com/zendrive/zendrive-monitor/internal/config"
	"github.com/zendrive/zendrive-monitor/internal/util"
)

// DeliveryNotifier raises operational notifications about the alert
// pipeline and the capture session. Repeated failures within one streak
// produce a single notification per channel; recovery resets the streak.
type DeliveryNotifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which notifications have been sent for the current failure streak
	webhookSent bool
	emailSent   bool
	logSent     bool

	// Cached Graph client for email notifications
	graphClient *GraphClient
}

// NewDeliveryNotifier returns a DeliveryNotifier configured with the given config.
func NewDeliveryNotifier(cfg *config.Config) *DeliveryNotifier {
	return &DeliveryNotifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *DeliveryNotifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *DeliveryNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// HandleProviderFailure notifies once per failure streak that alert delivery
// to userID is failing.
func (n *DeliveryNotifier) HandleProviderFailure(userID, detail string) {
	cfg := n.cfg.Snapshot()

	n.trySend(&n.webhookSent, cfg.HasWebhook(), func() {
		util.LogNotifyResult(func() error { return SendFailureWebhook(cfg.WebhookURL, userID, detail) }, "Failure webhook")
	})
	n.trySend(&n.emailSent, cfg.HasGraph(), func() {
		util.LogNotifyResult(func() error { return n.sendFailureEmail(cfg, userID, detail) }, "Failure email")
	})
	n.trySend(&n.logSent, cfg.HasLogPath(), func() {
		util.LogNotifyResult(func() error { return LogDeliveryFailure(cfg.LogPath, userID, detail) }, "Failure log")
	})
}

// trySend sends a notification if the condition is met and not already sent.
func (n *DeliveryNotifier) trySend(sent *bool, condition bool, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		go sender()
	}
}

// HandleDeliveryRecovered ends the failure streak. Recovery notifications
// go only to the channels that reported the failure.
func (n *DeliveryNotifier) HandleDeliveryRecovered(userID string) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	sendWebhookRecovery := n.webhookSent
	sendLogRecovery := n.logSent
	n.webhookSent = false
	n.emailSent = false
	n.logSent = false
	n.mu.Unlock()

	if sendWebhookRecovery {
		go util.LogNotifyResult(func() error { return SendRecoveryWebhook(cfg.WebhookURL, userID) }, "Recovery webhook")
	}
	if sendLogRecovery {
		go util.LogNotifyResult(func() error { return LogDeliveryRecovered(cfg.LogPath, userID) }, "Recovery log")
	}
}

// HandleStaleTarget notifies that a user's push token was purged. Stale
// targets are not part of a failure streak; each one is reported.
func (n *DeliveryNotifier) HandleStaleTarget(userID string) {
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		go util.LogNotifyResult(func() error { return SendStaleTargetWebhook(cfg.WebhookURL, userID) }, "Stale target webhook")
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(func() error { return LogStaleTarget(cfg.LogPath, userID) }, "Stale target log")
	}
}

// HandleSessionError notifies that the capture session entered the error state.
func (n *DeliveryNotifier) HandleSessionError(detail string) {
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		go util.LogNotifyResult(func() error { return SendSessionErrorWebhook(cfg.WebhookURL, detail) }, "Session error webhook")
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(func() error { return LogSessionError(cfg.LogPath, detail) }, "Session error log")
	}
}

// Reset clears the notification state.
func (n *DeliveryNotifier) Reset() {
	n.mu.Lock()
	n.webhookSent = false
	n.emailSent = false
	n.logSent = false
	n.mu.Unlock()
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func BuildGraphConfig(cfg config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *DeliveryNotifier) sendFailureEmail(cfg config.Snapshot, userID, detail string) error {
	graphCfg := BuildGraphConfig(cfg)
	if !IsConfigured(graphCfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(graphCfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(graphCfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	subject := "[ALERT] Alert Delivery Failing - " + AppName
	body := fmt.Sprintf(
		"Drowsiness alerts are failing to reach a driver.\n\n"+
			"User:   %s\n"+
			"Detail: %s\n"+
			"Time:   %s\n\n"+
			"Failures are ongoing. Please check the push provider and the user's device registration.",
		userID, detail, util.HumanTime(),
	)

	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// UploadAbandonedParams describes an abandoned S3 upload.
type UploadAbandonedParams struct {
	Filename   string
	S3Key      string
	RetryCount int
	LastError  string
}

// NotifyUploadAbandoned raises notifications for an abandoned artifact upload.
func (n *DeliveryNotifier) NotifyUploadAbandoned(p UploadAbandonedParams) {
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		go util.LogNotifyResult(func() error {
			return sendWebhook(cfg.WebhookURL, &WebhookPayload{
				Event:     "artifact_upload_abandoned",
				Detail:    fmt.Sprintf("%s (key %s, %d retries): %s", p.Filename, p.S3Key, p.RetryCount, p.LastError),
				Timestamp: timestampUTC(),
			})
		}, "Upload abandoned webhook")
	}
	if cfg.HasGraph() {
		graphCfg := BuildGraphConfig(cfg)
		go util.LogNotifyResult(func() error { return sendUploadAbandonedEmail(graphCfg, p) }, "Upload abandoned email")
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(func() error {
			return appendLogEntry(cfg.LogPath, &MonitorLogEntry{
				Timestamp: timestampUTC(),
				Event:     "artifact_upload_abandoned",
				Detail:    p.Filename + ": " + p.LastError,
			})
		}, "Upload abandoned log")
	}
}
