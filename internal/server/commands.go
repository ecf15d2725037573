package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/zendrive/zendrive-monitor/internal/capture"
	"github.com/zendrive/zendrive-monitor/internal/config"
	"github.com/zendrive/zendrive-monitor/internal/eventlog"
	"github.com/zendrive/zendrive-monitor/internal/notify"
)

// MaxEventEntries is the maximum number of event log entries returned by
// events/view.
const MaxEventEntries = 100

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ArtifactClient is the uploader surface the command layer needs.
type ArtifactClient interface {
	InvalidateClient()
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	session  *capture.Session
	notifier *notify.DeliveryNotifier
	events   *eventlog.Logger
	uploader ArtifactClient

	captureAvailable bool
}

// NewCommandHandler creates a new command handler. events and uploader may be nil.
func NewCommandHandler(cfg *config.Config, session *capture.Session, notifier *notify.DeliveryNotifier,
	events *eventlog.Logger, uploader ArtifactClient, captureAvailable bool) *CommandHandler {
	return &CommandHandler{
		cfg:              cfg,
		session:          session,
		notifier:         notifier,
		events:           events,
		uploader:         uploader,
		captureAvailable: captureAvailable,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "capture/start",
// "notifications/webhook/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	// Parse command into namespace and action
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "capture":
		h.handleCapture(action, cmd, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "metering":
		h.handleMetering(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "artifacts":
		h.handleArtifacts(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "trigger":
		h.handleTrigger(action, cmd, send)
	case "config":
		h.handleConfig(action, send)
	case "status":
		h.handleStatus(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleCapture routes capture/* commands
func (h *CommandHandler) handleCapture(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.handleCaptureStart(cmd, send)
	case "stop":
		h.handleCaptureStop(cmd, send)
	default:
		slog.Warn("unknown capture action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	case "get":
		h.handleAudioGet(send)
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleMetering routes metering/* commands
func (h *CommandHandler) handleMetering(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleMeteringUpdate(cmd, send)
	default:
		slog.Warn("unknown metering action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_webhook")
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "update":
			h.handleLogUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_log")
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_email")
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleArtifacts routes artifacts/* commands
func (h *CommandHandler) handleArtifacts(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleArtifactsUpdate(cmd, send)
	case "test-s3":
		h.handleTestS3(cmd, send)
	default:
		slog.Warn("unknown artifacts action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		h.handleViewEvents(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleTrigger routes trigger/* commands
func (h *CommandHandler) handleTrigger(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "regenerate-key":
		h.handleRegenerateAPIKey(send)
	default:
		slog.Warn("unknown trigger action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(send)
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, send chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
