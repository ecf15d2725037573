package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zendrive/zendrive-monitor/internal/eventlog"
	"github.com/zendrive/zendrive-monitor/internal/notify"
	"github.com/zendrive/zendrive-monitor/internal/util"
)

// --- Notification settings handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LogUpdateRequest) error {
		if req.Path != "" {
			if err := util.ValidatePath("path", req.Path); err != nil {
				return err
			}
		}
		return h.cfg.SetLogPath(req.Path)
	})
}

// handleEmailUpdate processes a notifications/email/update command.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.SetGraphConfig(
			req.TenantID,
			req.ClientID,
			req.ClientSecret,
			req.FromAddress,
			req.Recipients,
		); err != nil {
			return err
		}
		h.notifier.InvalidateGraphClient()
		return nil
	})
}

// --- Notification test handlers ---

// runTest dispatches to the appropriate notification channel test.
func (h *CommandHandler) runTest(testType string) error {
	cfg := h.cfg.Snapshot()

	switch testType {
	case "webhook":
		if cfg.WebhookURL == "" {
			return errors.New("no webhook URL configured")
		}
		return notify.SendTestWebhook(cfg.WebhookURL)
	case "log":
		if cfg.LogPath == "" {
			return errors.New("no log path configured")
		}
		return notify.WriteTestLog(cfg.LogPath)
	case "email":
		graphCfg := notify.BuildGraphConfig(cfg)
		if !notify.IsConfigured(graphCfg) {
			return errors.New("email is not fully configured")
		}
		return notify.SendTestEmail(graphCfg)
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// wsTestResult is sent to the client after a notification test.
type wsTestResult struct {
	Type     string `json:"type"` // "test_result"
	TestType string `json:"test_type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// handleTest executes a notification test and sends the result to the client.
// testCmd should be in format "test_<type>" (e.g., "test_email", "test_webhook").
func (h *CommandHandler) handleTest(send chan<- any, testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "command", testCmd, "panic", r)
			}
		}()

		result := wsTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(testType); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		trySend(send, testCmd, result)
	}()
}

// --- Event log handlers ---

// wsEventsResult is sent to the client for events/view.
type wsEventsResult struct {
	Type    string           `json:"type"` // "events_result"
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Events  []eventlog.Event `json:"events,omitempty"`
	HasMore bool             `json:"has_more"`
}

// handleViewEvents reads and returns recent monitor events.
func (h *CommandHandler) handleViewEvents(cmd WSCommand, send chan<- any) {
	var req EventsViewRequest
	if len(cmd.Data) > 0 && !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = MaxEventEntries
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in events handler", "panic", r)
			}
		}()

		result := wsEventsResult{Type: "events_result", Success: true}

		if h.events == nil {
			result.Success = false
			result.Error = "event log is not available"
		} else {
			events, hasMore, err := eventlog.ReadLast(h.events.Path(), req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
			if err != nil {
				result.Success = false
				result.Error = err.Error()
			} else {
				result.Events = events
				result.HasMore = hasMore
			}
		}

		trySend(send, "events/view", result)
	}()
}
