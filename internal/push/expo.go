// Package push delivers notifications through the Expo push service.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zendrive/zendrive-monitor/internal/util"
)

// DefaultEndpoint is the Expo push API endpoint.
const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// DefaultTimeout bounds a single push request.
const DefaultTimeout = 10000 * time.Millisecond

// errorDeviceNotRegistered is Expo's error code for a token that no longer
// maps to an installed app.
const errorDeviceNotRegistered = "DeviceNotRegistered"

// Outcome classifies a push attempt.
type Outcome string

const (
	// OutcomeDelivered indicates the provider accepted the notification.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeInvalidTarget indicates the provider reported the token as
	// no longer registered; the caller should discard it.
	OutcomeInvalidTarget Outcome = "invalid_target"
	// OutcomeFailed indicates the provider rejected the send or the
	// request itself failed.
	OutcomeFailed Outcome = "failed"
)

// Receipt is the provider-level result of one push attempt.
type Receipt struct {
	Outcome Outcome
	Detail  string // Provider error message, empty on success
}

// Message is one push notification.
type Message struct {
	To    string         `json:"to"`
	Sound string         `json:"sound,omitempty"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// expoResponse mirrors the single-message response shape of the Expo API.
type expoResponse struct {
	Data struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"`
		} `json:"details"`
	} `json:"data"`
}

// Client sends notifications to the Expo push API.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a push client. Empty endpoint selects the public Expo
// API; zero timeout selects DefaultTimeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Send delivers one notification and classifies the provider's answer.
// A non-nil error means the request itself failed; the receipt then
// carries OutcomeFailed.
func (c *Client) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.Sound == "" {
		msg.Sound = "default"
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return Receipt{Outcome: OutcomeFailed, Detail: err.Error()}, util.WrapError("marshal push message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return Receipt{Outcome: OutcomeFailed, Detail: err.Error()}, util.WrapError("build push request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Content-Type", "application/json")

	slog.Info("sending push notification", "token", msg.To)

	resp, err := c.http.Do(req)
	if err != nil {
		return Receipt{Outcome: OutcomeFailed, Detail: err.Error()}, util.WrapError("send push request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "push response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("push provider returned status %d", resp.StatusCode)
		return Receipt{Outcome: OutcomeFailed, Detail: err.Error()}, err
	}

	var parsed expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Receipt{Outcome: OutcomeFailed, Detail: err.Error()}, util.WrapError("decode push response", err)
	}

	if parsed.Data.Status == "error" {
		slog.Warn("push provider rejected notification",
			"token", msg.To, "error", parsed.Data.Details.Error, "message", parsed.Data.Message)
		if parsed.Data.Details.Error == errorDeviceNotRegistered {
			return Receipt{Outcome: OutcomeInvalidTarget, Detail: parsed.Data.Message}, nil
		}
		return Receipt{Outcome: OutcomeFailed, Detail: parsed.Data.Message}, nil
	}

	return Receipt{Outcome: OutcomeDelivered}, nil
}
