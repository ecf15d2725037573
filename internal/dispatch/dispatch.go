// Package dispatch turns drowsiness detections into push notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zendrive/zendrive-monitor/internal/push"
	"github.com/zendrive/zendrive-monitor/internal/store"
	"github.com/zendrive/zendrive-monitor/internal/types"
)

// ErrInvalidUserID is returned when the user ID is not a valid UUID.
var ErrInvalidUserID = errors.New("invalid user ID format")

// alertTitle is the notification title for every drowsiness alert.
const alertTitle = "Drowsiness Alert!"

// TargetStore is the subset of the store the dispatcher needs.
type TargetStore interface {
	AlertTarget(ctx context.Context, userID string) (store.AlertTarget, error)
	ClearToken(ctx context.Context, token string) error
}

// Sender delivers one push notification.
type Sender interface {
	Send(ctx context.Context, msg push.Message) (push.Receipt, error)
}

// Config configures a Dispatcher.
type Config struct {
	// Timeout bounds one provider send. Zero selects push.DefaultTimeout.
	Timeout time.Duration
	// OnStaleTarget is called (off the dispatch path) after a token
	// reported as unregistered has been purged. Optional.
	OnStaleTarget func(userID, token string)
	// OnProviderFailure is called when the provider rejected or failed
	// a send. Optional.
	OnProviderFailure func(userID, detail string)
}

// Dispatcher resolves a user's push target and sends the alert.
// Every trigger produces a send; duplicate suppression is the caller's
// concern, not the dispatcher's.
type Dispatcher struct {
	store  TargetStore
	sender Sender
	cfg    Config

	wg sync.WaitGroup
}

// New creates a Dispatcher.
func New(targets TargetStore, sender Sender, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = push.DefaultTimeout
	}
	return &Dispatcher{store: targets, sender: sender, cfg: cfg}
}

// Alert dispatches a drowsiness alert to userID.
//
// The error return covers caller mistakes only: ErrInvalidUserID and
// store.ErrUserNotFound. Provider failures and missing tokens are
// reported in the result, never as an error.
func (d *Dispatcher) Alert(ctx context.Context, userID, source string, confidence float64) (types.AlertResult, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return types.AlertResult{}, ErrInvalidUserID
	}
	if source == "" {
		source = "unknown"
	}

	target, err := d.store.AlertTarget(ctx, userID)
	if err != nil {
		return types.AlertResult{}, err
	}

	if target.PushToken == "" {
		slog.Warn("alert target has no push token", "user_id", userID)
		return types.AlertResult{Delivered: false, Reason: types.ReasonNoTarget}, nil
	}

	body := "Possible drowsiness detected"
	if target.Name != "" {
		body += " for " + target.Name
	}
	body += ". Please consider taking a break."

	msg := push.Message{
		To:    target.PushToken,
		Title: alertTitle,
		Body:  body,
		Data: map[string]any{
			"alertType":       "drowsiness",
			"triggerSource":   source,
			"confidenceScore": confidence,
			"userId":          userID,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	receipt, err := d.sender.Send(sendCtx, msg)
	if err != nil {
		slog.Error("push send failed", "user_id", userID, "error", err)
	}

	switch receipt.Outcome {
	case push.OutcomeDelivered:
		slog.Info("alert delivered", "user_id", userID, "source", source)
		return types.AlertResult{Delivered: true, Reason: types.ReasonDelivered}, nil

	case push.OutcomeInvalidTarget:
		d.purgeStaleTarget(userID, target.PushToken)
		d.notifyFailure(userID, receipt.Detail)
		return types.AlertResult{Delivered: false, Reason: types.ReasonProviderFailure, StaleTarget: true}, nil

	default:
		d.notifyFailure(userID, receipt.Detail)
		return types.AlertResult{Delivered: false, Reason: types.ReasonProviderFailure}, nil
	}
}

// purgeStaleTarget removes a dead token in the background so the trigger
// response is not delayed by a second store round-trip.
func (d *Dispatcher) purgeStaleTarget(userID, token string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := d.store.ClearToken(ctx, token); err != nil {
			slog.Error("failed to purge stale push token", "user_id", userID, "error", err)
			return
		}
		slog.Info("purged stale push token", "user_id", userID)
		if d.cfg.OnStaleTarget != nil {
			d.cfg.OnStaleTarget(userID, token)
		}
	}()
}

func (d *Dispatcher) notifyFailure(userID, detail string) {
	if detail == "" {
		detail = "provider did not accept the notification"
	}
	if d.cfg.OnProviderFailure != nil {
		d.cfg.OnProviderFailure(userID, detail)
	}
}

// Wait blocks until background purges have finished. Used during shutdown
// and by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Describe returns a short human summary of a dispatch result.
func Describe(res types.AlertResult) string {
	switch {
	case res.Delivered:
		return "Alert processed, notification sent."
	case res.Reason == types.ReasonNoTarget:
		return "User found but has no notification token."
	default:
		return fmt.Sprintf("Alert processed, but notification failed to send (%s).", res.Reason)
	}
}
