package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zendrive/zendrive-monitor/internal/push"
	"github.com/zendrive/zendrive-monitor/internal/store"
	"github.com/zendrive/zendrive-monitor/internal/types"
)

type fakeTargets struct {
	mu      sync.Mutex
	targets map[string]store.AlertTarget
	cleared []string
}

func (f *fakeTargets) AlertTarget(_ context.Context, userID string) (store.AlertTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[userID]
	if !ok {
		return store.AlertTarget{}, store.ErrUserNotFound
	}
	return t, nil
}

func (f *fakeTargets) ClearToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, token)
	return nil
}

type fakeSender struct {
	mu       sync.Mutex
	receipt  push.Receipt
	err      error
	messages []push.Message
}

func (f *fakeSender) Send(_ context.Context, msg push.Message) (push.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.receipt, f.err
}

func (f *fakeSender) sent() []push.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Message(nil), f.messages...)
}

func TestAlertDelivered(t *testing.T) {
	userID := uuid.NewString()
	targets := &fakeTargets{targets: map[string]store.AlertTarget{
		userID: {Name: "Alice", PushToken: "ExponentPushToken[abc]"},
	}}
	sender := &fakeSender{receipt: push.Receipt{Outcome: push.OutcomeDelivered}}

	d := New(targets, sender, Config{})
	res, err := d.Alert(context.Background(), userID, "pi-camera", 0.92)

	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, types.ReasonDelivered, res.Reason)
	assert.False(t, res.StaleTarget)

	msgs := sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ExponentPushToken[abc]", msgs[0].To)
	assert.Equal(t, "Drowsiness Alert!", msgs[0].Title)
	assert.Contains(t, msgs[0].Body, "for Alice")
	assert.Equal(t, "pi-camera", msgs[0].Data["triggerSource"])
	assert.Equal(t, 0.92, msgs[0].Data["confidenceScore"])
}

func TestAlertInvalidUserID(t *testing.T) {
	sender := &fakeSender{}
	d := New(&fakeTargets{}, sender, Config{})

	_, err := d.Alert(context.Background(), "not-a-uuid", "", 0)
	require.ErrorIs(t, err, ErrInvalidUserID)
	assert.Empty(t, sender.sent())
}

func TestAlertUserNotFound(t *testing.T) {
	d := New(&fakeTargets{}, &fakeSender{}, Config{})

	_, err := d.Alert(context.Background(), uuid.NewString(), "", 0)
	require.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestAlertNoTarget(t *testing.T) {
	userID := uuid.NewString()
	targets := &fakeTargets{targets: map[string]store.AlertTarget{
		userID: {Name: "Bob"},
	}}
	sender := &fakeSender{}

	d := New(targets, sender, Config{})
	res, err := d.Alert(context.Background(), userID, "", 0)

	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, types.ReasonNoTarget, res.Reason)
	assert.Empty(t, sender.sent(), "no token means no provider call")
}

func TestAlertProviderFailure(t *testing.T) {
	userID := uuid.NewString()
	targets := &fakeTargets{targets: map[string]store.AlertTarget{
		userID: {Name: "Carol", PushToken: "ExponentPushToken[c]"},
	}}
	sender := &fakeSender{
		receipt: push.Receipt{Outcome: push.OutcomeFailed, Detail: "rate limited"},
	}

	var failureDetail string
	var mu sync.Mutex
	d := New(targets, sender, Config{
		OnProviderFailure: func(_, detail string) {
			mu.Lock()
			failureDetail = detail
			mu.Unlock()
		},
	})

	res, err := d.Alert(context.Background(), userID, "", 0)
	require.NoError(t, err, "provider failure is a result, not an error")
	assert.False(t, res.Delivered)
	assert.Equal(t, types.ReasonProviderFailure, res.Reason)
	assert.False(t, res.StaleTarget)

	mu.Lock()
	assert.Equal(t, "rate limited", failureDetail)
	mu.Unlock()
}

func TestAlertTransportFailure(t *testing.T) {
	userID := uuid.NewString()
	targets := &fakeTargets{targets: map[string]store.AlertTarget{
		userID: {PushToken: "ExponentPushToken[t]"},
	}}
	sender := &fakeSender{
		receipt: push.Receipt{Outcome: push.OutcomeFailed, Detail: "dial timeout"},
		err:     errors.New("dial timeout"),
	}

	d := New(targets, sender, Config{})
	res, err := d.Alert(context.Background(), userID, "", 0)

	require.NoError(t, err)
	assert.Equal(t, types.ReasonProviderFailure, res.Reason)
}

func TestAlertStaleTargetPurged(t *testing.T) {
	userID := uuid.NewString()
	targets := &fakeTargets{targets: map[string]store.AlertTarget{
		userID: {Name: "Dave", PushToken: "ExponentPushToken[dead]"},
	}}
	sender := &fakeSender{
		receipt: push.Receipt{Outcome: push.OutcomeInvalidTarget, Detail: "not registered"},
	}

	var staleToken string
	var mu sync.Mutex
	d := New(targets, sender, Config{
		OnStaleTarget: func(_, token string) {
			mu.Lock()
			staleToken = token
			mu.Unlock()
		},
	})

	res, err := d.Alert(context.Background(), userID, "", 0)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, types.ReasonProviderFailure, res.Reason)
	assert.True(t, res.StaleTarget)

	d.Wait()
	targets.mu.Lock()
	assert.Equal(t, []string{"ExponentPushToken[dead]"}, targets.cleared)
	targets.mu.Unlock()

	mu.Lock()
	assert.Equal(t, "ExponentPushToken[dead]", staleToken)
	mu.Unlock()
}

func TestAlertNoDeduplication(t *testing.T) {
	userID := uuid.NewString()
	targets := &fakeTargets{targets: map[string]store.AlertTarget{
		userID: {PushToken: "ExponentPushToken[x]"},
	}}
	sender := &fakeSender{receipt: push.Receipt{Outcome: push.OutcomeDelivered}}

	d := New(targets, sender, Config{})
	for range 3 {
		res, err := d.Alert(context.Background(), userID, "pi", 0.8)
		require.NoError(t, err)
		assert.True(t, res.Delivered)
	}
	assert.Len(t, sender.sent(), 3, "every trigger produces a send")
}

func TestAlertConcurrentDispatch(t *testing.T) {
	userID := uuid.NewString()
	targets := &fakeTargets{targets: map[string]store.AlertTarget{
		userID: {PushToken: "ExponentPushToken[x]"},
	}}
	sender := &fakeSender{receipt: push.Receipt{Outcome: push.OutcomeDelivered}}

	d := New(targets, sender, Config{Timeout: time.Second})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Alert(context.Background(), userID, "pi", 0.5)
			assert.NoError(t, err)
			assert.True(t, res.Delivered)
		}()
	}
	wg.Wait()
	assert.Len(t, sender.sent(), 8)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Alert processed, notification sent.",
		Describe(types.AlertResult{Delivered: true, Reason: types.ReasonDelivered}))
	assert.Equal(t, "User found but has no notification token.",
		Describe(types.AlertResult{Reason: types.ReasonNoTarget}))
	assert.Contains(t,
		Describe(types.AlertResult{Reason: types.ReasonProviderFailure}),
		"failed to send")
}
