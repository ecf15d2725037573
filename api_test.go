package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zendrive/zendrive-monitor/internal/capture"
	"github.com/zendrive/zendrive-monitor/internal/config"
	"github.com/zendrive/zendrive-monitor/internal/dispatch"
	"github.com/zendrive/zendrive-monitor/internal/notify"
	"github.com/zendrive/zendrive-monitor/internal/push"
	"github.com/zendrive/zendrive-monitor/internal/store"
	"github.com/zendrive/zendrive-monitor/internal/types"
)

// fakeSender records sent messages and returns a scripted receipt.
type fakeSender struct {
	mu      sync.Mutex
	receipt push.Receipt
	err     error
	sent    []push.Message
}

func (f *fakeSender) Send(_ context.Context, msg push.Message) (push.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.receipt, f.err
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type apiFixture struct {
	srv     *Server
	handler http.Handler
	store   *store.Store
	sender  *fakeSender
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())

	st, err := store.Open(filepath.Join(dir, "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sender := &fakeSender{receipt: push.Receipt{Outcome: push.OutcomeDelivered}}
	dispatcher := dispatch.New(st, sender, dispatch.Config{Timeout: time.Second})
	notifier := notify.NewDeliveryNotifier(cfg)

	session := capture.NewSession(
		capture.NewMicrophone("", dir),
		capture.StaticPermissions(capture.PermissionGranted),
		capture.Config{},
	)
	t.Cleanup(session.Close)

	srv := NewServer(cfg, st, session, dispatcher, notifier, nil, nil, false)
	t.Cleanup(srv.version.Stop)

	return &apiFixture{srv: srv, handler: srv.SetupRoutes(), store: st, sender: sender}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (f *apiFixture) createUser(t *testing.T, name string) types.User {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/user", map[string]any{
		"name": name, "gender": "Male", "age": 30,
		"push_token": "ExponentPushToken[" + name + "]",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeBody[types.User](t, rec)
}

func TestCreateUserValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/user", map[string]any{"name": "Alex"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user", map[string]any{
		"name": "Alex", "gender": "robot", "age": 30,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user", map[string]any{
		"name": "Alex", "gender": "Other", "age": -1,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Registration without a notification token is rejected outright.
	rec = f.do(t, http.MethodPost, "/api/user", map[string]any{
		"name": "Alex", "gender": "Male", "age": 30,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndGetUser(t *testing.T) {
	f := newAPIFixture(t)

	user := f.createUser(t, "Sam")
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "Sam", user.Name)

	rec := f.do(t, http.MethodGet, "/api/user/"+user.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[types.User](t, rec)
	assert.Equal(t, user.ID, got.ID)

	rec = f.do(t, http.MethodGet, "/api/user/00000000-0000-0000-0000-000000000000", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateUserDuplicateToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/user", map[string]any{
		"name": "A", "gender": "Female", "age": 25, "push_token": "ExponentPushToken[dup]",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user", map[string]any{
		"name": "B", "gender": "Female", "age": 26, "push_token": "ExponentPushToken[dup]",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateToken(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, "Sam")

	rec := f.do(t, http.MethodPatch, "/api/user/"+user.ID+"/token", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/user/00000000-0000-0000-0000-000000000000/token",
		map[string]any{"push_token": "ExponentPushToken[x]"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/user/"+user.ID+"/token",
		map[string]any{"push_token": "ExponentPushToken[x]"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[types.User](t, rec)
	assert.Equal(t, "ExponentPushToken[x]", got.PushToken)

	other := f.createUser(t, "Kim")
	rec = f.do(t, http.MethodPatch, "/api/user/"+other.ID+"/token",
		map[string]any{"push_token": "ExponentPushToken[x]"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAlertRejectsBadUserIDs(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/user/alert", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user/alert", map[string]any{"user_id": "not-a-uuid"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user/alert",
		map[string]any{"user_id": "123e4567-e89b-42d3-a456-426614174000"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Zero(t, f.sender.sentCount(), "no push may be attempted for rejected triggers")
}

func TestAlertUserWithoutToken(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, "Sam")
	require.NoError(t, f.store.UpdateToken(context.Background(), user.ID, ""))

	rec := f.do(t, http.MethodPost, "/api/user/alert", map[string]any{"user_id": user.ID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[types.AlertResponse](t, rec)
	assert.False(t, resp.NotificationSent)
	assert.Equal(t, string(types.ReasonNoTarget), resp.Reason)
	assert.Zero(t, f.sender.sentCount())
}

func TestAlertDelivered(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, "Sam")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/user/"+user.ID+"/token",
		map[string]any{"push_token": "ExponentPushToken[ok]"}, nil).Code)

	rec := f.do(t, http.MethodPost, "/api/user/alert", map[string]any{
		"user_id": user.ID, "source": "pi", "confidence": 0.92,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[types.AlertResponse](t, rec)
	assert.True(t, resp.NotificationSent)
	assert.Empty(t, resp.Reason)

	require.Equal(t, 1, f.sender.sentCount())
	msg := f.sender.sent[0]
	assert.Equal(t, "ExponentPushToken[ok]", msg.To)
	assert.Equal(t, "Drowsiness Alert!", msg.Title)
	assert.Contains(t, msg.Body, "Sam")
	assert.Equal(t, "pi", msg.Data["triggerSource"])
}

func TestAlertProviderFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.sender.receipt = push.Receipt{Outcome: push.OutcomeFailed, Detail: "MessageRateExceeded"}

	user := f.createUser(t, "Sam")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/user/"+user.ID+"/token",
		map[string]any{"push_token": "ExponentPushToken[ok]"}, nil).Code)

	rec := f.do(t, http.MethodPost, "/api/user/alert", map[string]any{"user_id": user.ID}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "provider failure is not an HTTP error")

	resp := decodeBody[types.AlertResponse](t, rec)
	assert.False(t, resp.NotificationSent)
	assert.Equal(t, string(types.ReasonProviderFailure), resp.Reason)
}

func TestAlertStaleTokenIsPurged(t *testing.T) {
	f := newAPIFixture(t)
	f.sender.receipt = push.Receipt{Outcome: push.OutcomeInvalidTarget, Detail: "DeviceNotRegistered"}

	user := f.createUser(t, "Sam")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/user/"+user.ID+"/token",
		map[string]any{"push_token": "ExponentPushToken[dead]"}, nil).Code)

	rec := f.do(t, http.MethodPost, "/api/user/alert", map[string]any{"user_id": user.ID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[types.AlertResponse](t, rec)
	assert.False(t, resp.NotificationSent)

	f.srv.dispatcher.Wait()
	got, err := f.store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PushToken, "stale token must be removed")
}

func TestAlertsAreNotDeduplicated(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, "Sam")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/user/"+user.ID+"/token",
		map[string]any{"push_token": "ExponentPushToken[ok]"}, nil).Code)

	for range 3 {
		rec := f.do(t, http.MethodPost, "/api/user/alert", map[string]any{"user_id": user.ID}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 3, f.sender.sentCount())
}

func TestAlertAPIKeyAuth(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.srv.config.SetAPIKey("secret-key"))

	rec := f.do(t, http.MethodPost, "/api/user/alert", map[string]any{"user_id": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user/alert", map[string]any{"user_id": "x"},
		map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "authorized request proceeds to validation")
}

func TestSleepRecords(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, "Sam")

	for i, ts := range []string{"2026-08-25T22:00:00Z", "2026-08-26T22:30:00Z"} {
		rec := f.do(t, http.MethodPost, "/api/user/"+user.ID+"/sleep", map[string]any{
			"rem_sleep_percentage":   20.0 + float64(i),
			"deep_sleep_percentage":  25.0,
			"light_sleep_percentage": 55.0,
			"total_sleep_duration":   7.5,
			"time_of_sleep":          ts,
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/user/"+user.ID+"/sleep", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeBody[[]types.SleepRecord](t, rec)
	require.Len(t, records, 2)
	assert.Equal(t, "2026-08-26T22:30:00Z", records[0].TimeOfSleep, "newest first")

	rec = f.do(t, http.MethodGet, "/api/user/123e4567-e89b-42d3-a456-426614174000/sleep", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user/"+user.ID+"/sleep", map[string]any{
		"time_of_sleep": "yesterday",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndStatus(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	capture, ok := body["capture"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(types.SessionIdle), capture["state"])
	assert.Equal(t, false, body["capture_available"])
}

func TestCaptureStartUnavailable(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/capture/start", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Stop is idempotent even with nothing recording.
	rec = f.do(t, http.MethodPost, "/api/capture/stop", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
