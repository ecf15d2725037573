package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/zendrive/zendrive-monitor/internal/dispatch"
	"github.com/zendrive/zendrive-monitor/internal/eventlog"
	"github.com/zendrive/zendrive-monitor/internal/store"
	"github.com/zendrive/zendrive-monitor/internal/types"
	"github.com/zendrive/zendrive-monitor/internal/util"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// userPayload is the JSON shape for user responses.
func userPayload(u store.User) types.User {
	return types.User{
		ID:        u.ID,
		Name:      u.Name,
		Gender:    u.Gender,
		Age:       u.Age,
		PushToken: u.PushToken,
		CreatedAt: u.CreatedAt.UnixMilli(),
	}
}

// CreateUserRequest is the request body for POST /api/user.
type CreateUserRequest struct {
	Name      string `json:"name"`
	Gender    string `json:"gender"`
	Age       *int   `json:"age"`
	PushToken string `json:"push_token"`
}

// handleCreateUser creates a new driver account.
// POST /api/user
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[CreateUserRequest](s, w, r)
	if !ok {
		return
	}

	if req.Name == "" || req.Gender == "" || req.Age == nil || req.PushToken == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required fields: name, gender, age, push_token")
		return
	}
	if !slices.Contains([]string{"Male", "Female", "Other"}, req.Gender) {
		s.writeError(w, http.StatusBadRequest, "Invalid gender specified")
		return
	}
	if *req.Age < 0 || *req.Age > 150 {
		s.writeError(w, http.StatusBadRequest, "Invalid age specified")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Name, req.Gender, *req.Age, req.PushToken)
	if err != nil {
		if errors.Is(err, store.ErrTokenInUse) {
			s.writeError(w, http.StatusConflict, "A user with this notification token already exists")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("user created", "user_id", user.ID)
	s.writeJSON(w, http.StatusCreated, userPayload(user))
}

// handleGetUser returns a single user by ID.
// GET /api/user/{userId}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, userPayload(user))
}

// UpdateTokenRequest is the request body for PATCH /api/user/{userId}/token.
type UpdateTokenRequest struct {
	PushToken string `json:"push_token"`
}

// handleUpdateToken replaces the push notification token for a user.
// PATCH /api/user/{userId}/token
func (s *Server) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	req, ok := parseJSON[UpdateTokenRequest](s, w, r)
	if !ok {
		return
	}
	if req.PushToken == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required field: push_token")
		return
	}

	err := s.store.UpdateToken(r.Context(), userID, req.PushToken)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	case errors.Is(err, store.ErrTokenInUse):
		s.writeError(w, http.StatusConflict, "This notification token is already in use by another user")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("push token updated", "user_id", userID)
	s.writeJSON(w, http.StatusOK, userPayload(user))
}

// AlertRequest is the request body for POST /api/user/alert.
type AlertRequest struct {
	UserID     string  `json:"user_id"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// handleAlert triggers a drowsiness alert for a user. Delivery failure is
// reported in the 200 body, never as an HTTP error; only caller mistakes
// (bad or unknown user ID) map to error statuses.
// POST /api/user/alert
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[AlertRequest](s, w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required field: user_id")
		return
	}

	s.logAlert(eventlog.AlertTriggered, req, types.AlertResult{}, "")

	res, err := s.dispatcher.Alert(r.Context(), req.UserID, req.Source, req.Confidence)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidUserID):
			s.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		case errors.Is(err, store.ErrUserNotFound):
			s.writeError(w, http.StatusNotFound, "User not found")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if res.Delivered {
		s.notifier.HandleDeliveryRecovered(req.UserID)
		s.logAlert(eventlog.AlertDelivered, req, res, "")
	} else {
		s.logAlert(eventlog.AlertFailed, req, res, string(res.Reason))
	}

	resp := types.AlertResponse{
		Message:          dispatch.Describe(res),
		NotificationSent: res.Delivered,
	}
	if !res.Delivered {
		resp.Reason = string(res.Reason)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logAlert(eventType eventlog.EventType, req AlertRequest, res types.AlertResult, errMsg string) {
	if s.events == nil {
		return
	}
	if err := s.events.LogAlert(eventType, req.UserID, req.Source, req.Confidence, string(res.Reason), errMsg); err != nil {
		slog.Warn("failed to log alert event", "error", err)
	}
}

// SleepRecordRequest is the request body for POST /api/user/{userId}/sleep.
type SleepRecordRequest struct {
	RemPercentage   float64 `json:"rem_sleep_percentage"`
	DeepPercentage  float64 `json:"deep_sleep_percentage"`
	LightPercentage float64 `json:"light_sleep_percentage"`
	TotalHours      float64 `json:"total_sleep_duration"`
	TimeOfSleep     string  `json:"time_of_sleep"`
}

// handleAddSleepRecord stores one night of sleep data for a user.
// POST /api/user/{userId}/sleep
func (s *Server) handleAddSleepRecord(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	req, ok := parseJSON[SleepRecordRequest](s, w, r)
	if !ok {
		return
	}

	when := time.Now().UTC()
	if req.TimeOfSleep != "" {
		parsed, err := time.Parse(time.RFC3339, req.TimeOfSleep)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "time_of_sleep must be RFC3339")
			return
		}
		when = parsed
	}

	rec, err := s.store.AddSleepRecord(r.Context(), store.SleepRecord{
		UserID:          userID,
		RemPercentage:   req.RemPercentage,
		DeepPercentage:  req.DeepPercentage,
		LightPercentage: req.LightPercentage,
		TotalHours:      req.TotalHours,
		TimeOfSleep:     when,
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, sleepPayload(rec))
}

// handleListSleepRecords returns all sleep records for a user, newest first.
// GET /api/user/{userId}/sleep
func (s *Server) handleListSleepRecords(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	records, err := s.store.ListSleepRecords(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := make([]types.SleepRecord, 0, len(records))
	for _, rec := range records {
		payload = append(payload, sleepPayload(rec))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func sleepPayload(rec store.SleepRecord) types.SleepRecord {
	return types.SleepRecord{
		ID:              rec.ID,
		UserID:          rec.UserID,
		RemPercentage:   rec.RemPercentage,
		DeepPercentage:  rec.DeepPercentage,
		LightPercentage: rec.LightPercentage,
		TotalHours:      rec.TotalHours,
		TimeOfSleep:     rec.TimeOfSleep.UTC().Format(time.RFC3339),
	}
}

// handleCaptureStart starts a recording session.
// POST /api/capture/start
func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if !s.captureAvailable {
		s.writeError(w, http.StatusServiceUnavailable, "Audio capture is not available on this host")
		return
	}
	if err := s.session.Start(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recording_started"})
}

// handleCaptureStop stops the active recording session. Stopping an idle
// session succeeds.
// POST /api/capture/stop
func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	// Stop is not cancelled with the request; teardown must finish once begun.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startedAt := s.session.Status().StartedAtMs

	if err := s.session.Stop(ctx); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := s.session.Status()
	resp := map[string]string{"status": "recording_stopped"}
	if status.ArtifactPath != "" {
		resp["artifact_path"] = status.ArtifactPath
		if startedAt > 0 {
			resp["duration"] = util.FormatDuration(time.Now().UnixMilli() - startedAt)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns the current capture status and version info.
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"capture_available": s.captureAvailable,
		"capture":           s.session.Status(),
		"version":           s.version.Info(),
	})
}

// handleHealth is a liveness probe.
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
