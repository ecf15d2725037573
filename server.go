package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zendrive/zendrive-monitor/internal/capture"
	"github.com/zendrive/zendrive-monitor/internal/config"
	"github.com/zendrive/zendrive-monitor/internal/dispatch"
	"github.com/zendrive/zendrive-monitor/internal/eventlog"
	"github.com/zendrive/zendrive-monitor/internal/notify"
	"github.com/zendrive/zendrive-monitor/internal/server"
	"github.com/zendrive/zendrive-monitor/internal/store"
	"github.com/zendrive/zendrive-monitor/internal/types"
)

// statusInterval is how often the full status is pushed to WebSocket clients
// even without a state change.
const statusInterval = 3000 * time.Millisecond

// Server is the HTTP server exposing the trigger API, the driver account API
// and the WebSocket monitor interface.
type Server struct {
	config     *config.Config
	store      *store.Store
	session    *capture.Session
	dispatcher *dispatch.Dispatcher
	notifier   *notify.DeliveryNotifier
	events     *eventlog.Logger
	commands   *server.CommandHandler
	version    *VersionChecker

	captureAvailable bool

	mu      sync.Mutex
	clients map[chan any]struct{}
}

// NewServer returns a new Server wired to the given components. events may be nil.
func NewServer(cfg *config.Config, st *store.Store, session *capture.Session,
	dispatcher *dispatch.Dispatcher, notifier *notify.DeliveryNotifier,
	events *eventlog.Logger, uploader server.ArtifactClient, captureAvailable bool) *Server {
	return &Server{
		config:           cfg,
		store:            st,
		session:          session,
		dispatcher:       dispatcher,
		notifier:         notifier,
		events:           events,
		commands:         server.NewCommandHandler(cfg, session, notifier, events, uploader, captureAvailable),
		version:          NewVersionChecker(),
		captureAvailable: captureAvailable,
		clients:          make(map[chan any]struct{}),
	}
}

// BroadcastStatus pushes a capture status update to every connected client.
// Safe to call from the capture session goroutine; slow clients are skipped.
func (s *Server) BroadcastStatus(status types.CaptureStatus) {
	msg := types.WSStatusUpdate{Type: "status", Capture: status}

	s.mu.Lock()
	defer s.mu.Unlock()
	for send := range s.clients {
		select {
		case send <- msg:
		default:
		}
	}
}

func (s *Server) registerClient(send chan any) {
	s.mu.Lock()
	s.clients[send] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregisterClient(send chan any) {
	s.mu.Lock()
	delete(s.clients, send)
	s.mu.Unlock()
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop handles periodic status updates. Live level updates
// arrive via BroadcastStatus from the capture session.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	s.registerClient(send)

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	finish := func() {
		s.unregisterClient(send)
		close(send)
	}

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		finish()
		return
	}

	for {
		select {
		case <-done:
			finish()
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				finish()
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				finish()
				return
			}
		}
	}
}

// wsStatusResponse is the full status frame pushed to WebSocket clients.
type wsStatusResponse struct {
	Type             string              `json:"type"` // "status"
	CaptureAvailable bool                `json:"capture_available"`
	Capture          types.CaptureStatus `json:"capture"`
	AudioInput       string              `json:"audio_input"`
	Version          types.VersionInfo   `json:"version"`
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() wsStatusResponse {
	return wsStatusResponse{
		Type:             "status",
		CaptureAvailable: s.captureAvailable,
		Capture:          s.session.Status(),
		AudioInput:       s.config.AudioInput(),
		Version:          s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Driver account API
	mux.HandleFunc("POST /api/user", s.handleCreateUser)
	mux.HandleFunc("GET /api/user/{userId}", s.handleGetUser)
	mux.HandleFunc("PATCH /api/user/{userId}/token", s.handleUpdateToken)
	mux.HandleFunc("POST /api/user/{userId}/sleep", s.handleAddSleepRecord)
	mux.HandleFunc("GET /api/user/{userId}/sleep", s.handleListSleepRecords)

	// Alert trigger API (API key auth when a key is configured)
	mux.HandleFunc("POST /api/user/alert", s.apiKeyAuth(s.handleAlert))

	// Capture trigger API
	mux.HandleFunc("POST /api/capture/start", s.apiKeyAuth(s.handleCaptureStart))
	mux.HandleFunc("POST /api/capture/stop", s.apiKeyAuth(s.handleCaptureStop))

	// Monitoring
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. Trigger endpoints
// are open when no key is configured.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.GetAPIKey()
		if apiKey == "" {
			next(w, r)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
