package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/controller"
	"github.com/micguard/micguard/internal/server"
	"github.com/micguard/micguard/internal/state"
	"github.com/micguard/micguard/internal/types"
)

// Server is an HTTP server that provides the JSON and WebSocket API for
// the hold controller.
type Server struct {
	config   *config.Config
	ctrl     *controller.Controller
	store    *state.Store
	commands *server.CommandHandler
	version  *VersionChecker
}

// NewServer returns a new Server configured with the provided config and controller.
func NewServer(cfg *config.Config, ctrl *controller.Controller, store *state.Store) *Server {
	return &Server{
		config:   cfg,
		ctrl:     ctrl,
		store:    store,
		commands: server.NewCommandHandler(cfg, ctrl),
		version:  NewVersionChecker(),
	}
}

// wsSettings carries environment details for clients.
type wsSettings struct {
	Platform string `json:"platform"`
}

// wsStatusResponse is the periodic status push sent to WebSocket clients.
type wsStatusResponse struct {
	Type     string            `json:"type"` // "status"
	Status   controller.Status `json:"status"`
	Settings wsSettings        `json:"settings"`
	Version  types.VersionInfo `json:"version"`
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

// runWebSocketEventLoop pushes status updates to the client: immediately on
// every published state change, on request, and on a slow keepalive tick.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	changes, cancel := s.store.Subscribe()
	defer cancel()

	statusTicker := time.NewTicker(3000 * time.Millisecond)
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

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case <-changes:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() wsStatusResponse {
	return wsStatusResponse{
		Type:     "status",
		Status:   s.ctrl.Status(),
		Settings: wsSettings{Platform: runtime.GOOS},
		Version:  s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.apiKeyAuth

	// Controller API routes
	mux.HandleFunc("/api/status", auth(s.handleAPIStatus))
	mux.HandleFunc("/api/config", auth(s.handleAPIConfig))
	mux.HandleFunc("/api/devices", auth(s.handleAPIDevices))
	mux.HandleFunc("/api/events", auth(s.handleAPIEvents))
	mux.HandleFunc("/api/version", auth(s.handleAPIVersion))
	mux.HandleFunc("/api/controller/start", auth(s.handleAPIControllerStart))
	mux.HandleFunc("/api/controller/stop", auth(s.handleAPIControllerStop))

	// Screen signal injection; the host bridge posts these on lifecycle
	// transitions.
	mux.HandleFunc("/api/screen/on", auth(s.handleAPIScreenOn))
	mux.HandleFunc("/api/screen/off", auth(s.handleAPIScreenOff))

	mux.HandleFunc("/ws", auth(s.handleWebSocket))

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

// apiKeyAuth returns middleware for API key authentication. An empty
// configured key leaves the API open; the controller normally binds to
// the loopback or a private segment.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			next(w, r)
			return
		}

		// WebSocket clients cannot set headers from browsers, so the key
		// is also accepted as a query parameter.
		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
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
