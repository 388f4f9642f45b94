package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"

	"github.com/micguard/micguard/internal/server"
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

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// handleAPIStatus returns the current controller status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleAPIConfig returns the configuration with secrets masked.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"platform": runtime.GOOS,
		"controller": map[string]any{
			"preferred_method":   cfg.PreferredMethod,
			"screen_on_delay_ms": cfg.ScreenOnDelayMs,
			"always_active":      cfg.AlwaysActive,
			"auto_start":         cfg.AutoStart,
			"device_address":     cfg.DeviceAddress,
		},
		"notifications": map[string]any{
			"webhook_url": cfg.WebhookURL,
			"log_path":    cfg.LogPath,
			"email": map[string]any{
				"tenant_id":    cfg.GraphTenantID,
				"client_id":    cfg.GraphClientID,
				"has_secret":   cfg.GraphClientSecret != "",
				"from_address": cfg.GraphFromAddress,
				"recipients":   cfg.GraphRecipients,
			},
		},
		"events": map[string]any{
			"path": cfg.EventLogPath,
		},
	})
}

// handleAPIDevices lists the capture devices visible to the platform.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	devices, err := s.ctrl.Devices()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleAPIEvents returns recent controller events, newest first.
// GET /api/events?limit=N
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := server.MaxLogEntries
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, server.MaxLogEntries)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.ctrl.RecentEvents(limit)})
}

// handleAPIVersion returns version and update information.
// GET /api/version
func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.version.Info())
}

// handleAPIControllerStart starts the hold controller.
// POST /api/controller/start
func (s *Server) handleAPIControllerStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.ctrl.Start()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAPIControllerStop stops the hold controller.
// POST /api/controller/stop
func (s *Server) handleAPIControllerStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.ctrl.Stop()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAPIScreenOn injects a screen-on lifecycle signal.
// POST /api/screen/on
func (s *Server) handleAPIScreenOn(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	scheduled := s.ctrl.ScreenOn()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "delay_scheduled": scheduled})
}

// handleAPIScreenOff injects a screen-off lifecycle signal.
// POST /api/screen/off
func (s *Server) handleAPIScreenOff(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	cancelled := s.ctrl.ScreenOff()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "delay_cancelled": cancelled})
}
