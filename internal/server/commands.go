package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/controller"
	"github.com/micguard/micguard/internal/types"
)

// MaxLogEntries is the maximum number of log/journal entries to return.
const MaxLogEntries = 100

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg  *config.Config
	ctrl *controller.Controller
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, ctrl *controller.Controller) *CommandHandler {
	return &CommandHandler{cfg: cfg, ctrl: ctrl}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "controller/start",
// "notifications/webhook/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
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
	case "controller":
		h.handleController(action, cmd, send)
	case "screen":
		h.handleScreen(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "devices":
		h.handleDevices(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
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

// handleController routes controller/* commands
func (h *CommandHandler) handleController(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.ctrl.Start()
		SendSuccess(send, cmd.Type, nil)
	case "stop":
		h.ctrl.Stop()
		SendSuccess(send, cmd.Type, nil)
	case "update":
		h.handleControllerUpdate(cmd, send)
	case "get":
		h.handleControllerGet(send)
	default:
		slog.Warn("unknown controller action", "action", action)
	}
}

// handleScreen routes screen/* commands. These inject the host's screen
// signals; the activation scheduler decides what to do with them.
func (h *CommandHandler) handleScreen(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "on":
		scheduled := h.ctrl.ScreenOn()
		SendSuccess(send, cmd.Type, map[string]bool{"delay_scheduled": scheduled})
	case "off":
		cancelled := h.ctrl.ScreenOff()
		SendSuccess(send, cmd.Type, map[string]bool{"delay_cancelled": cancelled})
	default:
		slog.Warn("unknown screen action", "action", action)
	}
}

// handleControllerUpdate processes a controller/update command.
func (h *CommandHandler) handleControllerUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ControllerUpdateRequest) error {
		if req.PreferredMethod != nil {
			method := types.HoldMethod(*req.PreferredMethod)
			if err := h.cfg.SetPreferredMethod(method); err != nil {
				return err
			}
			h.ctrl.SetPreferredMethod(method)
		}
		if req.ScreenOnDelayMs != nil {
			if err := h.cfg.SetScreenOnDelayMs(*req.ScreenOnDelayMs); err != nil {
				return err
			}
		}
		if req.AlwaysActive != nil {
			if err := h.cfg.SetAlwaysActive(*req.AlwaysActive); err != nil {
				return err
			}
		}
		if req.AutoStart != nil {
			if err := h.cfg.SetAutoStart(*req.AutoStart); err != nil {
				return err
			}
		}
		if req.DeviceAddress != nil {
			if err := h.cfg.SetDeviceAddress(*req.DeviceAddress); err != nil {
				return err
			}
		}
		return nil
	})
}

// handleControllerGet returns the controller settings.
func (h *CommandHandler) handleControllerGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, "controller/get", map[string]any{
		"preferred_method":   snap.PreferredMethod,
		"screen_on_delay_ms": snap.ScreenOnDelayMs,
		"always_active":      snap.AlwaysActive,
		"auto_start":         snap.AutoStart,
		"device_address":     snap.DeviceAddress,
	})
}

// handleDevices routes devices/* commands
func (h *CommandHandler) handleDevices(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		HandleActionAsync(cmd, send, func() (any, error) {
			devices, err := h.ctrl.Devices()
			if err != nil {
				return nil, err
			}
			return map[string]any{"devices": devices}, nil
		})
	default:
		slog.Warn("unknown devices action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		HandleActionAsync(cmd, send, func() (any, error) {
			return map[string]any{"events": h.ctrl.RecentEvents(MaxLogEntries)}, nil
		})
	default:
		slog.Warn("unknown events action", "action", action)
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

// handleConfigGet returns the full configuration with secrets masked.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	trySend(send, "config", types.WSConfigResponse{
		Type: "config",
		Config: map[string]any{
			"controller": map[string]any{
				"preferred_method":   snap.PreferredMethod,
				"screen_on_delay_ms": snap.ScreenOnDelayMs,
				"always_active":      snap.AlwaysActive,
				"auto_start":         snap.AutoStart,
				"device_address":     snap.DeviceAddress,
			},
			"notifications": map[string]any{
				"webhook": map[string]any{"url": snap.WebhookURL},
				"log":     map[string]any{"path": snap.LogPath},
				"email": map[string]any{
					"tenant_id":    snap.GraphTenantID,
					"client_id":    snap.GraphClientID,
					"has_secret":   snap.GraphClientSecret != "",
					"from_address": snap.GraphFromAddress,
					"recipients":   snap.GraphRecipients,
				},
			},
			"events": map[string]any{"path": snap.EventLogPath},
		},
	})
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
