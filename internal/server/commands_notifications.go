package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/micguard/micguard/internal/types"
)

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_webhook")
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "update":
			h.handleLogUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_log")
		case "view":
			h.handleViewHoldLog(send)
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_email")
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LogUpdateRequest) error {
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
		h.ctrl.UpdateGraphConfig()
		return nil
	})
}

// runTest dispatches to the appropriate test method on the controller.
func (h *CommandHandler) runTest(testType string) error {
	switch testType {
	case "webhook":
		return h.ctrl.TriggerTestWebhook()
	case "log":
		return h.ctrl.TriggerTestLog()
	case "email":
		return h.ctrl.TriggerTestEmail()
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
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

		result := types.WSTestResult{
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

		// Non-blocking send to prevent goroutine leak if channel is closed
		select {
		case send <- result:
		default:
			slog.Warn("failed to send test response: channel full or closed", "command", testCmd)
		}
	}()
}

// handleViewHoldLog reads and returns the notification log file contents.
func (h *CommandHandler) handleViewHoldLog(send chan<- any) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in hold log handler", "panic", r)
			}
		}()

		result := types.WSHoldLogResult{
			Type:    "hold_log_result",
			Success: true,
		}

		logPath := h.cfg.Snapshot().LogPath
		if logPath == "" {
			result.Success = false
			result.Error = "Log file path not configured"
		} else {
			entries, err := readHoldLog(logPath, MaxLogEntries)
			if err != nil {
				result.Success = false
				result.Error = err.Error()
			} else {
				result.Entries = entries
				result.Path = logPath
			}
		}

		select {
		case send <- result:
		default:
			slog.Warn("failed to send hold log response: channel full or closed")
		}
	}()
}

// readHoldLog reads the last N entries from the notification log file.
func readHoldLog(logPath string, maxEntries int) ([]types.HoldLogEntry, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return []types.HoldLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return []types.HoldLogEntry{}, nil
	}

	start := max(0, len(lines)-maxEntries)
	lines = lines[start:]

	entries := make([]types.HoldLogEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry types.HoldLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // Skip malformed entries
		}
		entries = append(entries, entry)
	}

	// Reverse to show newest first
	slices.Reverse(entries)

	return entries, nil
}
