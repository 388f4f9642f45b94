package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/micguard/micguard/internal/types"
	"github.com/micguard/micguard/internal/util"
)

// LogHoldLost records a lost hold in the notification log file.
func LogHoldLost(logPath, deviceAddress, reason string) error {
	return appendLogEntry(logPath, &types.HoldLogEntry{
		Timestamp:     timestampUTC(),
		Event:         "hold_lost",
		DeviceAddress: deviceAddress,
		Reason:        reason,
	})
}

// LogHoldRegained records a regained hold in the notification log file.
func LogHoldRegained(logPath, method, deviceAddress string, downtimeMs int64) error {
	return appendLogEntry(logPath, &types.HoldLogEntry{
		Timestamp:     timestampUTC(),
		Event:         "hold_regained",
		DeviceAddress: deviceAddress,
		HoldMethod:    method,
		DowntimeMs:    downtimeMs,
	})
}

// LogPermissionLost records a permission self-stop in the notification log file.
func LogPermissionLost(logPath, detail string) error {
	return appendLogEntry(logPath, &types.HoldLogEntry{
		Timestamp: timestampUTC(),
		Event:     "permission_lost",
		Reason:    detail,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &types.HoldLogEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *types.HoldLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return util.WrapError("write newline", err)
	}

	return nil
}
