package types

// WSConfigResponse is sent in response to config/get.
// Contains the full configuration without runtime state.
type WSConfigResponse struct {
	Type   string      `json:"type"` // "config"
	Config interface{} `json:"config"`
}

// WSTestResult is sent in response to a notification test command.
type WSTestResult struct {
	Type     string `json:"type"` // "test_result"
	TestType string `json:"test_type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// WSHoldLogResult is sent in response to notifications/log/view.
type WSHoldLogResult struct {
	Type    string         `json:"type"` // "hold_log_result"
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Path    string         `json:"path,omitempty"`
	Entries []HoldLogEntry `json:"entries,omitempty"`
}

// WSCommandResult is the standard response for command execution.
// Used by slash-style commands (controller/start, screen/on, etc.)
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    interface{}      `json:"data,omitempty"`  // Optional response data
}
