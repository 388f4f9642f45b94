package types

// GraphConfig holds Microsoft Graph credentials for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	FromAddress  string `json:"from_address"`
	Recipients   string `json:"recipients"`
}

// HoldLogEntry is a JSONL record written to the notification log file.
type HoldLogEntry struct {
	Timestamp     string `json:"timestamp"`
	Event         string `json:"event"`
	DeviceAddress string `json:"device_address,omitempty"`
	HoldMethod    string `json:"hold_method,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DowntimeMs    int64  `json:"downtime_ms,omitempty"`
}
