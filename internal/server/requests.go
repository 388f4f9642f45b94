package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Controller settings ---

// ControllerUpdateRequest is the request body for controller/update.
// Pointer fields distinguish "leave unchanged" from explicit zero values.
type ControllerUpdateRequest struct {
	PreferredMethod *string `json:"preferred_method" validate:"omitempty,oneof=stream encoder"`
	ScreenOnDelayMs *int64  `json:"screen_on_delay_ms" validate:"omitempty,gte=0,lte=5000"`
	AlwaysActive    *bool   `json:"always_active"`
	AutoStart       *bool   `json:"auto_start"`
	DeviceAddress   *string `json:"device_address" validate:"omitempty,max=256"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}
