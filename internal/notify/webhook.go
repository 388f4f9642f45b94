package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/micguard/micguard/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event         string `json:"event"`
	DeviceAddress string `json:"device_address,omitempty"`
	HoldMethod    string `json:"hold_method,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DowntimeMs    int64  `json:"downtime_ms,omitempty"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// SendHoldLostWebhook notifies the configured webhook that the route was released.
func SendHoldLostWebhook(webhookURL, deviceAddress, reason string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:         "hold_lost",
		DeviceAddress: deviceAddress,
		Reason:        reason,
		Timestamp:     timestampUTC(),
	})
}

// SendHoldRegainedWebhook notifies the configured webhook that the route is held again.
func SendHoldRegainedWebhook(webhookURL, method, deviceAddress string, downtimeMs int64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:         "hold_regained",
		DeviceAddress: deviceAddress,
		HoldMethod:    method,
		DowntimeMs:    downtimeMs,
		Timestamp:     timestampUTC(),
	})
}

// SendPermissionLostWebhook notifies the configured webhook of a permission self-stop.
func SendPermissionLostWebhook(webhookURL, detail string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "permission_lost",
		Reason:    detail,
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10000 * time.Millisecond}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
