// Package notify delivers hold-state alerts over the configured channels:
// webhook, log file, and Microsoft Graph email.
package notify

import (
	"fmt"
	"sync"

	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/util"
)

// HoldNotifier manages notifications for hold-state transitions. A lost
// hold produces at most one notification per channel until the route is
// regained, so a flapping competitor cannot flood the channels.
type HoldNotifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which notifications have been sent for the current outage
	webhookSent bool
	emailSent   bool
	logSent     bool

	// Cached Graph client for email notifications
	graphClient *GraphClient
}

// NewHoldNotifier returns a HoldNotifier configured with the given config.
func NewHoldNotifier(cfg *config.Config) *HoldNotifier {
	return &HoldNotifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *HoldNotifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *HoldNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// HandleHoldLost triggers notifications when the held route is taken away.
func (n *HoldNotifier) HandleHoldLost(deviceAddress, reason string) {
	cfg := n.cfg.Snapshot()

	n.trySend(&n.webhookSent, cfg.HasWebhook(), func() {
		util.LogNotifyResult(
			func() error { return SendHoldLostWebhook(cfg.WebhookURL, deviceAddress, reason) },
			"Hold lost webhook",
		)
	})
	n.trySend(&n.emailSent, cfg.HasGraph(), func() {
		util.LogNotifyResult(
			func() error { return n.sendHoldLostEmail(buildGraphConfig(cfg), deviceAddress, reason) },
			"Hold lost email",
		)
	})
	n.trySend(&n.logSent, cfg.HasLogPath(), func() {
		util.LogNotifyResult(
			func() error { return LogHoldLost(cfg.LogPath, deviceAddress, reason) },
			"Hold lost log",
		)
	})
}

// trySend sends a notification if the condition is met and not already sent.
func (n *HoldNotifier) trySend(sent *bool, condition bool, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		go sender()
	}
}

// HandleHoldRegained triggers recovery notifications when the route is held again.
func (n *HoldNotifier) HandleHoldRegained(method, deviceAddress string, downtimeMs int64) {
	cfg := n.cfg.Snapshot()

	// Only send recovery notifications if the corresponding loss was reported
	n.mu.Lock()
	sendWebhook := n.webhookSent
	sendEmail := n.emailSent
	sendLog := n.logSent
	// Reset notification state for the next outage
	n.webhookSent = false
	n.emailSent = false
	n.logSent = false
	n.mu.Unlock()

	if sendWebhook {
		go util.LogNotifyResult(
			func() error { return SendHoldRegainedWebhook(cfg.WebhookURL, method, deviceAddress, downtimeMs) },
			"Hold regained webhook",
		)
	}
	if sendEmail {
		go util.LogNotifyResult(
			func() error {
				return n.sendHoldRegainedEmail(buildGraphConfig(cfg), method, deviceAddress, downtimeMs)
			},
			"Hold regained email",
		)
	}
	if sendLog {
		go util.LogNotifyResult(
			func() error { return LogHoldRegained(cfg.LogPath, method, deviceAddress, downtimeMs) },
			"Hold regained log",
		)
	}
}

// HandlePermissionLost reports that holding self-stopped because record
// permission went away. This is a one-shot alert on every channel; there
// is no recovery pair because the process cannot observe a re-grant.
func (n *HoldNotifier) HandlePermissionLost(detail string) {
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		go util.LogNotifyResult(
			func() error { return SendPermissionLostWebhook(cfg.WebhookURL, detail) },
			"Permission webhook",
		)
	}
	if cfg.HasGraph() {
		go util.LogNotifyResult(
			func() error { return n.sendPermissionLostEmail(buildGraphConfig(cfg), detail) },
			"Permission email",
		)
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(
			func() error { return LogPermissionLost(cfg.LogPath, detail) },
			"Permission log",
		)
	}
}

// Reset clears the notification state.
func (n *HoldNotifier) Reset() {
	n.mu.Lock()
	n.webhookSent = false
	n.emailSent = false
	n.logSent = false
	n.mu.Unlock()
}

// buildGraphConfig creates a GraphConfig from the config snapshot.
func buildGraphConfig(cfg config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// sendEmail handles the common email sending infrastructure.
func (n *HoldNotifier) sendEmail(cfg *GraphConfig, subject, body string) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}

func (n *HoldNotifier) sendHoldLostEmail(cfg *GraphConfig, deviceAddress, reason string) error {
	subject := "[ALERT] Microphone Hold Lost - " + AppName
	body := fmt.Sprintf(
		"The held microphone route was released to a competing recorder.\n\n"+
			"Device: %s\n"+
			"Reason: %s\n"+
			"Time:   %s\n\n"+
			"The controller will re-acquire once the competitor finishes.",
		deviceAddress, reason, util.HumanTime(),
	)
	return n.sendEmail(cfg, subject, body)
}

func (n *HoldNotifier) sendHoldRegainedEmail(cfg *GraphConfig, method, deviceAddress string, downtimeMs int64) error {
	subject := "[OK] Microphone Hold Regained - " + AppName
	body := fmt.Sprintf(
		"The microphone route is held again.\n\n"+
			"Device:   %s\n"+
			"Strategy: %s\n"+
			"Downtime: %s\n"+
			"Time:     %s",
		deviceAddress, method, util.FormatDuration(downtimeMs), util.HumanTime(),
	)
	return n.sendEmail(cfg, subject, body)
}

func (n *HoldNotifier) sendPermissionLostEmail(cfg *GraphConfig, detail string) error {
	subject := "[ALERT] Record Permission Lost - " + AppName
	body := fmt.Sprintf(
		"Holding stopped because record permission is no longer granted.\n\n"+
			"Detail: %s\n"+
			"Time:   %s\n\n"+
			"Re-grant the permission and start the controller again.",
		detail, util.HumanTime(),
	)
	return n.sendEmail(cfg, subject, body)
}
