// Package controller assembles the holding loop, the activation scheduler,
// and the notification channels into the single object the transport layer
// talks to.
package controller

import (
	"sync"
	"time"

	"github.com/micguard/micguard/internal/activation"
	"github.com/micguard/micguard/internal/capture"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/holding"
	"github.com/micguard/micguard/internal/host"
	"github.com/micguard/micguard/internal/notify"
	"github.com/micguard/micguard/internal/state"
	"github.com/micguard/micguard/internal/types"
)

// Status is the aggregate view served to clients.
type Status struct {
	state.Snapshot
	LastMethod      types.HoldMethod `json:"last_method,omitempty"`
	PreferredMethod types.HoldMethod `json:"preferred_method"`
	PermissionError string           `json:"permission_error,omitempty"`
	HoldUptime      string           `json:"hold_uptime,omitempty"`
}

// Controller owns the route-holding machinery. It is safe for concurrent use.
type Controller struct {
	cfg       *config.Config
	platform  capture.Platform
	store     *state.Store
	events    *eventlog.Logger
	loop      *holding.Loop
	scheduler *activation.Scheduler
	notifier  *notify.HoldNotifier

	mu        sync.Mutex
	preferred types.HoldMethod
	lostAt    time.Time
}

// New wires a Controller from its collaborators. The store and event log
// are shared with the transport layer for status pushes.
func New(cfg *config.Config, platform capture.Platform, backHost host.Host,
	store *state.Store, events *eventlog.Logger) *Controller {

	c := &Controller{
		cfg:       cfg,
		platform:  platform,
		store:     store,
		events:    events,
		notifier:  notify.NewHoldNotifier(cfg),
		preferred: cfg.Snapshot().PreferredMethod,
	}

	exec := capture.NewExecutor(platform)
	c.loop = holding.NewLoop(exec, platform, store, backHost, events, holding.DefaultParams())
	c.loop.Preferred = c.PreferredMethod
	c.loop.OnMethodSuccess = c.rememberMethod
	c.loop.OnHoldLost = c.onHoldLost
	c.loop.OnHoldAcquired = c.onHoldAcquired
	c.loop.OnPermissionLost = c.notifier.HandlePermissionLost

	c.scheduler = activation.NewScheduler(c.loop, backHost, store, events)
	c.scheduler.DelayFor = func() time.Duration {
		return time.Duration(cfg.Snapshot().ScreenOnDelayMs) * time.Millisecond
	}
	c.scheduler.AlwaysActive = func() bool { return cfg.Snapshot().AlwaysActive }

	return c
}

// PreferredMethod returns the strategy tried first on the next acquisition.
// A successful hold moves the preference onto whichever strategy worked.
func (c *Controller) PreferredMethod() types.HoldMethod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferred
}

// SetPreferredMethod overrides the runtime strategy preference.
func (c *Controller) SetPreferredMethod(method types.HoldMethod) {
	c.mu.Lock()
	c.preferred = method
	c.mu.Unlock()
}

func (c *Controller) rememberMethod(method types.HoldMethod) {
	c.mu.Lock()
	c.preferred = method
	c.mu.Unlock()
}

func (c *Controller) onHoldLost(deviceAddress string) {
	c.mu.Lock()
	c.lostAt = time.Now()
	c.mu.Unlock()
	c.notifier.HandleHoldLost(deviceAddress, "competing recorder active")
}

func (c *Controller) onHoldAcquired(method types.HoldMethod, deviceAddress string) {
	c.mu.Lock()
	lostAt := c.lostAt
	c.lostAt = time.Time{}
	c.mu.Unlock()

	if !lostAt.IsZero() {
		c.notifier.HandleHoldRegained(string(method), deviceAddress,
			time.Since(lostAt).Milliseconds())
	}
}

// Start begins holding, cancelling any pending activation delay.
func (c *Controller) Start() {
	c.scheduler.OnManualStart()
}

// Stop ends holding until the next explicit start.
func (c *Controller) Stop() {
	c.scheduler.OnManualStop()
}

// ScreenOn feeds a screen-on signal to the activation scheduler. It
// reports whether a delayed activation was scheduled.
func (c *Controller) ScreenOn() bool {
	return c.scheduler.OnScreenOn()
}

// ScreenOff feeds a screen-off signal to the activation scheduler. It
// reports whether a pending activation delay was cancelled.
func (c *Controller) ScreenOff() bool {
	return c.scheduler.OnScreenOff()
}

// IsRunning reports whether the holding loop is active.
func (c *Controller) IsRunning() bool {
	return c.loop.IsRunning()
}

// Status returns the aggregate status served to clients.
func (c *Controller) Status() Status {
	snap := c.store.Snapshot()

	uptime := ""
	if snap.State == types.StateHolding {
		uptime = time.Since(snap.LastChange).Truncate(time.Second).String()
	}

	st := Status{
		Snapshot:        snap,
		LastMethod:      c.loop.LastMethod(),
		PreferredMethod: c.PreferredMethod(),
		HoldUptime:      uptime,
	}
	if err := c.loop.PermissionError(); err != nil {
		st.PermissionError = err.Error()
	}
	return st
}

// Devices enumerates the capture devices the platform exposes.
func (c *Controller) Devices() ([]capture.Device, error) {
	return c.platform.Devices()
}

// RecentEvents returns the in-memory tail of the event journal.
func (c *Controller) RecentEvents(limit int) []eventlog.Event {
	return c.events.Recent(limit)
}

// UpdateGraphConfig invalidates the cached Graph client after credential
// changes so the next email uses the new configuration.
func (c *Controller) UpdateGraphConfig() {
	c.notifier.InvalidateGraphClient()
}

// TriggerTestWebhook sends a test webhook notification.
func (c *Controller) TriggerTestWebhook() error {
	return notify.SendTestWebhook(c.cfg.Snapshot().WebhookURL)
}

// TriggerTestLog writes a test entry to the notification log file.
func (c *Controller) TriggerTestLog() error {
	return notify.WriteTestLog(c.cfg.Snapshot().LogPath)
}

// TriggerTestEmail sends a test email via Microsoft Graph.
func (c *Controller) TriggerTestEmail() error {
	cfg := c.cfg.Snapshot()
	return notify.SendTestEmail(&notify.GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	})
}
