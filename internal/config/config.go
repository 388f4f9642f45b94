// Package config provides application configuration management.
package config

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/micguard/micguard/internal/types"
	"github.com/micguard/micguard/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort         = 8080
	DefaultScreenOnDelayMs = 0
	DefaultEventLogPath    = "micguard-events.jsonl"
	DefaultPreferredMethod = types.MethodStream
	MaxScreenOnDelayMs     = int64(types.MaxScreenOnDelay / 1_000_000)
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port   int    `json:"port"`    // HTTP server port
	APIKey string `json:"api_key"` // API key for control endpoints (empty = open)
}

// ControllerConfig holds route-holding behavior settings.
type ControllerConfig struct {
	PreferredMethod types.HoldMethod `json:"preferred_method"`   // Strategy tried first on acquisition
	ScreenOnDelayMs int64            `json:"screen_on_delay_ms"` // Delay before resuming after screen on
	AlwaysActive    bool             `json:"always_active"`      // Keep holding across screen off
	AutoStart       bool             `json:"auto_start"`         // Begin holding at process start
	DeviceAddress   string           `json:"device_address"`     // Preferred capture device (empty = default)
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for hold-state alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for hold-state events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Log     LogConfig     `json:"log"`     // Log file settings
	Email   EmailConfig   `json:"email"`   // Email settings
}

// EventsConfig holds event journal settings.
type EventsConfig struct {
	Path string `json:"path"` // JSONL event journal path
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Controller    ControllerConfig    `json:"controller"`
	Notifications NotificationsConfig `json:"notifications"`
	Events        EventsConfig        `json:"events"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Controller: ControllerConfig{
			PreferredMethod: DefaultPreferredMethod,
			ScreenOnDelayMs: DefaultScreenOnDelayMs,
			AutoStart:       true,
		},
		Notifications: NotificationsConfig{},
		Events:        EventsConfig{Path: DefaultEventLogPath},
		filePath:      filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	if !c.Controller.PreferredMethod.Valid() {
		return fmt.Errorf("invalid preferred_method %q: must be %q or %q",
			c.Controller.PreferredMethod, types.MethodStream, types.MethodEncoder)
	}
	if c.Controller.ScreenOnDelayMs < 0 || c.Controller.ScreenOnDelayMs > MaxScreenOnDelayMs {
		return fmt.Errorf("invalid screen_on_delay_ms %d: must be 0-%d",
			c.Controller.ScreenOnDelayMs, MaxScreenOnDelayMs)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.Controller.PreferredMethod == "" {
		c.Controller.PreferredMethod = DefaultPreferredMethod
	}
	if c.Events.Path == "" {
		c.Events.Path = DefaultEventLogPath
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Setters for individual settings ---

// SetPreferredMethod updates the first-choice strategy and saves the configuration.
func (c *Config) SetPreferredMethod(method types.HoldMethod) error {
	if !method.Valid() {
		return fmt.Errorf("invalid preferred_method %q", method)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Controller.PreferredMethod = method
	return c.saveLocked()
}

// SetScreenOnDelayMs updates the screen-on activation delay and saves the configuration.
func (c *Config) SetScreenOnDelayMs(ms int64) error {
	if ms < 0 || ms > MaxScreenOnDelayMs {
		return fmt.Errorf("invalid screen_on_delay_ms %d: must be 0-%d", ms, MaxScreenOnDelayMs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Controller.ScreenOnDelayMs = ms
	return c.saveLocked()
}

// SetAlwaysActive updates the screen-off override and saves the configuration.
func (c *Config) SetAlwaysActive(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Controller.AlwaysActive = on
	return c.saveLocked()
}

// SetAutoStart updates the boot behavior and saves the configuration.
func (c *Config) SetAutoStart(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Controller.AutoStart = on
	return c.saveLocked()
}

// SetDeviceAddress updates the preferred capture device and saves the configuration.
func (c *Config) SetDeviceAddress(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Controller.DeviceAddress = address
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the notification log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	c.Notifications.Email.ClientSecret = clientSecret
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort int
	APIKey  string

	// Controller
	PreferredMethod types.HoldMethod
	ScreenOnDelayMs int64
	AlwaysActive    bool
	AutoStart       bool
	DeviceAddress   string

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string

	// Events
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort: c.System.Port,
		APIKey:  c.System.APIKey,

		PreferredMethod: c.Controller.PreferredMethod,
		ScreenOnDelayMs: c.Controller.ScreenOnDelayMs,
		AlwaysActive:    c.Controller.AlwaysActive,
		AutoStart:       c.Controller.AutoStart,
		DeviceAddress:   c.Controller.DeviceAddress,

		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,

		EventLogPath: c.Events.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasLogPath reports whether a notification log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
