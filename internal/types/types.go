// Package types provides shared type definitions used across the controller.
package types

import "time"

// ControllerState represents the current state of the holding controller.
type ControllerState string

const (
	// StateIdle indicates the controller has not been started.
	StateIdle ControllerState = "idle"
	// StateAcquiring indicates the controller is trying to open a capture route.
	StateAcquiring ControllerState = "acquiring"
	// StateHolding indicates a good route is open and being held.
	StateHolding ControllerState = "holding"
	// StateSilencedCooldown indicates another recorder silenced us and the
	// cooldown floor has not yet elapsed.
	StateSilencedCooldown ControllerState = "silenced_cooldown"
	// StateSilencedBackoff indicates a competing recorder is still active and
	// the controller is waiting with escalating delays.
	StateSilencedBackoff ControllerState = "silenced_backoff"
	// StateStopped indicates an explicit stop was requested.
	StateStopped ControllerState = "stopped"
)

// HoldMethod identifies which capture strategy is holding the route.
type HoldMethod string

const (
	// MethodStream is the low-level sample-streaming strategy.
	MethodStream HoldMethod = "stream"
	// MethodEncoder is the encoder-based compatibility strategy.
	MethodEncoder HoldMethod = "encoder"
)

// Valid reports whether m names a known hold method.
func (m HoldMethod) Valid() bool {
	return m == MethodStream || m == MethodEncoder
}

// Other returns the fallback method for m.
func (m HoldMethod) Other() HoldMethod {
	if m == MethodStream {
		return MethodEncoder
	}
	return MethodStream
}

// Timing constants for the holding loop. These are deliberately conservative
// so re-acquisition never contends audibly with a human placing a call.
const (
	// SilenceCooldownFloor is the minimum wait after being silenced before
	// checking whether the microphone can be re-acquired. Competing apps
	// often toggle silencing rapidly at the start of a call.
	SilenceCooldownFloor = 3000 * time.Millisecond
	// InitialBackoff is the first wait between competitor re-checks.
	InitialBackoff = 500 * time.Millisecond
	// MaxBackoff caps the escalating competitor re-check wait.
	MaxBackoff = 5000 * time.Millisecond
	// FailureRetryDelay is the wait after both strategies fail.
	FailureRetryDelay = 2000 * time.Millisecond
	// RouteSettleWait lets the platform finalize routing after a capture
	// session opens, before the route is inspected.
	RouteSettleWait = 100 * time.Millisecond
	// ScreenSignalDebounce suppresses duplicate screen on/off signals
	// arriving within this window of each other.
	ScreenSignalDebounce = 50 * time.Millisecond
	// MaxScreenOnDelay bounds the configurable screen-on activation delay.
	MaxScreenOnDelay = 5000 * time.Millisecond
)

// VersionInfo contains version information for the status surface.
type VersionInfo struct {
	Current     string `json:"current"`                // Current version (normalized, no v prefix)
	Latest      string `json:"latest,omitempty"`       // Latest available version
	UpdateAvail bool   `json:"update_available"`       // Whether an update is available
	Commit      string `json:"commit,omitempty"`       // Git commit hash
	BuildTime   string `json:"build_time,omitempty"`   // Human-readable build timestamp
}
