// Package host abstracts the long-running background process host that the
// controller reports status to and asks for permission to stay alive.
package host

import "log/slog"

// Host is the background-host collaborator. Implementations must be safe
// for concurrent use.
type Host interface {
	// RequestBackgroundEligibility asks the host to classify the process as
	// eligible to keep running in the background, showing statusText on its
	// persistent status surface. It must be called strictly before an
	// activation delay is scheduled. A failure is not fatal: holding still
	// functions, the status surface may simply be absent.
	RequestBackgroundEligibility(statusText string) error

	// NotifyStatusText updates the persistent status text.
	NotifyStatusText(text string)
}

// LogHost is a Host that records requests via slog and always grants
// eligibility. It is the default when no platform host is attached.
type LogHost struct{}

// RequestBackgroundEligibility implements Host.
func (LogHost) RequestBackgroundEligibility(statusText string) error {
	slog.Info("background eligibility requested", "status", statusText)
	return nil
}

// NotifyStatusText implements Host.
func (LogHost) NotifyStatusText(text string) {
	slog.Debug("status text updated", "status", text)
}
