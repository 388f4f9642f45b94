// Package holding contains the control loop that keeps a validated capture
// route open and politely re-acquires it after a competing recorder takes
// the microphone.
package holding

import (
	"sync"
	"time"

	"github.com/micguard/micguard/internal/types"
	"github.com/micguard/micguard/internal/util"
)

// SilenceTracker owns the silence bookkeeping for one holding session:
// whether the platform silenced us, when, and the current re-check backoff.
// It is the single writer target for silencing notifications; everything
// else reads snapshots. It is safe for concurrent use.
type SilenceTracker struct {
	mu         sync.Mutex
	silenced   bool
	silencedAt time.Time
	backoff    *util.Backoff
}

// NewSilenceTracker returns a tracker with the given backoff bounds.
func NewSilenceTracker(initial, maxDelay time.Duration) *SilenceTracker {
	return &SilenceTracker{
		backoff: util.NewBackoff(initial, maxDelay),
	}
}

// MarkSilenced records a silencing notification at now. Repeated
// notifications keep the original timestamp; the cooldown is measured from
// the first silencing of the period.
func (t *SilenceTracker) MarkSilenced(now time.Time) {
	t.mu.Lock()
	if !t.silenced {
		t.silenced = true
		t.silencedAt = now
	}
	t.mu.Unlock()
}

// State returns whether we are silenced and since when.
func (t *SilenceTracker) State() (silenced bool, since time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.silenced, t.silencedAt
}

// ResetForAcquisition clears the silence state and restores the initial
// backoff. Called whenever a fresh acquisition attempt begins.
func (t *SilenceTracker) ResetForAcquisition() {
	t.mu.Lock()
	t.silenced = false
	t.silencedAt = time.Time{}
	t.backoff.Reset()
	t.mu.Unlock()
}

// NextBackoff returns the current backoff delay and doubles it, capped at
// the configured maximum.
func (t *SilenceTracker) NextBackoff() time.Duration {
	return t.backoff.Next()
}

// RecentAt reports whether a silencing within maxAge of now is still in
// effect. A stale silence state must not block resumption indefinitely.
func (t *SilenceTracker) RecentAt(now time.Time, maxAge time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.silenced && now.Sub(t.silencedAt) < maxAge
}

// Params are the timing constants of the holding loop, adjustable so tests
// can compress time.
type Params struct {
	CooldownFloor     time.Duration // minimum wait after silencing
	InitialBackoff    time.Duration // first competitor re-check delay
	MaxBackoff        time.Duration // competitor re-check delay cap
	FailureRetryDelay time.Duration // wait after both strategies fail
	StaleSilenceAge   time.Duration // silence older than this no longer blocks delayed activation
}

// DefaultParams returns the production timing constants.
func DefaultParams() Params {
	return Params{
		CooldownFloor:     types.SilenceCooldownFloor,
		InitialBackoff:    types.InitialBackoff,
		MaxBackoff:        types.MaxBackoff,
		FailureRetryDelay: types.FailureRetryDelay,
		StaleSilenceAge:   30 * time.Second,
	}
}
