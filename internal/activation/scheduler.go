// Package activation reacts to screen on/off signals and decides whether
// holding resumes immediately or after a configured delay, guaranteeing
// that only the most recent screen-on request is ever honored.
package activation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/holding"
	"github.com/micguard/micguard/internal/host"
	"github.com/micguard/micguard/internal/state"
	"github.com/micguard/micguard/internal/types"
)

// signalKind identifies a screen signal for debouncing.
type signalKind int

const (
	signalNone signalKind = iota
	signalScreenOn
	signalScreenOff
)

// Scheduler owns the delayed-activation state. A single mutex serializes
// screen signals, manual requests, and timer completion against each other,
// so a cancelled delay can never fire. It is safe for concurrent use.
type Scheduler struct {
	loop     *holding.Loop
	backHost host.Host
	store    *state.Store
	events   *eventlog.Logger

	// DelayFor returns the configured screen-on activation delay.
	// Must be set before use.
	DelayFor func() time.Duration
	// AlwaysActive reports the "always remain active" override, under
	// which screen-off signals are ignored entirely.
	AlwaysActive func() bool

	mu         sync.Mutex
	generation uint64
	seq        uint64
	pending    bool
	timer      *time.Timer
	debounce   time.Duration
	lastKind   signalKind
	lastAt     time.Time
}

// NewScheduler returns a Scheduler wired to the given loop.
func NewScheduler(loop *holding.Loop, backHost host.Host, store *state.Store,
	events *eventlog.Logger) *Scheduler {

	return &Scheduler{
		loop:         loop,
		backHost:     backHost,
		store:        store,
		events:       events,
		DelayFor:     func() time.Duration { return 0 },
		AlwaysActive: func() bool { return false },
		debounce:     types.ScreenSignalDebounce,
	}
}

// SetDebounce overrides the duplicate-signal suppression window for tests.
func (s *Scheduler) SetDebounce(d time.Duration) {
	s.mu.Lock()
	s.debounce = d
	s.mu.Unlock()
}

// debounced timestamps the signal at receipt and reports whether it is a
// near-duplicate of the previous one. Rapid identical screen signals are
// delivered twice by some platforms and must not be double-processed.
// Every accepted signal advances the sequence, so work still in flight for
// an older signal can detect that it was superseded.
func (s *Scheduler) debounced(kind signalKind) bool {
	now := time.Now()
	if kind == s.lastKind && now.Sub(s.lastAt) < s.debounce {
		return true
	}
	s.lastKind = kind
	s.lastAt = now
	s.seq++
	return false
}

// seqCurrent reports whether no newer signal was accepted since seq.
func (s *Scheduler) seqCurrent(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq == seq
}

// OnScreenOn handles a screen-on signal. It reports whether a delayed
// activation was scheduled; immediate activation and no-ops return false.
func (s *Scheduler) OnScreenOn() (scheduled bool) {
	s.mu.Lock()
	if s.debounced(signalScreenOn) {
		s.mu.Unlock()
		return false
	}
	seq := s.seq
	s.mu.Unlock()

	s.events.Log(eventlog.ScreenOn, "", nil)

	if s.loop.IsRunning() {
		// Already holding or working its way back through cooldown;
		// nothing to resume.
		return false
	}
	if s.loop.ManuallyStopped() {
		// An explicit stop outlives screen churn.
		return false
	}

	delay := s.DelayFor()
	if delay <= 0 || s.loop.SilenceRecent() {
		if !s.seqCurrent(seq) {
			return false
		}
		s.cancelPending("superseded by immediate activation")
		s.loop.Start(holding.StartOptions{})
		return false
	}

	// The host must agree to keep us alive before a delay may be
	// scheduled; without that guarantee the timer could outlive the
	// process. Degrade to immediate activation instead of failing.
	if err := s.backHost.RequestBackgroundEligibility("activation pending"); err != nil {
		if !s.seqCurrent(seq) {
			return false
		}
		slog.Warn("scheduling conflict, activating without delay", "error", err)
		s.cancelPending("scheduling conflict")
		s.loop.Start(holding.StartOptions{})
		return false
	}

	return s.schedule(delay, seq)
}

// schedule cancels any pending delay and starts a fresh window from zero.
// Latest event wins; timers are never stacked or averaged. A screen-on
// superseded while its eligibility request was in flight arms nothing.
func (s *Scheduler) schedule(delay time.Duration, seq uint64) bool {
	s.mu.Lock()
	if s.seq != seq {
		s.mu.Unlock()
		slog.Info("screen-on superseded before scheduling, dropping delay")
		return false
	}
	if s.pending && s.timer != nil {
		s.timer.Stop()
		s.events.Log(eventlog.DelayCancelled, "", &eventlog.DelayDetails{
			Generation: s.generation, Reason: "superseded by newer screen-on",
		})
	}
	s.generation++
	gen := s.generation
	s.pending = true

	// Publish before arming the timer so a short delay cannot clear the
	// pending flag ahead of it being set.
	s.store.SetDelayPending(delay)
	s.events.Log(eventlog.DelayScheduled, "", &eventlog.DelayDetails{
		DelayMs: delay.Milliseconds(), Generation: gen,
	})
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
	s.mu.Unlock()

	slog.Info("activation delay scheduled", "delay", delay, "generation", gen)
	return true
}

// fire runs on timer completion. Only the task holding the current
// generation may act; anything else was cancelled or superseded.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.pending || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	s.store.ClearDelayPending()
	s.events.Log(eventlog.DelayCompleted, "", &eventlog.DelayDetails{Generation: gen})
	slog.Info("activation delay completed", "generation", gen)

	// The eligibility notification went out when the delay was scheduled;
	// the resume must not repeat it.
	s.loop.Start(holding.StartOptions{ViaDelayCompletion: true})
}

// cancelPending invalidates any pending delay. The generation bump makes
// an in-flight timer callback a no-op even if it already left AfterFunc.
func (s *Scheduler) cancelPending(reason string) (cancelled bool) {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return false
	}
	s.pending = false
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	gen := s.generation
	s.mu.Unlock()

	s.store.ClearDelayPending()
	s.events.Log(eventlog.DelayCancelled, "", &eventlog.DelayDetails{
		Generation: gen, Reason: reason,
	})
	slog.Info("activation delay cancelled", "reason", reason)
	return true
}

// OnScreenOff handles a screen-off signal: it cancels any pending delay
// and pauses holding, unless the always-active override is set. Reports
// whether a pending delay was cancelled.
func (s *Scheduler) OnScreenOff() (cancelled bool) {
	s.mu.Lock()
	if s.debounced(signalScreenOff) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.events.Log(eventlog.ScreenOff, "", nil)

	if s.AlwaysActive() {
		return false
	}

	cancelled = s.cancelPending("screen off")

	if s.loop.IsRunning() {
		s.loop.Stop(holding.StopScreenOff)
	} else if cancelled {
		// The delay was the only live activity; record why we are parked.
		s.store.SetPausedByScreen()
	}
	return cancelled
}

// OnManualStart handles an explicit start/resume request: any pending
// delay is cancelled and activation is immediate. Reports whether a
// pending delay was superseded.
func (s *Scheduler) OnManualStart() (cancelled bool) {
	s.bumpSeq()
	cancelled = s.cancelPending("manual start")
	s.loop.Start(holding.StartOptions{UserInitiated: true})
	return cancelled
}

// OnManualStop handles an explicit stop request, cancelling any pending
// delay so a stale timer cannot resurrect the controller.
func (s *Scheduler) OnManualStop() {
	s.bumpSeq()
	s.cancelPending("manual stop")
	s.loop.Stop(holding.StopManual)
}

// bumpSeq supersedes any screen signal still being processed; manual
// commands always outrank them.
func (s *Scheduler) bumpSeq() {
	s.mu.Lock()
	s.seq++
	s.mu.Unlock()
}

// DelayPending reports whether an activation delay is currently pending.
func (s *Scheduler) DelayPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
