package holding

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/micguard/micguard/internal/capture"
	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/host"
	"github.com/micguard/micguard/internal/state"
	"github.com/micguard/micguard/internal/types"
)

// StopCause distinguishes why the loop was asked to stop.
type StopCause int

const (
	// StopManual is an explicit user/host stop request.
	StopManual StopCause = iota
	// StopScreenOff pauses holding because the screen turned off. It
	// unconditionally overrides and clears silence bookkeeping.
	StopScreenOff
)

// StartOptions qualify a start/resume request.
type StartOptions struct {
	// UserInitiated marks a manual start from the UI or host.
	UserInitiated bool
	// ViaDelayCompletion marks a resume from a completed activation delay.
	// The background-eligibility notification was already sent when the
	// delay was scheduled, so it is not repeated.
	ViaDelayCompletion bool
}

// Loop drives acquisition attempts and implements the silence / cooldown /
// backoff re-acquisition policy. One long-lived goroutine owns all loop
// state; external signals arrive through the exported methods and the
// silencing callback only. It is safe for concurrent use.
type Loop struct {
	exec     *capture.Executor
	platform capture.Platform
	store    *state.Store
	backHost host.Host
	events   *eventlog.Logger
	params   Params

	// Preferred returns the user's preferred strategy order. Must be set
	// before Start.
	Preferred func() types.HoldMethod
	// OnMethodSuccess, when set, records the last successful method (the
	// UI surfaces it and the preference may follow it).
	OnMethodSuccess func(types.HoldMethod)
	// OnHoldAcquired, when set, is invoked after a validated route is held.
	OnHoldAcquired func(method types.HoldMethod, deviceAddress string)
	// OnHoldLost, when set, is invoked when a competing recorder silences
	// the held session.
	OnHoldLost func(deviceAddress string)
	// OnPermissionLost, when set, is invoked when the loop self-stops
	// because record permission is no longer granted.
	OnPermissionLost func(detail string)

	mu          sync.Mutex
	running     bool
	manualStop  bool
	screenOff   bool
	cancel      context.CancelFunc
	done        chan struct{}
	generation  uint64
	silence     *SilenceTracker
	lastMethod  types.HoldMethod
	permissionE error
}

// NewLoop returns a stopped Loop.
func NewLoop(exec *capture.Executor, platform capture.Platform, store *state.Store,
	backHost host.Host, events *eventlog.Logger, params Params) *Loop {

	l := &Loop{
		exec:     exec,
		platform: platform,
		store:    store,
		backHost: backHost,
		events:   events,
		params:   params,
		silence:  NewSilenceTracker(params.InitialBackoff, params.MaxBackoff),
	}
	exec.OnHolding = l.onHolding
	return l
}

// Start begins (or resumes) holding. It is a no-op when already running.
func (l *Loop) Start(opts StartOptions) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.manualStop = false
	l.screenOff = false
	l.permissionE = nil
	l.generation++
	l.silence.ResetForAcquisition()

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	prev := l.done
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	if !opts.ViaDelayCompletion {
		if err := l.backHost.RequestBackgroundEligibility("holding microphone route"); err != nil {
			// Holding still functions without the status surface.
			slog.Warn("background eligibility not granted", "error", err)
		}
	}

	l.events.Log(eventlog.ControllerStarted, "", nil)
	slog.Info("holding loop starting",
		"user_initiated", opts.UserInitiated, "via_delay", opts.ViaDelayCompletion)

	go func() {
		defer close(done)
		// A restart racing a stop must not overlap the dying session:
		// acquisition waits until the previous goroutine has fully
		// released it.
		if prev != nil {
			<-prev
		}
		l.run(ctx)
	}()
}

// Stop requests a cooperative stop and waits for the loop goroutine to
// finish, so a subsequent Start never overlaps a dying session.
func (l *Loop) Stop(cause StopCause) {
	l.mu.Lock()
	if !l.running {
		// Record the cause anyway; the scheduler reads it for
		// qualification even when the loop is already stopped.
		if cause == StopManual {
			l.manualStop = true
		} else {
			l.screenOff = true
		}
		l.mu.Unlock()
		return
	}
	l.running = false
	if cause == StopManual {
		l.manualStop = true
	} else {
		l.screenOff = true
	}
	cancel := l.cancel
	done := l.done
	gen := l.generation
	l.mu.Unlock()

	cancel()
	<-done

	// A Start that raced this stop owns the published state now; a stale
	// stop must not overwrite what the new generation is doing.
	l.mu.Lock()
	superseded := l.generation != gen
	l.mu.Unlock()
	if superseded {
		return
	}

	// Screen-off overrides silence: a competing recorder being active when
	// the screen went dark must not poison the next resume.
	l.silence.ResetForAcquisition()

	if cause == StopScreenOff {
		l.store.SetPausedByScreen()
		l.events.Log(eventlog.ControllerStopped, "screen off", nil)
	} else {
		l.store.SetStopped()
		l.events.Log(eventlog.ControllerStopped, "manual stop", nil)
	}
	slog.Info("holding loop stopped", "screen_off", cause == StopScreenOff)
}

// IsRunning reports whether the loop goroutine is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// IsHolding reports whether a capture session currently holds the route.
func (l *Loop) IsHolding() bool {
	return l.store.Snapshot().State == types.StateHolding
}

// ManuallyStopped reports whether the last stop was an explicit request.
func (l *Loop) ManuallyStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.manualStop
}

// SilenceRecent reports whether a recent silencing is still being backed
// off from. Stale silence state never blocks delayed activation.
func (l *Loop) SilenceRecent() bool {
	return l.silence.RecentAt(time.Now(), l.params.StaleSilenceAge)
}

// LastMethod returns the most recent successfully held method, or "".
func (l *Loop) LastMethod() types.HoldMethod {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastMethod
}

// PermissionError returns the fatal permission error that stopped the
// loop, if any. The host must not blindly restart in that case.
func (l *Loop) PermissionError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permissionE
}

// onSilenced is the silencing notification handler wired into every capture
// session. It must stay cheap: it gates re-acquisition fairness.
func (l *Loop) onSilenced(silenced bool) {
	if silenced {
		l.silence.MarkSilenced(time.Now())
		l.events.Log(eventlog.HoldSilenced, "", nil)
		if l.OnHoldLost != nil {
			// The store still shows the dying session's device.
			l.OnHoldLost(l.store.Snapshot().DeviceAddress)
		}
	}
}

// onHolding publishes the holding state once the executor validated a route.
func (l *Loop) onHolding(method types.HoldMethod, deviceAddress string) {
	l.mu.Lock()
	l.lastMethod = method
	l.mu.Unlock()

	// Success resets the competitor backoff for the next silence cycle.
	l.silence.ResetForAcquisition()
	l.store.SetHolding(method, deviceAddress)
	l.events.Log(eventlog.HoldAcquired, "", &eventlog.HoldDetails{
		Method: string(method), DeviceAddress: deviceAddress,
	})
	l.backHost.NotifyStatusText("holding microphone route (" + string(method) + ")")

	if l.OnMethodSuccess != nil {
		l.OnMethodSuccess(method)
	}
	if l.OnHoldAcquired != nil {
		l.OnHoldAcquired(method, deviceAddress)
	}
}

// run is the loop body. Exactly one instance runs at a time.
func (l *Loop) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Silence gate: cooldown floor first, then competitor backoff.
		if silenced, since := l.silence.State(); silenced {
			if !l.waitOutSilence(ctx, since) {
				return
			}
			continue
		}

		l.store.SetAcquiring()

		preferred := l.Preferred()
		out := l.exec.Run(ctx, preferred, l.onSilenced)
		if ctx.Err() != nil {
			return
		}

		if out.Kind != capture.OutcomeSuccess {
			l.events.Log(eventlog.StrategyFallback, "", &eventlog.HoldDetails{
				Method: string(preferred), Reason: out.Reason, Error: errText(out.Err),
			})
			slog.Info("preferred strategy failed, trying fallback",
				"preferred", preferred, "kind", out.Kind, "reason", out.Reason, "error", out.Err)

			fallbackOut := l.exec.Run(ctx, preferred.Other(), l.onSilenced)
			if ctx.Err() != nil {
				return
			}

			if fallbackOut.Kind != capture.OutcomeSuccess {
				if l.handleBothFailed(out, fallbackOut) {
					return
				}
				if !l.sleep(ctx, l.params.FailureRetryDelay) {
					return
				}
				continue
			}
			out = fallbackOut
		}

		// The executor returns from a successful Run only when the hold
		// ended: stop request, silencing, or session death. The silence
		// gate at the top of the next iteration picks the right path.
		l.events.Log(eventlog.HoldReleased, "", &eventlog.HoldDetails{
			Method: string(out.Method), DeviceAddress: out.DeviceAddress,
		})
	}
}

// waitOutSilence implements the cooldown floor and the competitor backoff.
// Returns false when the loop should exit.
func (l *Loop) waitOutSilence(ctx context.Context, since time.Time) bool {
	elapsed := time.Since(since)
	if elapsed < l.params.CooldownFloor {
		// Competing apps often toggle silencing rapidly at the start of a
		// call; never probe before the floor.
		l.store.SetSilenced(types.StateSilencedCooldown)
		return l.sleep(ctx, l.params.CooldownFloor-elapsed)
	}

	active, err := l.platform.ActiveExternalRecorders()
	if err != nil {
		slog.Warn("failed to query active recorders", "error", err)
		active = 0
	}
	if active > 0 {
		l.store.SetSilenced(types.StateSilencedBackoff)
		wait := l.silence.NextBackoff()
		l.events.Log(eventlog.BackoffWait, "", &eventlog.HoldDetails{WaitMs: wait.Milliseconds()})
		slog.Debug("competing recorder active, backing off", "wait", wait, "recorders", active)
		return l.sleep(ctx, wait)
	}

	// Nobody else is recording: the microphone is fair game again.
	l.silence.ResetForAcquisition()
	return true
}

// handleBothFailed classifies a double strategy failure. Returns true when
// the failure is fatal and the loop must stop.
func (l *Loop) handleBothFailed(first, second capture.Outcome) bool {
	l.events.Log(eventlog.AcquireFailed, "", &eventlog.HoldDetails{
		Reason: first.Reason + "; " + second.Reason,
		Error:  errText(errors.Join(first.Err, second.Err)),
	})

	for _, out := range []capture.Outcome{first, second} {
		if out.Err != nil && errors.Is(out.Err, types.ErrPermissionMissing) {
			slog.Error("record permission missing, stopping controller")
			l.mu.Lock()
			l.running = false
			l.manualStop = true
			l.permissionE = out.Err
			l.mu.Unlock()
			l.store.SetStopped()
			l.backHost.NotifyStatusText("record permission missing")
			if l.OnPermissionLost != nil {
				l.OnPermissionLost(out.Err.Error())
			}
			return true
		}
	}

	slog.Warn("both strategies failed, retrying",
		"first", first.Kind, "second", second.Kind, "retry_in", l.params.FailureRetryDelay)
	return false
}

// sleep waits for d or until ctx is cancelled; stop requests interrupt
// every wait. Reports whether the full duration elapsed.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
