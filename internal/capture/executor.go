package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/micguard/micguard/internal/route"
	"github.com/micguard/micguard/internal/types"
)

// OutcomeKind classifies the result of one acquisition attempt.
type OutcomeKind string

const (
	// OutcomeSuccess means a good route was obtained and held until the
	// session ended (stop, silencing, or session error).
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeBadRoute means every opened session landed on the defective path.
	OutcomeBadRoute OutcomeKind = "bad_route"
	// OutcomeHardFailure means no session could be opened at all.
	OutcomeHardFailure OutcomeKind = "hard_failure"
)

// Outcome is the tagged result of one capture attempt.
type Outcome struct {
	Kind          OutcomeKind
	Method        types.HoldMethod
	Reason        string // route rejection reason for OutcomeBadRoute
	Err           error  // cause for OutcomeHardFailure
	DeviceAddress string // bound device for OutcomeSuccess
}

// Executor runs one of the two capture strategies against the platform.
type Executor struct {
	platform   Platform
	settleWait time.Duration

	// OnHolding, when set, is invoked once a good route is validated and
	// the session enters the holding phase.
	OnHolding func(method types.HoldMethod, deviceAddress string)
}

// NewExecutor returns an Executor for the given platform.
func NewExecutor(platform Platform) *Executor {
	return &Executor{
		platform:   platform,
		settleWait: types.RouteSettleWait,
	}
}

// SetSettleWait overrides the route settle wait. Tests use this to compress
// time; production code keeps the default.
func (e *Executor) SetSettleWait(d time.Duration) {
	e.settleWait = d
}

// Run attempts acquisition with the given strategy and, on success, holds
// the session with samples discarded until ctx is cancelled or the platform
// silences the stream. onSilenced is invoked from the platform's silencing
// notification with minimal latency; ownership of silence bookkeeping stays
// with the caller.
func (e *Executor) Run(ctx context.Context, method types.HoldMethod, onSilenced func(silenced bool)) Outcome {
	switch method {
	case types.MethodEncoder:
		return e.runEncoder(ctx, onSilenced)
	default:
		return e.runStream(ctx, onSilenced)
	}
}

// runStream is the sample-streaming strategy: iterate candidate formats,
// validate the route each one lands on, and drain the first good one.
func (e *Executor) runStream(ctx context.Context, onSilenced func(bool)) Outcome {
	var lastReason string
	var lastErr error

	for _, f := range CandidateFormats() {
		sess, err := e.platform.OpenCapture(f)
		if err != nil {
			if errors.Is(err, types.ErrUnsupportedFormat) {
				slog.Debug("candidate format unsupported", "rate", f.SampleRateHz)
				continue
			}
			// Permission and hardware errors are not per-candidate
			// problems; trying more formats won't help.
			return Outcome{Kind: OutcomeHardFailure, Method: types.MethodStream, Err: err}
		}

		// The observer must be live before the settle wait: a competitor
		// can silence the session the moment it opens, and that
		// notification must not be lost.
		silencedCh := e.observe(sess, onSilenced)

		// Let the platform finalize routing before inspecting it.
		time.Sleep(e.settleWait)

		info := sess.Route()
		if route.IsBad(info, f.Stereo(), info.ActualChannels) {
			lastReason = route.BadReason(info, f.Stereo(), info.ActualChannels)
			slog.Info("rejecting route", "rate", f.SampleRateHz, "reason", lastReason,
				"device", info.DeviceAddress)
			if err := sess.Close(); err != nil {
				slog.Warn("failed to close rejected session", "error", err)
			}
			continue
		}

		slog.Info("route validated, holding",
			"method", types.MethodStream, "rate", f.SampleRateHz, "device", info.DeviceAddress)
		e.hold(ctx, sess, info, types.MethodStream, silencedCh, true)
		return Outcome{Kind: OutcomeSuccess, Method: types.MethodStream, DeviceAddress: info.DeviceAddress}
	}

	if lastReason != "" {
		return Outcome{Kind: OutcomeBadRoute, Method: types.MethodStream, Reason: lastReason}
	}
	if lastErr == nil {
		lastErr = types.ErrUnsupportedFormat
	}
	return Outcome{Kind: OutcomeHardFailure, Method: types.MethodStream, Err: lastErr}
}

// runEncoder is the encoder-based compatibility strategy: a single stereo
// session at the primary rate whose output goes to a discard target, with
// route negotiation left to the platform.
func (e *Executor) runEncoder(ctx context.Context, onSilenced func(bool)) Outcome {
	f := Format{SampleRateHz: PrimarySampleRateHz, Channels: 2, BitDepth: 16}

	sess, err := e.platform.OpenEncodedCapture(f)
	if err != nil {
		return Outcome{Kind: OutcomeHardFailure, Method: types.MethodEncoder, Err: err}
	}

	silencedCh := e.observe(sess, onSilenced)

	time.Sleep(e.settleWait)

	info := sess.Route()
	if route.IsBad(info, true, info.ActualChannels) {
		reason := route.BadReason(info, true, info.ActualChannels)
		slog.Info("rejecting negotiated route", "reason", reason, "device", info.DeviceAddress)
		if err := sess.Close(); err != nil {
			slog.Warn("failed to close rejected session", "error", err)
		}
		return Outcome{Kind: OutcomeBadRoute, Method: types.MethodEncoder, Reason: reason}
	}

	slog.Info("route validated, holding",
		"method", types.MethodEncoder, "rate", f.SampleRateHz, "device", info.DeviceAddress)
	e.hold(ctx, sess, info, types.MethodEncoder, silencedCh, false)
	return Outcome{Kind: OutcomeSuccess, Method: types.MethodEncoder, DeviceAddress: info.DeviceAddress}
}

// observe wires the silencing notification into a freshly opened session.
// The returned channel latches the first silencing, so one delivered during
// the settle window still ends the hold.
func (e *Executor) observe(sess Session, onSilenced func(bool)) chan struct{} {
	silencedCh := make(chan struct{}, 1)
	sess.SetSilenceObserver(func(silenced bool) {
		if onSilenced != nil {
			onSilenced(silenced)
		}
		if silenced {
			select {
			case silencedCh <- struct{}{}:
			default:
			}
		}
	})
	return silencedCh
}

// hold keeps the validated session open until ctx is cancelled, the
// platform silences the stream, or the session dies. For stream sessions it
// additionally runs the blocking read-and-discard loop.
func (e *Executor) hold(ctx context.Context, sess Session, info route.Info,
	method types.HoldMethod, silencedCh chan struct{}, stream bool) {

	if e.OnHolding != nil {
		e.OnHolding(method, info.DeviceAddress)
	}

	sessionDead := make(chan struct{})
	if stream {
		ss := sess.(StreamSession)
		go func() {
			defer close(sessionDead)
			buf := make([]byte, 4096)
			for {
				if _, err := ss.ReadChunk(buf); err != nil {
					return
				}
				// Samples are discarded; the point is owning the route,
				// not the audio.
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Debug("hold ended by stop", "method", method)
	case <-silencedCh:
		slog.Info("hold silenced by competing recorder", "method", method)
	case <-sessionDead:
		slog.Warn("capture session ended unexpectedly", "method", method)
	}

	if err := sess.Close(); err != nil {
		slog.Warn("failed to close capture session", "error", err)
	}
	if stream {
		// Close unblocks ReadChunk; wait for the discard goroutine so the
		// next acquisition never overlaps this session.
		<-sessionDead
	}
}
