package holding

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/micguard/micguard/internal/capture"
	"github.com/micguard/micguard/internal/host"
	"github.com/micguard/micguard/internal/route"
	"github.com/micguard/micguard/internal/state"
	"github.com/micguard/micguard/internal/types"
)

// testSession is a minimal scripted capture session for loop tests.
type testSession struct {
	info       route.Info
	closeDelay time.Duration
	onClose    func()

	mu       sync.Mutex
	observer func(bool)
	closed   bool
	done     chan struct{}
}

func newTestSession(info route.Info) *testSession {
	return &testSession{info: info, done: make(chan struct{})}
}

func (s *testSession) Route() route.Info { return s.info }

func (s *testSession) SetSilenceObserver(fn func(silenced bool)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *testSession) ReadChunk(buf []byte) (int, error) {
	<-s.done
	return 0, io.EOF
}

func (s *testSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if s.closeDelay > 0 {
		time.Sleep(s.closeDelay)
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *testSession) silence() {
	s.mu.Lock()
	fn := s.observer
	s.mu.Unlock()
	if fn != nil {
		fn(true)
	}
}

// testPlatform scripts strategy results and counts opens.
type testPlatform struct {
	mu sync.Mutex

	streamRoute  *route.Info // nil: every candidate unsupported
	encodedRoute *route.Info
	streamErr    error
	encodedErr   error
	closeDelay   time.Duration

	externalRecorders int

	streamOpens  int
	encodedOpens int
	open         int
	maxOpen      int
	sessions     []*testSession
}

func (p *testPlatform) OpenCapture(f capture.Format) (capture.StreamSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamOpens++
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	if p.streamRoute == nil {
		return nil, types.ErrUnsupportedFormat
	}
	s := newTestSession(*p.streamRoute)
	s.closeDelay = p.closeDelay
	s.onClose = p.sessionClosed
	p.open++
	p.maxOpen = max(p.maxOpen, p.open)
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *testPlatform) OpenEncodedCapture(f capture.Format) (capture.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encodedOpens++
	if p.encodedErr != nil {
		return nil, p.encodedErr
	}
	if p.encodedRoute == nil {
		return nil, types.ErrUnsupportedFormat
	}
	s := newTestSession(*p.encodedRoute)
	s.closeDelay = p.closeDelay
	s.onClose = p.sessionClosed
	p.open++
	p.maxOpen = max(p.maxOpen, p.open)
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *testPlatform) sessionClosed() {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
}

func (p *testPlatform) maxConcurrentOpen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOpen
}

func (p *testPlatform) ActiveExternalRecorders() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.externalRecorders, nil
}

func (p *testPlatform) Devices() ([]capture.Device, error) { return nil, nil }

func (p *testPlatform) setExternalRecorders(n int) {
	p.mu.Lock()
	p.externalRecorders = n
	p.mu.Unlock()
}

func (p *testPlatform) currentSession() *testSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

func (p *testPlatform) sessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func testParams() Params {
	return Params{
		CooldownFloor:     40 * time.Millisecond,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        80 * time.Millisecond,
		FailureRetryDelay: 20 * time.Millisecond,
		StaleSilenceAge:   time.Second,
	}
}

func newTestLoop(t *testing.T, platform *testPlatform) (*Loop, *state.Store) {
	t.Helper()
	exec := capture.NewExecutor(platform)
	exec.SetSettleWait(time.Millisecond)
	store := state.NewStore()
	l := NewLoop(exec, platform, store, host.LogHost{}, nil, testParams())
	l.Preferred = func() types.HoldMethod { return types.MethodStream }
	return l, store
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestLoopHoldsPreferredStrategy(t *testing.T) {
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "array-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &good}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	defer l.Stop(StopManual)

	waitFor(t, "holding state", func() bool {
		return store.Snapshot().State == types.StateHolding
	})

	snap := store.Snapshot()
	if snap.HoldMethod != types.MethodStream || snap.DeviceAddress != "array-0" {
		t.Errorf("snapshot = %+v, want stream hold on array-0", snap)
	}
	if l.LastMethod() != types.MethodStream {
		t.Errorf("LastMethod = %v, want stream", l.LastMethod())
	}
}

func TestLoopFallsBackToEncoder(t *testing.T) {
	// Every stream candidate lands on the defective path; the encoder
	// strategy negotiates the good one.
	bad := route.Info{OnPrimaryArray: false, ActualChannels: 2}
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "negotiated-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &bad, encodedRoute: &good}
	l, store := newTestLoop(t, platform)

	var recorded types.HoldMethod
	var recordedMu sync.Mutex
	l.OnMethodSuccess = func(m types.HoldMethod) {
		recordedMu.Lock()
		recorded = m
		recordedMu.Unlock()
	}

	l.Start(StartOptions{UserInitiated: true})
	defer l.Stop(StopManual)

	waitFor(t, "encoder hold", func() bool {
		snap := store.Snapshot()
		return snap.State == types.StateHolding && snap.HoldMethod == types.MethodEncoder
	})

	recordedMu.Lock()
	defer recordedMu.Unlock()
	if recorded != types.MethodEncoder {
		t.Errorf("recorded method = %v, want encoder", recorded)
	}
}

func TestLoopReacquiresAfterCooldownFloor(t *testing.T) {
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "array-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &good}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	defer l.Stop(StopManual)

	waitFor(t, "first hold", func() bool {
		return store.Snapshot().State == types.StateHolding
	})

	// No competitor stays active after silencing: the loop must resume
	// as soon as the cooldown floor elapses.
	silencedAt := time.Now()
	platform.currentSession().silence()

	waitFor(t, "re-acquired hold", func() bool {
		return platform.sessionCount() >= 2 && store.Snapshot().State == types.StateHolding
	})

	elapsed := time.Since(silencedAt)
	if elapsed < testParams().CooldownFloor {
		t.Errorf("re-acquired after %v, before cooldown floor %v", elapsed, testParams().CooldownFloor)
	}
}

func TestLoopBacksOffWhileCompetitorActive(t *testing.T) {
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "array-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &good}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	defer l.Stop(StopManual)

	waitFor(t, "first hold", func() bool {
		return store.Snapshot().State == types.StateHolding
	})

	platform.setExternalRecorders(1)
	platform.currentSession().silence()

	// Past the cooldown floor the loop must sit in backoff, not acquire.
	waitFor(t, "backoff state", func() bool {
		return store.Snapshot().State == types.StateSilencedBackoff
	})
	if platform.sessionCount() != 1 {
		t.Errorf("loop opened a session while a competitor was recording")
	}

	// Competitor goes away: next backoff check resumes acquisition.
	platform.setExternalRecorders(0)
	waitFor(t, "re-acquired hold", func() bool {
		return platform.sessionCount() >= 2 && store.Snapshot().State == types.StateHolding
	})
}

func TestLoopStopDuringCooldownIsPrompt(t *testing.T) {
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "array-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &good}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	waitFor(t, "holding state", func() bool {
		return store.Snapshot().State == types.StateHolding
	})

	platform.setExternalRecorders(1)
	platform.currentSession().silence()
	waitFor(t, "silenced state", func() bool {
		return store.Snapshot().PausedBySilence
	})

	done := make(chan struct{})
	go func() {
		l.Stop(StopManual)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked during cooldown/backoff wait")
	}

	if snap := store.Snapshot(); snap.State != types.StateStopped || snap.Running {
		t.Errorf("after stop: %+v", snap)
	}
	if !l.ManuallyStopped() {
		t.Error("manual stop not recorded")
	}
}

func TestLoopScreenOffClearsSilence(t *testing.T) {
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "array-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &good}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	waitFor(t, "holding state", func() bool {
		return store.Snapshot().State == types.StateHolding
	})

	platform.setExternalRecorders(1)
	platform.currentSession().silence()
	waitFor(t, "silenced state", func() bool {
		return store.Snapshot().PausedBySilence
	})

	l.Stop(StopScreenOff)

	snap := store.Snapshot()
	if !snap.PausedByScreen {
		t.Error("screen-off pause not published")
	}
	if snap.PausedBySilence {
		t.Error("screen-off must clear the silence flag")
	}
	if l.SilenceRecent() {
		t.Error("screen-off must clear silence bookkeeping")
	}
	if l.ManuallyStopped() {
		t.Error("screen-off stop must not count as manual")
	}
}

func TestLoopRetriesAfterBothStrategiesFail(t *testing.T) {
	platform := &testPlatform{
		streamErr:  errors.New("capture open failed"),
		encodedErr: errors.New("encoder open failed"),
	}
	l, _ := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	defer l.Stop(StopManual)

	// The loop must keep retrying on the fixed delay, not spin or die.
	waitFor(t, "repeated retry attempts", func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return platform.streamOpens >= 2 && platform.encodedOpens >= 2
	})
	if !l.IsRunning() {
		t.Error("loop stopped on recoverable failure")
	}
}

func TestLoopStopsOnMissingPermission(t *testing.T) {
	platform := &testPlatform{
		streamErr:  types.ErrPermissionMissing,
		encodedErr: types.ErrPermissionMissing,
	}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})

	waitFor(t, "self-stop", func() bool { return !l.IsRunning() })

	if !errors.Is(l.PermissionError(), types.ErrPermissionMissing) {
		t.Errorf("PermissionError = %v, want ErrPermissionMissing", l.PermissionError())
	}
	if snap := store.Snapshot(); snap.State != types.StateStopped {
		t.Errorf("state = %q, want stopped", snap.State)
	}
}

func TestLoopRestartDuringStopStaysSingleFlight(t *testing.T) {
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "array-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &good, closeDelay: 80 * time.Millisecond}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	waitFor(t, "first hold", func() bool {
		return store.Snapshot().State == types.StateHolding
	})

	// Restart while the stop is still waiting out the slow session close.
	stopDone := make(chan struct{})
	go func() {
		l.Stop(StopManual)
		close(stopDone)
	}()
	time.Sleep(10 * time.Millisecond)
	l.Start(StartOptions{UserInitiated: true})
	<-stopDone

	waitFor(t, "second hold", func() bool {
		return platform.sessionCount() >= 2 && store.Snapshot().State == types.StateHolding
	})

	if n := platform.maxConcurrentOpen(); n != 1 {
		t.Errorf("max concurrently open sessions = %d, want 1", n)
	}
	// The superseded stop must not overwrite the restarted loop's state.
	if snap := store.Snapshot(); snap.State != types.StateHolding || !snap.Running {
		t.Errorf("after restart: %+v, want running hold", snap)
	}
	if l.ManuallyStopped() {
		t.Error("superseded stop left the manual-stop flag set")
	}
	l.Stop(StopManual)
}

func TestLoopStartIsIdempotent(t *testing.T) {
	good := route.Info{OnPrimaryArray: true, DeviceAddress: "array-0", ActualChannels: 2}
	platform := &testPlatform{streamRoute: &good}
	l, store := newTestLoop(t, platform)

	l.Start(StartOptions{UserInitiated: true})
	l.Start(StartOptions{UserInitiated: true})
	l.Start(StartOptions{})
	defer l.Stop(StopManual)

	waitFor(t, "holding state", func() bool {
		return store.Snapshot().State == types.StateHolding
	})

	// Single-flight: one session, no matter how many Start calls raced.
	if n := platform.sessionCount(); n != 1 {
		t.Errorf("session count = %d, want 1", n)
	}
}
