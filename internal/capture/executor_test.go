package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/micguard/micguard/internal/route"
	"github.com/micguard/micguard/internal/types"
)

// fakeSession is a scripted capture session.
type fakeSession struct {
	info route.Info

	mu       sync.Mutex
	observer func(bool)
	closed   bool
	done     chan struct{}
}

func newFakeSession(info route.Info) *fakeSession {
	return &fakeSession{info: info, done: make(chan struct{})}
}

func (s *fakeSession) Route() route.Info { return s.info }

func (s *fakeSession) SetSilenceObserver(fn func(silenced bool)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *fakeSession) ReadChunk(buf []byte) (int, error) {
	<-s.done
	return 0, io.EOF
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *fakeSession) silence() {
	s.mu.Lock()
	fn := s.observer
	s.mu.Unlock()
	if fn != nil {
		fn(true)
	}
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) hasObserver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer != nil
}

// fakePlatform scripts per-rate results for OpenCapture and a single result
// for OpenEncodedCapture.
type fakePlatform struct {
	mu sync.Mutex

	// routes maps sample rate to the route that session reports.
	routes map[int]route.Info
	// unsupported rates return types.ErrUnsupportedFormat.
	unsupported map[int]bool
	// openErr, when set, is returned by every OpenCapture call.
	openErr error

	encodedRoute *route.Info
	encodedErr   error

	externalRecorders int

	opened []*fakeSession
}

func (p *fakePlatform) OpenCapture(f Format) (StreamSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	if p.unsupported[f.SampleRateHz] {
		return nil, types.ErrUnsupportedFormat
	}
	info, ok := p.routes[f.SampleRateHz]
	if !ok {
		return nil, types.ErrUnsupportedFormat
	}
	s := newFakeSession(info)
	p.opened = append(p.opened, s)
	return s, nil
}

func (p *fakePlatform) OpenEncodedCapture(f Format) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.encodedErr != nil {
		return nil, p.encodedErr
	}
	if p.encodedRoute == nil {
		return nil, types.ErrUnsupportedFormat
	}
	s := newFakeSession(*p.encodedRoute)
	p.opened = append(p.opened, s)
	return s, nil
}

func (p *fakePlatform) ActiveExternalRecorders() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.externalRecorders, nil
}

func (p *fakePlatform) Devices() ([]Device, error) { return nil, nil }

func (p *fakePlatform) lastOpened() *fakeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.opened) == 0 {
		return nil
	}
	return p.opened[len(p.opened)-1]
}

func goodRoute(addr string) route.Info {
	return route.Info{OnPrimaryArray: true, DeviceAddress: addr, ActualChannels: 2}
}

func badRoute() route.Info {
	return route.Info{OnPrimaryArray: false, ActualChannels: 2}
}

func newTestExecutor(p Platform) *Executor {
	e := NewExecutor(p)
	e.SetSettleWait(time.Millisecond)
	return e
}

func TestStreamStrategyHoldsFirstGoodCandidate(t *testing.T) {
	platform := &fakePlatform{routes: map[int]route.Info{
		8000:  goodRoute("array-0"),
		16000: goodRoute("array-0"),
		48000: goodRoute("array-0"),
	}}
	e := newTestExecutor(platform)

	var holdMethod types.HoldMethod
	holding := make(chan struct{})
	e.OnHolding = func(m types.HoldMethod, _ string) {
		holdMethod = m
		close(holding)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan Outcome, 1)
	go func() { result <- e.Run(ctx, types.MethodStream, nil) }()

	select {
	case <-holding:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for holding phase")
	}
	cancel()

	out := <-result
	if out.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", out.Kind)
	}
	if out.Method != types.MethodStream || holdMethod != types.MethodStream {
		t.Errorf("method = %v, want stream", out.Method)
	}
	if out.DeviceAddress != "array-0" {
		t.Errorf("device = %q, want array-0", out.DeviceAddress)
	}
	// Only the 8 kHz candidate should have been opened.
	if len(platform.opened) != 1 {
		t.Errorf("opened %d sessions, want 1", len(platform.opened))
	}
}

func TestStreamStrategySkipsUnsupportedFormats(t *testing.T) {
	platform := &fakePlatform{
		unsupported: map[int]bool{8000: true, 16000: true},
		routes:      map[int]route.Info{48000: goodRoute("array-1")},
	}
	e := newTestExecutor(platform)

	ctx, cancel := context.WithCancel(context.Background())
	holding := make(chan struct{})
	e.OnHolding = func(types.HoldMethod, string) { close(holding) }

	result := make(chan Outcome, 1)
	go func() { result <- e.Run(ctx, types.MethodStream, nil) }()

	select {
	case <-holding:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for holding phase")
	}
	cancel()

	if out := <-result; out.Kind != OutcomeSuccess || out.DeviceAddress != "array-1" {
		t.Fatalf("outcome = %+v, want success on array-1", out)
	}
}

func TestStreamStrategyAllCandidatesBadRoute(t *testing.T) {
	platform := &fakePlatform{routes: map[int]route.Info{
		8000:  badRoute(),
		16000: badRoute(),
		48000: badRoute(),
	}}
	e := newTestExecutor(platform)

	out := e.Run(context.Background(), types.MethodStream, nil)
	if out.Kind != OutcomeBadRoute {
		t.Fatalf("outcome = %v, want bad_route", out.Kind)
	}
	if out.Reason == "" {
		t.Error("bad route outcome missing reason")
	}
	// Every rejected session must have been closed.
	for i, s := range platform.opened {
		if !s.isClosed() {
			t.Errorf("rejected session %d left open", i)
		}
	}
	if len(platform.opened) != 3 {
		t.Errorf("opened %d sessions, want 3", len(platform.opened))
	}
}

func TestStreamStrategyAllCandidatesUnsupported(t *testing.T) {
	platform := &fakePlatform{unsupported: map[int]bool{8000: true, 16000: true, 48000: true}}
	e := newTestExecutor(platform)

	out := e.Run(context.Background(), types.MethodStream, nil)
	if out.Kind != OutcomeHardFailure {
		t.Fatalf("outcome = %v, want hard_failure", out.Kind)
	}
	if !errors.Is(out.Err, types.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", out.Err)
	}
}

func TestStreamStrategyPermissionErrorIsHardFailure(t *testing.T) {
	platform := &fakePlatform{openErr: types.ErrPermissionMissing}
	e := newTestExecutor(platform)

	out := e.Run(context.Background(), types.MethodStream, nil)
	if out.Kind != OutcomeHardFailure {
		t.Fatalf("outcome = %v, want hard_failure", out.Kind)
	}
	if !errors.Is(out.Err, types.ErrPermissionMissing) {
		t.Errorf("err = %v, want ErrPermissionMissing", out.Err)
	}
	// No further candidates should have been tried.
	if len(platform.opened) != 0 {
		t.Errorf("opened %d sessions, want 0", len(platform.opened))
	}
}

func TestSilencingEndsHoldAndFiresObserver(t *testing.T) {
	platform := &fakePlatform{routes: map[int]route.Info{8000: goodRoute("array-0")}}
	e := newTestExecutor(platform)

	holding := make(chan struct{})
	e.OnHolding = func(types.HoldMethod, string) { close(holding) }

	silenced := make(chan bool, 1)
	result := make(chan Outcome, 1)
	go func() {
		result <- e.Run(context.Background(), types.MethodStream, func(s bool) { silenced <- s })
	}()

	select {
	case <-holding:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for holding phase")
	}

	platform.lastOpened().silence()

	select {
	case s := <-silenced:
		if !s {
			t.Error("observer fired with silenced=false")
		}
	case <-time.After(time.Second):
		t.Fatal("silence observer never fired")
	}

	select {
	case out := <-result:
		if out.Kind != OutcomeSuccess {
			t.Errorf("outcome after silencing = %v, want success", out.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after silencing")
	}

	if !platform.lastOpened().isClosed() {
		t.Error("session left open after silencing")
	}
}

func TestSilencingDuringSettleWindowEndsHold(t *testing.T) {
	platform := &fakePlatform{routes: map[int]route.Info{8000: goodRoute("array-0")}}
	e := NewExecutor(platform)
	e.SetSettleWait(50 * time.Millisecond)

	silenced := make(chan bool, 1)
	result := make(chan Outcome, 1)
	go func() {
		result <- e.Run(context.Background(), types.MethodStream, func(s bool) { silenced <- s })
	}()

	// The observer must be live from the moment the session opens, so a
	// competitor grabbing the device inside the settle window is seen.
	deadline := time.Now().Add(time.Second)
	for {
		if s := platform.lastOpened(); s != nil && s.hasObserver() {
			s.silence()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("observer never registered on the fresh session")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case s := <-silenced:
		if !s {
			t.Error("observer fired with silenced=false")
		}
	case <-time.After(time.Second):
		t.Fatal("silencing during settle window was lost")
	}

	select {
	case out := <-result:
		if out.Kind != OutcomeSuccess {
			t.Errorf("outcome = %v, want success", out.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("executor still holding a silenced session")
	}
	if !platform.lastOpened().isClosed() {
		t.Error("silenced session left open")
	}
}

func TestEncoderStrategySuccess(t *testing.T) {
	info := goodRoute("negotiated-0")
	platform := &fakePlatform{encodedRoute: &info}
	e := newTestExecutor(platform)

	ctx, cancel := context.WithCancel(context.Background())
	holding := make(chan struct{})
	e.OnHolding = func(m types.HoldMethod, _ string) {
		if m != types.MethodEncoder {
			t.Errorf("holding method = %v, want encoder", m)
		}
		close(holding)
	}

	result := make(chan Outcome, 1)
	go func() { result <- e.Run(ctx, types.MethodEncoder, nil) }()

	select {
	case <-holding:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for holding phase")
	}
	cancel()

	out := <-result
	if out.Kind != OutcomeSuccess || out.Method != types.MethodEncoder {
		t.Fatalf("outcome = %+v, want encoder success", out)
	}
}

func TestEncoderStrategyBadRoute(t *testing.T) {
	info := badRoute()
	platform := &fakePlatform{encodedRoute: &info}
	e := newTestExecutor(platform)

	out := e.Run(context.Background(), types.MethodEncoder, nil)
	if out.Kind != OutcomeBadRoute {
		t.Fatalf("outcome = %v, want bad_route", out.Kind)
	}
	if !platform.lastOpened().isClosed() {
		t.Error("rejected encoder session left open")
	}
}

func TestCandidateFormatOrder(t *testing.T) {
	formats := CandidateFormats()
	wantRates := []int{8000, 16000, 48000}
	if len(formats) != len(wantRates) {
		t.Fatalf("got %d candidates, want %d", len(formats), len(wantRates))
	}
	for i, f := range formats {
		if f.SampleRateHz != wantRates[i] {
			t.Errorf("candidate %d rate = %d, want %d", i, f.SampleRateHz, wantRates[i])
		}
		if f.Channels != 2 || f.BitDepth != 16 {
			t.Errorf("candidate %d = %+v, want stereo 16-bit", i, f)
		}
	}
}
