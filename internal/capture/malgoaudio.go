//go:build cgo && !nomalgo

package capture

import (
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/micguard/micguard/internal/route"
	"github.com/micguard/micguard/internal/types"
)

func init() {
	newPlatform = newMalgoPlatform
}

// malgoPlatform implements Platform on top of miniaudio. It is the
// general-purpose backend: it cannot see competing recorders or capsule
// positions, so routes are reported optimistically and the silencing signal
// is synthesized from the device stop callback.
type malgoPlatform struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func newMalgoPlatform() (Platform, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &malgoPlatform{ctx: ctx}, nil
}

func (p *malgoPlatform) Devices() ([]Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos, err := p.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	res := make([]Device, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		full, err := p.ctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared)
		if err != nil {
			continue
		}
		id := string(append([]byte(nil), full.ID[:]...))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, Device{
			ID:        id,
			Name:      full.Name(),
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

// ActiveExternalRecorders always reports zero: miniaudio has no view of
// other clients, so the backoff check degrades to the cooldown floor alone.
func (p *malgoPlatform) ActiveExternalRecorders() (int, error) {
	return 0, nil
}

func (p *malgoPlatform) OpenCapture(f Format) (StreamSession, error) {
	s, err := p.openSession(f, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *malgoPlatform) OpenEncodedCapture(f Format) (Session, error) {
	// miniaudio has no encoder path; the compatibility strategy is
	// emulated by draining the device into a discard target internally.
	return p.openSession(f, io.Discard)
}

// openSession opens a capture device for f. When sink is non-nil the data
// callback writes into it and ReadChunk is not used.
func (p *malgoPlatform) openSession(f Format, sink io.Writer) (*malgoSession, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRateHz)
	cfg.Alsa.NoMMap = 1

	s := &malgoSession{
		format: f,
		sink:   sink,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			s.onData(in)
		},
		Stop: func() {
			// The backend stopped the device underneath us: another
			// client took it or the route went away. Surface it as a
			// silencing notification.
			s.notifySilenced(true)
		},
	}

	dev, err := malgo.InitDevice(p.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: %dHz/%dch: %v", types.ErrUnsupportedFormat, f.SampleRateHz, f.Channels, err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	s.route = route.Info{
		// The default shared capture device is the working path on every
		// platform this backend runs on; capsule positions are unknown.
		OnPrimaryArray: true,
		DeviceAddress:  p.defaultDeviceName(),
		ActualChannels: f.Channels,
	}
	return s, nil
}

// defaultDeviceName returns the name of the default capture device, or
// "default" when enumeration fails.
func (p *malgoPlatform) defaultDeviceName() string {
	devices, err := p.Devices()
	if err != nil {
		return "default"
	}
	for _, d := range devices {
		if d.IsDefault {
			return d.Name
		}
	}
	if len(devices) > 0 {
		return devices[0].Name
	}
	return "default"
}

// malgoSession is one live miniaudio capture session.
type malgoSession struct {
	dev    *malgo.Device
	format Format
	sink   io.Writer
	route  route.Info

	mu       sync.Mutex
	observer func(bool)
	latched  bool
	closed   bool
	stopping bool

	chunks chan []byte
	done   chan struct{}
}

func (s *malgoSession) Route() route.Info { return s.route }

func (s *malgoSession) SetSilenceObserver(fn func(silenced bool)) {
	s.mu.Lock()
	s.observer = fn
	latched := s.latched
	s.latched = false
	s.mu.Unlock()

	// A stop callback that beat the registration is delivered now; losing
	// it would leave the holder owning a dead session forever.
	if latched && fn != nil {
		fn(true)
	}
}

func (s *malgoSession) onData(in []byte) {
	if s.sink != nil {
		_, _ = s.sink.Write(in)
		return
	}
	chunk := append([]byte(nil), in...)
	select {
	case s.chunks <- chunk:
	default:
		// Holder discards samples anyway; dropping under pressure is fine.
	}
}

func (s *malgoSession) notifySilenced(silenced bool) {
	s.mu.Lock()
	fn := s.observer
	// Close initiates the stop itself; that is not a silencing event.
	suppressed := s.stopping || s.closed
	if fn == nil && silenced && !suppressed {
		s.latched = true
	}
	s.mu.Unlock()
	if fn != nil && !suppressed {
		fn(silenced)
	}
}

func (s *malgoSession) ReadChunk(buf []byte) (int, error) {
	select {
	case chunk := <-s.chunks:
		return copy(buf, chunk), nil
	case <-s.done:
		return 0, io.EOF
	}
}

func (s *malgoSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopping = true
	s.mu.Unlock()

	close(s.done)
	s.dev.Uninit()
	return nil
}
