package capture

import "github.com/micguard/micguard/internal/types"

// NoPlatform is the degraded-mode platform used when no capture backend is
// available. The controller stays reachable over the API but every
// acquisition attempt reports the missing device.
type NoPlatform struct{}

func (NoPlatform) OpenCapture(Format) (StreamSession, error) {
	return nil, types.ErrNoCaptureDevice
}

func (NoPlatform) OpenEncodedCapture(Format) (Session, error) {
	return nil, types.ErrNoCaptureDevice
}

func (NoPlatform) ActiveExternalRecorders() (int, error) { return 0, nil }

func (NoPlatform) Devices() ([]Device, error) { return nil, nil }
