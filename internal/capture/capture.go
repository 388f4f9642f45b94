// Package capture opens and holds microphone capture sessions against the
// platform audio subsystem, trying candidate formats in priority order and
// validating the route each one lands on.
package capture

import (
	"github.com/micguard/micguard/internal/route"
)

// Format is one capture configuration candidate.
type Format struct {
	SampleRateHz int `json:"sample_rate_hz"`
	Channels     int `json:"channels"` // 1 or 2
	BitDepth     int `json:"bit_depth"`
}

// Stereo reports whether the format requests two channels.
func (f Format) Stereo() bool { return f.Channels == 2 }

// PrimarySampleRateHz is the rate used by the encoder-based strategy, which
// leaves format negotiation to the platform.
const PrimarySampleRateHz = 48000

// CandidateFormats returns the ordered list of formats tried by the
// sample-streaming strategy. Lower rates come first because they are
// empirically more likely to land on the good hardware path on constrained
// devices.
func CandidateFormats() []Format {
	return []Format{
		{SampleRateHz: 8000, Channels: 2, BitDepth: 16},
		{SampleRateHz: 16000, Channels: 2, BitDepth: 16},
		{SampleRateHz: 48000, Channels: 2, BitDepth: 16},
	}
}

// Device represents an available capture device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// IsDefault reports whether this is the platform default device.
	IsDefault bool `json:"is_default"`
}

// Session is a live capture session owned by the platform.
type Session interface {
	// Route returns the route the platform bound this session to. Call it
	// only after the settle wait; routing may change while the platform
	// finalizes the binding.
	Route() route.Info

	// SetSilenceObserver registers fn to be called the instant the platform
	// reports this client's stream silenced (true) or restored (false).
	// A silencing that occurred before registration is delivered during the
	// call. The callback must be cheap; it gates re-acquisition fairness.
	SetSilenceObserver(fn func(silenced bool))

	// Close tears the session down and releases the microphone.
	Close() error
}

// StreamSession is a Session whose samples the caller reads directly.
type StreamSession interface {
	Session

	// ReadChunk blocks until samples are available and copies them into
	// buf, returning the number of bytes. It returns an error once the
	// session is closed.
	ReadChunk(buf []byte) (int, error)
}

// Platform is the platform audio collaborator that owns the microphones.
// Implementations must be safe for concurrent use.
type Platform interface {
	// OpenCapture opens a low-level sample-streaming session for f.
	// It returns types.ErrUnsupportedFormat for formats the hardware
	// cannot open and types.ErrPermissionMissing when record permission
	// is absent.
	OpenCapture(f Format) (StreamSession, error)

	// OpenEncodedCapture opens an encoder-based session for f whose output
	// goes to a discard target owned by the session. It is the
	// compatibility path: the platform negotiates the route itself.
	OpenEncodedCapture(f Format) (Session, error)

	// ActiveExternalRecorders reports how many other clients currently
	// hold an active recording session. Used to decide whether
	// re-acquisition would steal the microphone from a real recorder.
	ActiveExternalRecorders() (int, error)

	// Devices enumerates the available capture devices.
	Devices() ([]Device, error)
}
