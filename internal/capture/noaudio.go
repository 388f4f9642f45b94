//go:build !cgo || nomalgo

package capture

// Builds without cgo (or with the nomalgo tag) have no platform audio
// backend; NewPlatform reports types.ErrNoCaptureDevice and the controller
// runs only against injected platforms (tests, external adapters).
