package capture

import "github.com/micguard/micguard/internal/types"

// newPlatform is set by the build-tagged platform implementation.
var newPlatform func() (Platform, error)

// NewPlatform returns the real platform audio collaborator for this build.
// Builds without audio support return types.ErrNoCaptureDevice.
func NewPlatform() (Platform, error) {
	if newPlatform == nil {
		return nil, types.ErrNoCaptureDevice
	}
	return newPlatform()
}
