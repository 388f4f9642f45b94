// Package route decides whether a granted capture route landed on the
// working primary microphone array or on the defective bottom capsule.
package route

// BottomCapsuleToken is the reserved device address assigned to the
// defective bottom-mounted capsule.
const BottomCapsuleToken = "bottom-token"

// Info describes the route the platform actually bound a capture session to.
// It is produced once per successful session start and consumed immediately;
// it is never persisted.
type Info struct {
	// OnPrimaryArray reports whether the session is bound to the
	// multi-element top-mounted array.
	OnPrimaryArray bool
	// DeviceAddress is the platform's address token for the bound device,
	// empty when the platform does not expose one.
	DeviceAddress string
	// ActualChannels is the channel count the platform granted.
	ActualChannels int
	// MicPositionY is the microphone capsule's Y coordinate in the device
	// frame, nil when the platform does not report positions. Negative
	// means bottom-mounted.
	MicPositionY *float64
}

// IsBad reports whether the granted route must be rejected. Each condition
// is independently sufficient:
//
//   - the session is not on the primary array
//   - the capsule position is known and bottom-mounted (negative Y)
//   - the device address is the reserved bottom-capsule token
//   - stereo was requested but fewer than 2 channels were granted
//
// An unknown capsule position is treated as acceptable: some platforms never
// report positions and rejecting them would make the controller useless on
// exactly the devices it exists for.
func IsBad(info Info, requestedStereo bool, actualChannels int) bool {
	if !info.OnPrimaryArray {
		return true
	}
	if info.MicPositionY != nil && *info.MicPositionY < 0 {
		return true
	}
	if info.DeviceAddress == BottomCapsuleToken {
		return true
	}
	if requestedStereo && actualChannels < 2 {
		return true
	}
	return false
}

// BadReason returns a short description of why a route was rejected, for
// logging and outcome reporting. Returns "" for good routes.
func BadReason(info Info, requestedStereo bool, actualChannels int) string {
	switch {
	case !info.OnPrimaryArray:
		return "not on primary array"
	case info.MicPositionY != nil && *info.MicPositionY < 0:
		return "bottom-mounted capsule position"
	case info.DeviceAddress == BottomCapsuleToken:
		return "bottom capsule address token"
	case requestedStereo && actualChannels < 2:
		return "stereo requested but mono granted"
	default:
		return ""
	}
}
