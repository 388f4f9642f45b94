package route

import "testing"

func floatPtr(v float64) *float64 { return &v }

func TestIsBadOffPrimaryArray(t *testing.T) {
	// Off the primary array is bad regardless of every other field.
	for _, channels := range []int{0, 1, 2, 4} {
		for _, stereo := range []bool{false, true} {
			info := Info{OnPrimaryArray: false, ActualChannels: channels}
			if !IsBad(info, stereo, channels) {
				t.Errorf("IsBad(offArray, stereo=%v, ch=%d) = false, want true", stereo, channels)
			}
		}
	}
}

func TestIsBadBottomCapsuleToken(t *testing.T) {
	// Reserved token rejects even when the platform claims primary array.
	info := Info{
		OnPrimaryArray: true,
		DeviceAddress:  BottomCapsuleToken,
		ActualChannels: 2,
	}
	if !IsBad(info, true, 2) {
		t.Error("IsBad should reject bottom capsule token despite primary array claim")
	}
}

func TestIsBadNegativePosition(t *testing.T) {
	info := Info{
		OnPrimaryArray: true,
		ActualChannels: 2,
		MicPositionY:   floatPtr(-0.03),
	}
	if !IsBad(info, true, 2) {
		t.Error("IsBad should reject negative capsule Y position")
	}
}

func TestIsBadUnknownPositionAssumedGood(t *testing.T) {
	// Platforms that never report positions must not be rejected.
	info := Info{
		OnPrimaryArray: true,
		ActualChannels: 2,
		MicPositionY:   nil,
	}
	if IsBad(info, true, 2) {
		t.Error("IsBad should accept unknown capsule position on primary array")
	}
}

func TestIsBadMonoGrantedForStereoRequest(t *testing.T) {
	info := Info{OnPrimaryArray: true, ActualChannels: 1}
	if !IsBad(info, true, 1) {
		t.Error("IsBad should reject mono grant for stereo request")
	}
	// Mono request accepts mono grant.
	if IsBad(info, false, 1) {
		t.Error("IsBad should accept mono grant for mono request")
	}
}

func TestIsBadGoodRoute(t *testing.T) {
	info := Info{
		OnPrimaryArray: true,
		DeviceAddress:  "array-0",
		ActualChannels: 2,
		MicPositionY:   floatPtr(0.12),
	}
	if IsBad(info, true, 2) {
		t.Error("IsBad rejected a good route")
	}
}

func TestIsBadDeterministic(t *testing.T) {
	info := Info{OnPrimaryArray: true, ActualChannels: 2, MicPositionY: floatPtr(0.05)}
	first := IsBad(info, true, 2)
	for range 100 {
		if IsBad(info, true, 2) != first {
			t.Fatal("IsBad is not deterministic for fixed inputs")
		}
	}
}

func TestBadReason(t *testing.T) {
	tests := []struct {
		name       string
		info       Info
		stereo     bool
		channels   int
		wantReason bool
	}{
		{"good", Info{OnPrimaryArray: true, ActualChannels: 2}, true, 2, false},
		{"off array", Info{OnPrimaryArray: false}, false, 1, true},
		{"token", Info{OnPrimaryArray: true, DeviceAddress: BottomCapsuleToken}, false, 2, true},
		{"position", Info{OnPrimaryArray: true, MicPositionY: floatPtr(-1)}, false, 2, true},
		{"mono", Info{OnPrimaryArray: true, ActualChannels: 1}, true, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := BadReason(tt.info, tt.stereo, tt.channels)
			if (reason != "") != tt.wantReason {
				t.Errorf("BadReason = %q, want reason=%v", reason, tt.wantReason)
			}
			if got := IsBad(tt.info, tt.stereo, tt.channels); got != tt.wantReason {
				t.Errorf("IsBad = %v disagrees with BadReason %q", got, reason)
			}
		})
	}
}
