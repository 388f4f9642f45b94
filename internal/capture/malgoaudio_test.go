//go:build cgo && !nomalgo

package capture

import "testing"

func TestSilencingLatchedUntilObserverRegistered(t *testing.T) {
	s := &malgoSession{done: make(chan struct{}), chunks: make(chan []byte, 1)}

	// Backend stop callback beats the observer registration.
	s.notifySilenced(true)

	fired := false
	s.SetSilenceObserver(func(silenced bool) {
		if silenced {
			fired = true
		}
	})
	if !fired {
		t.Error("silencing before registration was not delivered")
	}

	// The latch delivers once; re-registration must not replay it.
	fired = false
	s.SetSilenceObserver(func(silenced bool) { fired = silenced })
	if fired {
		t.Error("latched silencing delivered twice")
	}
}

func TestStopDuringCloseIsNotLatched(t *testing.T) {
	s := &malgoSession{done: make(chan struct{})}
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.notifySilenced(true)

	fired := false
	s.SetSilenceObserver(func(bool) { fired = true })
	if fired {
		t.Error("self-initiated stop surfaced as a silencing event")
	}
}
