// Package state holds the single observable snapshot of the holding
// controller, written only by the holding loop and the activation scheduler
// and read by the status surfaces.
package state

import (
	"sync"
	"time"

	"github.com/micguard/micguard/internal/types"
)

// Snapshot is the published controller state.
type Snapshot struct {
	State            types.ControllerState `json:"state"`
	Running          bool                  `json:"running"`
	PausedBySilence  bool                  `json:"paused_by_silence"`
	PausedByScreen   bool                  `json:"paused_by_screen_off"`
	DelayPending     bool                  `json:"delay_pending"`
	DelayRemainingMs int64                 `json:"delay_remaining_ms,omitempty"`
	DeviceAddress    string                `json:"current_device_address,omitempty"`
	HoldMethod       types.HoldMethod      `json:"hold_method,omitempty"`
	LastChange       time.Time             `json:"last_change"`
}

// Store owns the published state. All fields default to zero values at
// creation; mutation goes through the setters so observers always see a
// consistent snapshot. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot

	subs map[chan Snapshot]struct{}
}

// NewStore returns a Store in the idle state.
func NewStore() *Store {
	return &Store{
		snap: Snapshot{State: types.StateIdle},
		subs: make(map[chan Snapshot]struct{}),
	}
}

// Snapshot returns a copy of the current published state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.DelayPending {
		// Remaining time is derived at read time so observers don't need
		// a ticker to watch it count down.
		remaining := snap.DelayRemainingMs - time.Since(snap.LastChange).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		snap.DelayRemainingMs = remaining
	}
	return snap
}

// Subscribe registers a channel that receives every state change.
// Sends never block: a subscriber that cannot keep up misses intermediate
// snapshots, not the latest one, because it can always call Snapshot.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// update applies fn to the snapshot and fans out the result.
func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.snap.LastChange = time.Now()
	snap := s.snap
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	s.mu.Unlock()
}

// SetHolding records that a capture session is open and holding the route.
func (s *Store) SetHolding(method types.HoldMethod, deviceAddress string) {
	s.update(func(snap *Snapshot) {
		snap.State = types.StateHolding
		snap.Running = true
		snap.PausedBySilence = false
		snap.PausedByScreen = false
		snap.HoldMethod = method
		snap.DeviceAddress = deviceAddress
	})
}

// SetAcquiring records that the loop is attempting acquisition.
func (s *Store) SetAcquiring() {
	s.update(func(snap *Snapshot) {
		snap.State = types.StateAcquiring
		snap.Running = true
		snap.PausedBySilence = false
		snap.HoldMethod = ""
		snap.DeviceAddress = ""
	})
}

// SetSilenced records that a competing recorder silenced the held session.
// The loop distinguishes cooldown from backoff via the state argument.
func (s *Store) SetSilenced(st types.ControllerState) {
	s.update(func(snap *Snapshot) {
		snap.State = st
		snap.Running = true
		snap.PausedBySilence = true
		snap.HoldMethod = ""
		snap.DeviceAddress = ""
	})
}

// SetPausedByScreen records a screen-off pause. Screen-off unconditionally
// overrides silence bookkeeping, so the silence flag is cleared here.
func (s *Store) SetPausedByScreen() {
	s.update(func(snap *Snapshot) {
		snap.State = types.StateStopped
		snap.Running = false
		snap.PausedBySilence = false
		snap.PausedByScreen = true
		snap.HoldMethod = ""
		snap.DeviceAddress = ""
	})
}

// SetStopped records an explicit stop.
func (s *Store) SetStopped() {
	s.update(func(snap *Snapshot) {
		snap.State = types.StateStopped
		snap.Running = false
		snap.PausedBySilence = false
		snap.PausedByScreen = false
		snap.DelayPending = false
		snap.DelayRemainingMs = 0
		snap.HoldMethod = ""
		snap.DeviceAddress = ""
	})
}

// SetDelayPending records a scheduled activation delay.
func (s *Store) SetDelayPending(delay time.Duration) {
	s.update(func(snap *Snapshot) {
		snap.DelayPending = true
		snap.DelayRemainingMs = delay.Milliseconds()
	})
}

// ClearDelayPending clears a completed or cancelled activation delay.
func (s *Store) ClearDelayPending() {
	s.update(func(snap *Snapshot) {
		snap.DelayPending = false
		snap.DelayRemainingMs = 0
	})
}
