package core

import (
	"sync"
	"time"
)

type timerState string

const (
	timerStateIdle      timerState = "idle"
	timerStateArmed     timerState = "armed"
	timerStateFired     timerState = "fired"
	timerStateCancelled timerState = "cancelled"
)

// refreshTimer owns the single live refresh timer handle for a credential
// lineage. Arming always cancels the superseded handle first, so no two
// timers can race and overwrite each other's persisted result.
type refreshTimer struct {
	mu     sync.Mutex
	clock  Clock
	state  timerState
	serial uint64
	handle TimerHandle
}

func newRefreshTimer(clock Clock) *refreshTimer {
	return &refreshTimer{
		clock: clock,
		state: timerStateIdle,
	}
}

// Arm schedules fn after delay, cancelling any previously armed handle. A
// stale fire (one superseded between scheduling and callback) is dropped via
// the serial check.
func (t *refreshTimer) Arm(delay time.Duration, fn func()) {
	if t == nil || t.clock == nil || fn == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle != nil {
		t.handle.Cancel()
		t.handle = nil
	}
	t.serial++
	serial := t.serial
	t.state = timerStateArmed
	t.handle = t.clock.After(delay, func() {
		if !t.consumeFire(serial) {
			return
		}
		fn()
	})
}

func (t *refreshTimer) consumeFire(serial uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.serial != serial || t.state != timerStateArmed {
		return false
	}
	t.state = timerStateFired
	t.handle = nil
	return true
}

// Cancel stops any armed handle. Idempotent.
func (t *refreshTimer) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle != nil {
		t.handle.Cancel()
		t.handle = nil
	}
	if t.state == timerStateArmed {
		t.state = timerStateCancelled
	}
	t.serial++
}

func (t *refreshTimer) armed() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == timerStateArmed
}
