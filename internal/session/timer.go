package session

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// TimerState is the lifecycle of a Timer: armed, then cleared or expired.
type TimerState string

const (
	TimerArmed   TimerState = "armed"
	TimerCleared TimerState = "cleared"
	TimerExpired TimerState = "expired"
)

// Timer bounds one device call within a Session.
type Timer struct {
	id       string
	deviceID string
	deadline time.Time
	session  *Session
	timer    *time.Timer

	// state is guarded by session.mu.
	state TimerState
}

// ID returns the timer's unique id.
func (t *Timer) ID() string { return t.id }

// Deadline returns when the timer fires.
func (t *Timer) Deadline() time.Time { return t.deadline }

// State returns the current state.
func (t *Timer) State() TimerState {
	t.session.mu.Lock()
	defer t.session.mu.Unlock()
	return t.state
}

// stop must be called with session.mu held.
func (t *Timer) stop(state TimerState) {
	if t.state != TimerArmed {
		return
	}
	t.timer.Stop()
	t.state = state
}

// expire fires once: it detaches the timer and completes the session with
// a not-responding error.
func (t *Timer) expire() {
	s := t.session
	s.mu.Lock()
	if t.state != TimerArmed {
		s.mu.Unlock()
		return
	}
	t.state = TimerExpired
	delete(s.timers, t.id)
	s.mu.Unlock()

	s.cancel()
	s.Complete(nil, device.DriverError(s.topic, device.ErrNotResponding,
		fmt.Errorf("device %s not responding after %s", t.deviceID, s.timeout)))
}
