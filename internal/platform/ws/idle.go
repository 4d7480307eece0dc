package ws

import (
	"sync/atomic"
	"time"
)

// IdleTimer tracks the last moment the connection was known to be alive.
// It is owned by a Session and reset by successful normalization or a PONG.
type IdleTimer struct {
	window time.Duration
	last   atomic.Int64
	now    func() time.Time
}

// NewIdleTimer returns a timer that expires window after the last Reset.
func NewIdleTimer(window time.Duration) *IdleTimer {
	t := &IdleTimer{window: window, now: time.Now}
	t.Reset()
	return t
}

// Reset restarts the idle window.
func (t *IdleTimer) Reset() {
	t.last.Store(t.now().UnixNano())
}

// Expired reports whether the window has elapsed since the last Reset.
func (t *IdleTimer) Expired() bool {
	return t.now().Sub(time.Unix(0, t.last.Load())) >= t.window
}

// Window returns the idle window.
func (t *IdleTimer) Window() time.Duration { return t.window }
