package wren

import (
	"sync"
	"time"
)

// IdleTimer fires once when it has not been touched for the configured
// interval. It is reset on every received line.
type IdleTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	stopped bool
}

// NewIdleTimer starts a timer calling onIdle after timeout of inactivity.
// A timeout of zero or less returns a timer that never fires.
func NewIdleTimer(timeout time.Duration, onIdle func()) *IdleTimer {
	it := &IdleTimer{timeout: timeout}
	if timeout > 0 {
		it.timer = time.AfterFunc(timeout, onIdle)
	}
	return it
}

// Touch restarts the interval.
func (it *IdleTimer) Touch() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.timer == nil || it.stopped {
		return
	}
	it.timer.Reset(it.timeout)
}

// Stop cancels the timer. The callback does not run after Stop returns
// unless it had already started.
func (it *IdleTimer) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.stopped = true
	if it.timer != nil {
		it.timer.Stop()
	}
}
