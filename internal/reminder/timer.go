// Package reminder schedules periodic hydration alerts per user.
package reminder

import (
	"sync"
	"time"
)

// Timer runs a callback on a fixed interval. At most one callback loop is
// active per Timer: Arm replaces any previous loop before starting a new one.
type Timer struct {
	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// Arm starts calling fn every d, stopping any loop already running. The new
// loop starts only after the old one has exited. The lock is not held while
// waiting, so Armed and Interval never block on a callback in progress.
// fn must not call Arm or Disarm on the same Timer.
func (t *Timer) Arm(d time.Duration, fn func()) {
	stop := make(chan struct{})
	done := make(chan struct{})

	t.mu.Lock()
	oldStop, oldDone := t.stop, t.done
	t.stop, t.done, t.interval = stop, done, d
	t.mu.Unlock()

	halt(oldStop, oldDone)

	ticker := time.NewTicker(d)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			case <-stop:
				return
			}
		}
	}()
}

// Disarm stops the loop and waits for it to exit. Safe to call when idle.
func (t *Timer) Disarm() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done, t.interval = nil, nil, 0
	t.mu.Unlock()

	halt(stop, done)
}

// halt closes stop and waits for the loop to finish. Each channel pair is
// swapped out of the Timer exactly once, so it is closed exactly once.
func halt(stop, done chan struct{}) {
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Armed reports whether a loop is running.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Interval returns the current period, or zero when idle.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}
