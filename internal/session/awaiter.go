package session

import (
	"sync"
	"time"
)

// Awaiter is the bounded wait for an asynchronous result. It terminates
// exactly once: by Resolve (a matching result arrived), by Cancel
// (supersession or channel failure), or by its own timer elapsing. The window
// is never reset or extended once started.
type Awaiter struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// StartAwaiter arms the countdown. onTimeout runs on its own goroutine if the
// window elapses before Resolve or Cancel wins.
func StartAwaiter(window time.Duration, onTimeout func()) *Awaiter {
	a := &Awaiter{}
	a.timer = time.AfterFunc(window, func() {
		a.mu.Lock()
		if a.done {
			a.mu.Unlock()
			return
		}
		a.done = true
		a.mu.Unlock()
		onTimeout()
	})
	return a
}

// Resolve terminates the wait because a result arrived. It reports whether
// this call won; false means the wait already ended and the caller's result
// must be discarded.
func (a *Awaiter) Resolve() bool {
	return a.finish()
}

// Cancel terminates the wait without a result (supersession, channel failure,
// shutdown). It reports whether this call won.
func (a *Awaiter) Cancel() bool {
	return a.finish()
}

func (a *Awaiter) finish() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return false
	}
	a.done = true
	a.timer.Stop()
	return true
}
