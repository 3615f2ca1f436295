package watchdog

import (
	"sync"
	"time"
)

// Watchdog calls fn once if Pulse is not called within timeout.
type Watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	timeout  time.Duration
	deadline time.Time
	fn       func()

	fired   bool
	stopped bool
}

func New(timeout time.Duration, fn func()) *Watchdog {
	w := &Watchdog{
		timeout:  timeout,
		deadline: time.Now().Add(timeout),
		fn:       fn,
	}
	w.timer = time.AfterFunc(timeout, w.fire)
	return w
}

// Pulse restarts the countdown. It is a no-op after the watchdog fired or stopped.
func (w *Watchdog) Pulse() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fired || w.stopped {
		return
	}
	w.deadline = time.Now().Add(w.timeout)
	w.timer.Reset(w.timeout)
}

func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// Stop cancels a pending fire.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	w.timer.Stop()
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.fired || w.stopped {
		w.mu.Unlock()
		return
	}
	// таймер мог сработать в момент Pulse, тогда он уже перевзведен
	if time.Now().Before(w.deadline) {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.fn()
}
