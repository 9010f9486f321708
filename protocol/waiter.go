package protocol

import (
	"time"
)

// Waiter is the single in-flight completion handle described in spec
// §4.5: "waiter ≠ ∅ ⇒ an operation is in flight". It is created the
// moment an operation is issued and resolved exactly once, whether by a
// terminal engine event, a timeout, or caller cancellation.
type Waiter struct {
	createdAt time.Time
	deadline  time.Time
	timer     *time.Timer

	done   chan struct{}
	result any
	err    error
}

func newWaiter(now time.Time, timeout time.Duration) *Waiter {
	w := &Waiter{createdAt: now, done: make(chan struct{})}
	if timeout > 0 {
		w.deadline = now.Add(timeout)
	}

	return w
}

// arm starts the timeout timer, invoking onTimeout exactly once if the
// waiter has not already resolved by then.
func (w *Waiter) arm(onTimeout func()) {
	if w.deadline.IsZero() {
		return
	}

	d := time.Until(w.deadline)
	if d <= 0 {
		d = 0
	}

	w.timer = time.AfterFunc(d, onTimeout)
}

// resolve completes the waiter with result/err, stopping its timer. Safe to
// call at most once; callers must only reach this through the Dispatcher's
// single-resolution paths.
func (w *Waiter) resolve(result any, err error) {
	if w.timer != nil {
		w.timer.Stop()
	}

	w.result, w.err = result, err
	close(w.done)
}

// Wait blocks until the waiter resolves and returns its result.
func (w *Waiter) Wait() (any, error) {
	<-w.done
	return w.result, w.err
}
