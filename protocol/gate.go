package protocol

import "context"

// gate is a level-triggered boolean flag a goroutine can block on until it
// flips open, implemented with the close-and-replace channel idiom (the
// same trick context.Context uses for Done()). It backs the COPY IN
// "writing allowed" signal: Pause/Resume toggle a level, not a counter, so
// redundant pauses or resumes are no-ops.
type gate struct {
	open bool
	ch   chan struct{}
}

func newGate(open bool) *gate {
	g := &gate{open: open, ch: make(chan struct{})}
	if open {
		close(g.ch)
	}

	return g
}

// Pause closes the gate. Callers currently blocked in Wait keep blocking;
// new Wait calls will block too, until the next Resume.
func (g *gate) Pause() {
	if !g.open {
		return
	}

	g.open = false
	g.ch = make(chan struct{})
}

// Resume opens the gate, releasing every Wait call blocked on it.
func (g *gate) Resume() {
	if g.open {
		return
	}

	g.open = true
	close(g.ch)
}

// Wait blocks until the gate is open or ctx is done.
func (g *gate) Wait(ctx context.Context) error {
	if g.open {
		return nil
	}

	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
