package session

import (
	"context"
	"sync"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

// maxQueued bounds how many callers may wait for a session's execute slot.
// One call runs, one may queue; anyone else is told the session is busy
// instead of piling up behind a slot that could be minutes away.
const maxQueued = 1

// gate serializes executes against a single session.
type gate struct {
	mu      sync.Mutex
	waiting int
	slot    chan struct{}
}

func newGate() *gate {
	return &gate{slot: make(chan struct{}, 1)}
}

// enter claims the execute slot, blocking until it frees or ctx expires.
// A full queue fails fast with session_busy.
func (g *gate) enter(ctx context.Context, id string) error {
	g.mu.Lock()
	if g.waiting > maxQueued {
		g.mu.Unlock()
		return errdefs.New(errdefs.CodeSessionBusy, "session %s already has an execute running and another queued", id)
	}
	g.waiting++
	g.mu.Unlock()

	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
		return errdefs.New(errdefs.CodeTimeout, "execute queued behind a running call for the whole budget")
	}
}

// leave frees the slot claimed by enter.
func (g *gate) leave() {
	<-g.slot
	g.mu.Lock()
	g.waiting--
	g.mu.Unlock()
}
