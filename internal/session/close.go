package session

import (
	"context"
	"time"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

// Close tears a session down. Without force, a session that was used
// within its idle window is left alone and the caller gets session_active.
// The workspace directory survives the close.
func (m *Manager) Close(ctx context.Context, id string, force bool) error {
	snap, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}

	if !force && !snap.Idle(time.Now().UTC()) {
		return errdefs.New(errdefs.CodeSessionActive,
			"session %s was used recently; pass force to close it anyway", id)
	}

	snap, err = m.registry.BeginClose(id)
	if err != nil {
		// Another close won the race.
		return err
	}
	return m.finishTeardown(ctx, snap, "explicit")
}

// CloseExpired force-closes a session only if it is still past its idle
// window, so a touch landing between the reaper's scan and this call keeps
// the session alive.
func (m *Manager) CloseExpired(ctx context.Context, id string) error {
	snap, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}
	if !snap.Idle(time.Now().UTC()) {
		return nil
	}

	snap, err = m.registry.BeginClose(id)
	if err != nil {
		return err
	}
	return m.finishTeardown(ctx, snap, "reaped")
}
