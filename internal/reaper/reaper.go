// Package reaper owns the background lifecycle sweep: idle sessions are
// closed, half-finished teardowns are retried, and containers orphaned by
// a previous process are removed at startup.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

type Reaper struct {
	sessions Sessions
	interval time.Duration
	logger   *slog.Logger
}

func New(sessions Sessions, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		interval: interval,
		logger:   logger,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep closes idle-expired sessions and retries stuck teardowns. Every
// failure is logged and skipped; the next tick tries again.
func (r *Reaper) sweep(ctx context.Context) {
	reaped := 0
	for _, id := range r.sessions.IdleSessionIDs(time.Now().UTC()) {
		err := r.sessions.CloseExpired(ctx, id)
		switch {
		case err == nil:
			reaped++
		case errdefs.IsCode(err, errdefs.CodeSessionNotFound):
			// Closed by someone else between the scan and now.
		default:
			r.logger.Error("reaper: closing idle session", "session_id", id, "error", err)
		}
	}
	if reaped > 0 {
		r.logger.Info("reaper: closed idle sessions", "count", reaped)
	}

	for _, id := range r.sessions.StuckSessionIDs() {
		if err := r.sessions.RetryTeardown(ctx, id); err != nil {
			r.logger.Error("reaper: retrying teardown", "session_id", id, "error", err)
		}
	}
}

// reconcile removes containers a previous gateway process left behind.
func (r *Reaper) reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")
	if err := r.sessions.Reconcile(ctx); err != nil {
		r.logger.Error("reconcile failed", "error", err)
		return
	}
	r.logger.Info("reconciliation complete")
}
