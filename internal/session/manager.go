// Package session implements the gateway's session lifecycle: creating
// sandboxed containers, executing code in them, moving files in and out,
// and tearing everything down again. The Manager is the single entry point
// for every operation the API exposes; it owns the in-memory registry and
// never holds its lock across a runtime call.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/t-henke/glaskasten/internal/config"
	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/evaluator"
	"github.com/t-henke/glaskasten/internal/journal"
	"github.com/t-henke/glaskasten/internal/metrics"
)

// stopGraceSeconds is how long a container gets to exit on its own before
// the runtime kills it. Sessions hold no state worth a long goodbye.
const stopGraceSeconds = 1

type Manager struct {
	cfg      *config.Config
	logger   *slog.Logger
	runtime  Runtime
	engine   engine.Engine
	registry *Registry
	journal  ExecutionJournal
	ws       Workspaces    // nil unless workspace_root is configured
	pool     ContainerPool // nil unless pool_size > 0

	// probe waits for a freshly created session's evaluator to answer.
	// Swapped out in tests.
	probe func(ctx context.Context, hostPort int) error
}

func NewManager(cfg *config.Config, logger *slog.Logger, rt Runtime, eng engine.Engine, jnl ExecutionJournal, ws Workspaces, pool ContainerPool) *Manager {
	if jnl == nil {
		jnl = noopJournal{}
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		runtime:  rt,
		engine:   eng,
		registry: NewRegistry(cfg.MaxSessions),
		journal:  jnl,
		ws:       ws,
		pool:     pool,
		probe: func(ctx context.Context, hostPort int) error {
			return evaluator.NewClient(hostPort).WaitReady(ctx)
		},
	}
}

// noopJournal stands in when no journal is configured, keeping the
// execute and list paths free of nil checks.
type noopJournal struct{}

func (noopJournal) Append(journal.Entry) error      { return nil }
func (noopJournal) Counts() (map[string]int, error) { return nil, nil }

// Registry exposes the session table for metrics gauges.
func (m *Manager) Registry() *Registry { return m.registry }

// teardownCrashed removes what is left of a crashed session so follow-up
// operations see session_not_found instead of repeated crash errors.
func (m *Manager) teardownCrashed(ctx context.Context, id string) {
	snap, err := m.registry.BeginClose(id)
	if err != nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := m.runtime.RemoveContainer(ctx, snap.ContainerID); err != nil {
		m.logger.Error("crashed session cleanup failed", "session_id", id, "error", err)
		return
	}
	m.registry.FinishClose(id)
	metrics.SessionsClosed.WithLabelValues("crashed").Inc()
	m.logger.Warn("session crashed", "session_id", id, "container_id", snap.ContainerID)
}

// finishTeardown stops and removes a terminating session's container and
// drops its record. On failure the record stays terminating and the reaper
// retries later.
func (m *Manager) finishTeardown(ctx context.Context, snap Snapshot, reason string) error {
	if err := m.runtime.StopContainer(ctx, snap.ContainerID, stopGraceSeconds); err != nil {
		m.logger.Error("stopping session container", "session_id", snap.ID, "error", err)
	}
	if err := m.runtime.RemoveContainer(ctx, snap.ContainerID); err != nil {
		m.logger.Error("removing session container", "session_id", snap.ID, "error", err)
		return err
	}
	m.registry.FinishClose(snap.ID)
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	m.logger.Info("session closed", "session_id", snap.ID, "reason", reason)
	return nil
}

// RetryTeardown re-runs teardown for a session stuck in terminating.
func (m *Manager) RetryTeardown(ctx context.Context, id string) error {
	for _, snap := range m.registry.Terminating() {
		if snap.ID == id {
			return m.finishTeardown(ctx, snap, "retry")
		}
	}
	return nil
}

// Reconcile removes containers left over from a previous gateway process:
// anything carrying our labels that no registry record or pool entry
// accounts for. The registry lives in memory, so after a restart every
// labeled container is an orphan by definition.
func (m *Manager) Reconcile(ctx context.Context) error {
	managed, err := m.runtime.ListManaged(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, snap := range m.registry.List() {
		known[snap.ContainerID] = true
	}
	for _, snap := range m.registry.Terminating() {
		known[snap.ContainerID] = true
	}

	for _, c := range managed {
		if known[c.ContainerID] {
			continue
		}
		if m.pool != nil && m.pool.Owns(c.ContainerID) {
			continue
		}
		m.logger.Warn("removing orphaned container", "container_id", c.ContainerID, "session_id", c.SessionID)
		if err := m.runtime.RemoveContainer(ctx, c.ContainerID); err != nil {
			m.logger.Error("orphan removal failed", "container_id", c.ContainerID, "error", err)
		}
	}
	return nil
}

// Shutdown force-closes every session. Containers left behind would be
// unreachable after a restart, so this runs before the process exits.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, snap := range m.registry.List() {
		if err := m.Close(ctx, snap.ID, true); err != nil && !errdefs.IsCode(err, errdefs.CodeSessionNotFound) {
			m.logger.Error("closing session during shutdown", "session_id", snap.ID, "error", err)
		}
	}
	for _, snap := range m.registry.Terminating() {
		if err := m.finishTeardown(ctx, snap, "shutdown"); err != nil {
			m.logger.Error("final teardown during shutdown", "session_id", snap.ID, "error", err)
		}
	}
}

// IdleSessionIDs returns live sessions idle past their window, oldest first.
func (m *Manager) IdleSessionIDs(now time.Time) []string {
	var ids []string
	for _, snap := range m.registry.List() {
		if snap.Idle(now) {
			ids = append(ids, snap.ID)
		}
	}
	return ids
}

// StuckSessionIDs returns sessions whose teardown needs another attempt.
func (m *Manager) StuckSessionIDs() []string {
	var ids []string
	for _, snap := range m.registry.Terminating() {
		ids = append(ids, snap.ID)
	}
	return ids
}

func newSessionID() string {
	return uuid.NewString()
}
