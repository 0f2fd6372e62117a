package session

import (
	"context"
	"strings"
	"time"

	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/journal"
	"github.com/t-henke/glaskasten/internal/metrics"
)

// ExecOpts carries the caller's per-call limit overrides. Nil means use
// the configured default; zero and negative values are rejected.
type ExecOpts struct {
	MaxDurationSeconds *int
	MaxOutputBytes     *int
}

// Execute runs code in a session and returns the completed outcome. Calls
// against the same session are serialized: one runs, one may queue, more
// fail fast with session_busy. Time spent queued is charged against the
// call's own duration budget.
func (m *Manager) Execute(ctx context.Context, id, code string, opts ExecOpts) (*engine.Outcome, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "code must be a non-empty string")
	}
	if len(code) > m.cfg.MaxCodeChars {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "code exceeds %d characters", m.cfg.MaxCodeChars).
			WithDetails(map[string]any{"max_code_chars": m.cfg.MaxCodeChars})
	}
	limits, err := m.resolveLimits(opts)
	if err != nil {
		return nil, err
	}

	if _, err := m.registry.Lookup(id); err != nil {
		return nil, err
	}
	gate, err := m.registry.gateFor(id)
	if err != nil {
		return nil, err
	}

	m.registry.Touch(id)

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(limits.MaxDurationSeconds)*time.Second)
	start := time.Now()
	err = gate.enter(waitCtx, id)
	cancel()
	if err != nil {
		return nil, err
	}
	defer gate.leave()

	// The session may have been closed or reaped while this call queued.
	snap, err := m.registry.Lookup(id)
	if err != nil {
		return nil, errdefs.New(errdefs.CodeSessionCrashed, "session %s closed while the call was queued", id)
	}

	// Whatever the queue wait consumed comes out of the run budget.
	if waited := int(time.Since(start).Seconds()); waited > 0 {
		limits.MaxDurationSeconds -= waited
		if limits.MaxDurationSeconds < 1 {
			return nil, errdefs.New(errdefs.CodeTimeout, "execute queued behind a running call for the whole budget")
		}
	}

	out, err := m.engine.Run(ctx, engine.Target{ContainerID: snap.ContainerID, HostPort: snap.HostPort}, code, limits)
	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeSessionCrashed) {
			m.teardownCrashed(ctx, id)
		}
		return nil, err
	}

	m.registry.Touch(id)
	m.recordExecution(id, code, out)

	m.logger.Info("execute finished",
		"session_id", id,
		"success", out.Success,
		"timed_out", out.TimedOut,
		"elapsed_s", out.ElapsedSeconds)
	return out, nil
}

func (m *Manager) resolveLimits(opts ExecOpts) (engine.Limits, error) {
	limits := engine.Limits{
		MaxDurationSeconds: m.cfg.DefaultExecTimeoutSeconds,
		MaxOutputBytes:     int64(m.cfg.MaxOutputBytes),
	}
	if opts.MaxDurationSeconds != nil {
		if *opts.MaxDurationSeconds <= 0 {
			return engine.Limits{}, errdefs.New(errdefs.CodeInvalidArgument, "max_duration_seconds must be positive")
		}
		limits.MaxDurationSeconds = *opts.MaxDurationSeconds
	}
	if opts.MaxOutputBytes != nil {
		if *opts.MaxOutputBytes <= 0 {
			return engine.Limits{}, errdefs.New(errdefs.CodeInvalidArgument, "max_output_bytes must be positive")
		}
		limits.MaxOutputBytes = int64(*opts.MaxOutputBytes)
	}
	return limits, nil
}

// recordExecution journals a completed outcome and bumps the counters.
// Journal failures are logged, never surfaced; history is best effort.
func (m *Manager) recordExecution(id, code string, out *engine.Outcome) {
	outcome := "failure"
	switch {
	case out.TimedOut:
		outcome = "timeout"
	case out.Success:
		outcome = "success"
	}
	metrics.Executions.WithLabelValues(outcome).Inc()
	metrics.ExecutionSeconds.Observe(out.ElapsedSeconds)

	if err := m.journal.Append(journal.Entry{
		SessionID:      id,
		Timestamp:      time.Now().UTC(),
		Success:        out.Success,
		ElapsedSeconds: out.ElapsedSeconds,
		CodeLen:        len(code),
	}); err != nil {
		m.logger.Error("journal append failed", "session_id", id, "error", err)
	}
}
