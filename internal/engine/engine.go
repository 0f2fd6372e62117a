// Package engine runs code inside session containers. Two variants exist:
// one-shot (a fresh interpreter process per call) and persistent (a
// long-running evaluator that keeps state between calls). Both report a
// completed evaluation as an Outcome, including evaluations that failed or
// hit their budget; errors are reserved for infrastructure failures where
// the code may not have run at all.
package engine

import (
	"context"
	"strings"

	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/protocol"
)

// Target identifies where a session's code runs.
type Target struct {
	ContainerID string
	HostPort    int // published evaluator port, persistent variant only
}

// Limits are the resolved per-call budgets. The session manager fills in
// configuration defaults before calling the engine, so both fields are
// always positive here.
type Limits struct {
	MaxDurationSeconds int
	MaxOutputBytes     int64
}

// Outcome is a completed evaluation. Success is false for code that raised
// an error, exited non-zero, or overran its time budget; the session stays
// usable in all three cases.
type Outcome struct {
	Success        bool
	Output         string
	Result         string // visible value of the last expression, persistent variant
	HasResult      bool
	ErrorMessage   string // interpreter-reported failure (stderr or condition message)
	ExitCode       int    // one-shot variant; 0 for persistent
	TimedOut       bool
	Truncated      bool
	ElapsedSeconds float64
}

type Engine interface {
	Run(ctx context.Context, target Target, code string, limits Limits) (*Outcome, error)
}

// Runtime is the slice of the runtime adapter the engines need.
type Runtime interface {
	Exec(ctx context.Context, containerID string, spec docker.ExecSpec) (docker.ExecResult, error)
	Inspect(ctx context.Context, containerID string) (docker.InspectResult, error)
}

// EvalClient talks to one session's persistent evaluator.
type EvalClient interface {
	Eval(ctx context.Context, req protocol.Request) (*protocol.Response, error)
}

// lossyUTF8 decodes bytes as UTF-8, replacing invalid sequences instead of
// failing; sandboxed code prints whatever it likes.
func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
