package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/evaluator"
	"github.com/t-henke/glaskasten/protocol"
)

// transportGrace is how much longer than the in-evaluator budget the
// transport call may take before we declare it hung. The evaluator
// enforces the budget itself and answers with a timed-out response, so
// the grace only fires when the evaluator stops talking.
const transportGrace = 5 * time.Second

// Persistent runs code in the session's long-running evaluator, so
// variables, attached libraries, and open handles survive between calls.
type Persistent struct {
	runtime   Runtime
	newClient func(hostPort int) EvalClient
}

func NewPersistent(rt Runtime) *Persistent {
	return &Persistent{
		runtime:   rt,
		newClient: func(hostPort int) EvalClient { return evaluator.NewClient(hostPort) },
	}
}

func (e *Persistent) Run(ctx context.Context, target Target, code string, limits Limits) (*Outcome, error) {
	client := e.newClient(target.HostPort)

	callCtx := ctx
	if limits.MaxDurationSeconds > 0 {
		var cancel context.CancelFunc
		budget := time.Duration(limits.MaxDurationSeconds) * time.Second
		callCtx, cancel = context.WithTimeout(ctx, budget+transportGrace)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.Eval(callCtx, protocol.Request{
		ID:             uuid.NewString(),
		Type:           protocol.RequestEval,
		Code:           code,
		TimeoutMs:      limits.MaxDurationSeconds * 1000,
		MaxOutputBytes: limits.MaxOutputBytes,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return nil, e.classify(ctx, target.ContainerID, err)
	}
	if resp.Type == protocol.ResponseError {
		return nil, errdefs.New(errdefs.CodeInternal, "evaluator rejected request: %s", resp.Error)
	}

	return &Outcome{
		Success:        resp.Status == 0 && !resp.TimedOut,
		Output:         resp.Output,
		Result:         resp.Result,
		HasResult:      resp.HasResult,
		ErrorMessage:   resp.Error,
		TimedOut:       resp.TimedOut,
		Truncated:      resp.Truncated,
		ElapsedSeconds: elapsed,
	}, nil
}

// classify turns a transport failure into session_crashed when the
// container has exited; while the container still runs the failure stays
// evaluator_unreachable and the caller may retry.
func (e *Persistent) classify(ctx context.Context, containerID string, cause error) error {
	insCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	ins, err := e.runtime.Inspect(insCtx, containerID)
	if err == nil && (!ins.Exists || !ins.Running) {
		return errdefs.Wrap(errdefs.CodeSessionCrashed, cause, "session container has exited")
	}
	return cause
}
