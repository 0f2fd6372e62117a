package engine

import (
	"context"
	"time"

	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/errdefs"
)

// Oneshot runs each code string as a fresh interpreter process via
// in-container exec. No state survives between calls.
type Oneshot struct {
	runtime     Runtime
	interpreter string
}

func NewOneshot(rt Runtime) *Oneshot {
	return &Oneshot{runtime: rt, interpreter: "python3"}
}

func (e *Oneshot) Run(ctx context.Context, target Target, code string, limits Limits) (*Outcome, error) {
	res, err := e.runtime.Exec(ctx, target.ContainerID, docker.ExecSpec{
		Cmd:            []string{e.interpreter, "-c", code},
		TimeoutSeconds: limits.MaxDurationSeconds,
		MaxOutputBytes: limits.MaxOutputBytes,
	})
	if err != nil {
		return nil, e.classify(ctx, target.ContainerID, err)
	}

	return &Outcome{
		Success:        res.ExitCode == 0 && !res.TimedOut,
		Output:         lossyUTF8(res.Stdout),
		ErrorMessage:   lossyUTF8(res.Stderr),
		ExitCode:       res.ExitCode,
		TimedOut:       res.TimedOut,
		Truncated:      res.Truncated,
		ElapsedSeconds: float64(res.DurationMs) / 1000,
	}, nil
}

// classify refines an exec failure: a container that is gone or stopped
// means the session crashed, anything else stays as reported. The inspect
// runs on a fresh short deadline because the calling context may already
// be dead.
func (e *Oneshot) classify(ctx context.Context, containerID string, cause error) error {
	if errdefs.IsCode(cause, errdefs.CodeSessionCrashed) {
		return cause
	}
	insCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	ins, err := e.runtime.Inspect(insCtx, containerID)
	if err == nil && (!ins.Exists || !ins.Running) {
		return errdefs.Wrap(errdefs.CodeSessionCrashed, cause, "session container has exited")
	}
	return cause
}
