package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/session"
)

type executeArgs struct {
	ID     string         `json:"id"`
	Code   string         `json:"code"`
	Limits *executeLimits `json:"limits"`
}

type executeLimits struct {
	MaxDurationSeconds *int `json:"max_duration_seconds"`
	MaxOutputBytes     *int `json:"max_output_bytes"`
}

type executeMeta struct {
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	OutputTruncated bool    `json:"output_truncated"`
}

type executeResult struct {
	Output string      `json:"output"`
	Result *string     `json:"result,omitempty"`
	Meta   executeMeta `json:"meta"`
}

func (d *Dispatcher) executeInSession(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args executeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "id is required")
	}

	var opts session.ExecOpts
	if args.Limits != nil {
		opts.MaxDurationSeconds = args.Limits.MaxDurationSeconds
		opts.MaxOutputBytes = args.Limits.MaxOutputBytes
	}

	out, err := d.svc.Execute(ctx, args.ID, args.Code, opts)
	if err != nil {
		return nil, err
	}

	meta := executeMeta{ElapsedSeconds: out.ElapsedSeconds, OutputTruncated: out.Truncated}
	if out.Success {
		res := executeResult{Output: out.Output, Meta: meta}
		if out.HasResult {
			res.Result = &out.Result
		}
		return success(res)
	}

	// The code itself failed; the envelope reports the failure but still
	// carries whatever the run produced.
	env := failure(evalError(out))
	env["output"] = out.Output
	env["meta"] = meta
	return env, nil
}

// evalError maps a failed outcome onto the taxonomy: a spent time budget is
// a timeout, anything else is an execution error with the interpreter's
// message.
func evalError(out *engine.Outcome) *errdefs.Error {
	if out.TimedOut {
		return errdefs.New(errdefs.CodeTimeout, "execution timed out after %.1f seconds", out.ElapsedSeconds)
	}
	msg := out.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("execution failed with exit code %d", out.ExitCode)
	}
	e := errdefs.New(errdefs.CodeExecutionError, "%s", msg)
	if out.ExitCode != 0 {
		e = e.WithDetails(map[string]any{"exit_code": out.ExitCode})
	}
	return e
}

type installPackageArgs struct {
	ID          string `json:"id"`
	PackageName string `json:"package_name"`
	Source      string `json:"source"`
}

func (d *Dispatcher) installPackage(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args installPackageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "id is required")
	}
	if args.PackageName == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "package_name is required")
	}

	res, err := d.svc.InstallPackage(ctx, args.ID, args.PackageName, args.Source)
	if err != nil {
		return nil, err
	}
	return success(res)
}
