package docker

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

// timeoutExitCode is what coreutils timeout(1) exits with after killing
// the command.
const timeoutExitCode = 124

// execGrace bounds how long the attach stream may outlive the in-container
// budget before the context pulls the plug. The wrapper normally fires
// first; the grace only matters when the transport itself hangs.
const execGrace = 5 * time.Second

// ExecSpec describes one command run inside a session container.
type ExecSpec struct {
	Cmd            []string
	WorkingDir     string // defaults to /sandbox
	TimeoutSeconds int    // wall budget enforced in-container; 0 disables
	MaxOutputBytes int64  // per-stream capture cap; 0 disables
}

// ExecResult carries the captured streams and the command's fate.
type ExecResult struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	TimedOut   bool
	Truncated  bool
	DurationMs int64
}

// Exec runs a command in the container and captures stdout and stderr up
// to the byte cap. The time budget is enforced by wrapping the command in
// timeout(1) inside the container, so the process dies there rather than
// being orphaned when we stop reading. Output past the cap is drained and
// discarded, which keeps the exit code observable even for chatty
// commands.
func (c *Client) Exec(ctx context.Context, containerID string, spec ExecSpec) (ExecResult, error) {
	start := time.Now()

	cmd := spec.Cmd
	if spec.TimeoutSeconds > 0 {
		cmd = append([]string{"timeout", strconv.Itoa(spec.TimeoutSeconds)}, cmd...)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSeconds)*time.Second+execGrace)
		defer cancel()
	}

	workdir := spec.WorkingDir
	if workdir == "" {
		workdir = "/sandbox"
	}

	execResp, err := c.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return ExecResult{}, errdefs.Wrap(errdefs.CodeSessionCrashed, err, "container is gone")
		}
		return ExecResult{}, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "exec create failed")
	}

	attach, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "exec attach failed")
	}
	defer attach.Close()

	stdout := newCappedWriter(spec.MaxOutputBytes)
	stderr := newCappedWriter(spec.MaxOutputBytes)

	// Demultiplex Docker's stdout/stderr stream (8-byte headers) in the
	// background so the context can cut a hung read loose.
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copyDone <- copyErr
	}()

	var timedOut bool
	select {
	case err = <-copyDone:
		if err != nil {
			return ExecResult{}, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "exec read failed")
		}
	case <-ctx.Done():
		attach.Close()
		<-copyDone
		if ctx.Err() != context.DeadlineExceeded {
			return ExecResult{}, errdefs.Wrap(errdefs.CodeInternal, ctx.Err(), "exec interrupted")
		}
		timedOut = true
	}

	exitCode := -1
	if !timedOut {
		// The exec record can lag the stream EOF by a moment.
		for i := 0; i < 20; i++ {
			inspect, err := c.docker.ContainerExecInspect(ctx, execResp.ID)
			if err != nil {
				return ExecResult{}, errdefs.Wrap(errdefs.CodeRuntimeUnavailable, err, "exec inspect failed")
			}
			if !inspect.Running {
				exitCode = inspect.ExitCode
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if spec.TimeoutSeconds > 0 && exitCode == timeoutExitCode {
			timedOut = true
		}
	}

	return ExecResult{
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		ExitCode:   exitCode,
		TimedOut:   timedOut,
		Truncated:  stdout.Truncated() || stderr.Truncated(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// cappedWriter keeps at most max bytes and swallows the rest. Writes never
// fail, so stdcopy can drain the stream to EOF regardless of output volume.
type cappedWriter struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func newCappedWriter(max int64) *cappedWriter {
	return &cappedWriter{max: max}
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.max <= 0 {
		w.buf.Write(p)
		return len(p), nil
	}
	room := w.max - int64(w.buf.Len())
	switch {
	case room >= int64(len(p)):
		w.buf.Write(p)
	case room > 0:
		w.buf.Write(p[:room])
		w.truncated = true
	default:
		if len(p) > 0 {
			w.truncated = true
		}
	}
	return len(p), nil
}

func (w *cappedWriter) Bytes() []byte   { return w.buf.Bytes() }
func (w *cappedWriter) Truncated() bool { return w.truncated }
