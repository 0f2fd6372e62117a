package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/t-henke/glaskasten/protocol"
)

const (
	pollInterval   = 50 * time.Millisecond
	interruptGrace = 2 * time.Second
	startupBudget  = 60 * time.Second
)

const readyMarker = "__GLASKASTEN_READY__"

// bootstrap is sourced into the interpreter once at startup. It installs
// .gk$run, which evaluates a staged code file in the global environment
// under an elapsed-time limit and reports through files in a scratch
// directory: output (sinked stdout+messages), result (deparsed visible
// value), error (condition message), elapsed (seconds). The completion
// marker is printed to the real stdout only after the sinks are unwound,
// so the harness can poll the PTY for it.
const bootstrap = `
.gk <- new.env()

.gk$run <- function(codefile, timeout, outdir, marker) {
  on.exit(setTimeLimit(cpu = Inf, elapsed = Inf), add = TRUE)
  con <- file(file.path(outdir, "output"), open = "wt")
  sink(con, type = "output")
  sink(con, type = "message")
  on.exit({
    try(sink(type = "message"), silent = TRUE)
    while (sink.number() > 0) sink()
    try(close(con), silent = TRUE)
    cat(marker, "\n", sep = "")
  }, add = TRUE)

  start <- proc.time()[["elapsed"]]
  tryCatch({
    setTimeLimit(elapsed = timeout, transient = TRUE)
    value <- withVisible(eval(parse(file = codefile), envir = globalenv()))
    setTimeLimit(cpu = Inf, elapsed = Inf)
    if (value$visible) {
      print(value$value)
      res <- tryCatch(paste(deparse(value$value, nlines = 512L), collapse = "\n"),
                      error = function(e) NULL)
      if (!is.null(res)) writeLines(res, file.path(outdir, "result"))
    }
  }, error = function(e) {
    setTimeLimit(cpu = Inf, elapsed = Inf)
    writeLines(conditionMessage(e), file.path(outdir, "error"))
  }, interrupt = function(e) {
    setTimeLimit(cpu = Inf, elapsed = Inf)
    writeLines("evaluation interrupted", file.path(outdir, "error"))
  })
  writeLines(sprintf("%.3f", proc.time()[["elapsed"]] - start), file.path(outdir, "elapsed"))
  invisible(NULL)
}

dir.create(Sys.getenv("R_LIBS_USER"), recursive = TRUE, showWarnings = FALSE)
.libPaths(c(Sys.getenv("R_LIBS_USER"), .libPaths()))
options(warn = 1L)
cat("__GLASKASTEN_READY__\n")
`

type repl struct {
	ptmx *os.File
	cmd  *exec.Cmd
	buf  *ringBuffer
	mu   sync.Mutex // serializes evaluations
	seq  atomic.Uint64

	ready   atomic.Bool
	dead    atomic.Bool
	closing atomic.Bool
}

// startREPL launches R on a PTY and sources the bootstrap. The ready flag
// flips asynchronously once the interpreter prints its startup marker;
// until then pings are answered with an error and the gateway keeps
// polling.
func startREPL() (*repl, error) {
	rbin, err := exec.LookPath("R")
	if err != nil {
		return nil, fmt.Errorf("R interpreter not found: %w", err)
	}

	cmd := exec.Command(rbin, "--no-save", "--no-restore", "--quiet", "--no-readline")
	if _, err := os.Stat("/sandbox"); err == nil {
		cmd.Dir = "/sandbox"
	}
	// Pin message language so time-limit conditions stay classifiable.
	cmd.Env = append(os.Environ(), "TERM=dumb", "LANGUAGE=en", "LC_ALL=C.UTF-8")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("pty start: %w", err)
	}
	pty.Setsize(ptmx, &pty.Winsize{Rows: 40, Cols: 200})

	r := &repl{
		ptmx: ptmx,
		cmd:  cmd,
		buf:  newRingBuffer(protocol.MaxOutputBytes),
	}

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				r.buf.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	// The interpreter owns the container's fate: if it exits, so does the
	// harness, and the gateway sees a dead container instead of a healthy
	// port with nothing behind it.
	go func() {
		cmd.Wait()
		r.dead.Store(true)
		if r.closing.Load() {
			return
		}
		fmt.Fprintln(os.Stderr, "interpreter exited unexpectedly")
		os.Exit(1)
	}()

	go r.boot()
	return r, nil
}

func (r *repl) boot() {
	path := filepath.Join(os.TempDir(), "bootstrap.R")
	if err := os.WriteFile(path, []byte(bootstrap), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write bootstrap: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(r.ptmx, "source(%q)\n", path)

	deadline := time.Now().Add(startupBudget)
	var acc []byte
	for time.Now().Before(deadline) {
		acc = append(acc, r.buf.ReadAndReset()...)
		if bytes.Contains(acc, []byte(readyMarker)) {
			r.ready.Store(true)
			return
		}
		time.Sleep(pollInterval)
	}
	fmt.Fprintln(os.Stderr, "interpreter did not become ready")
	os.Exit(1)
}

func (r *repl) Ready() bool {
	return r.ready.Load() && !r.dead.Load()
}

func (r *repl) Close() {
	r.closing.Store(true)
	if r.cmd.Process != nil {
		r.cmd.Process.Signal(syscall.SIGTERM)
	}
	r.ptmx.Close()
}

// Eval stages the code in a scratch directory, asks the interpreter to run
// it, and polls the PTY for the completion marker. Staging through a file
// keeps the PTY line short regardless of code size and keeps user output
// out of the terminal stream entirely.
func (r *repl) Eval(req protocol.Request) protocol.Response {
	if strings.TrimSpace(req.Code) == "" {
		return errorResponse(req.ID, "empty code")
	}
	if !r.Ready() {
		return errorResponse(req.ID, "interpreter is not ready")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = protocol.DefaultEvalTimeoutMs * time.Millisecond
	}
	maxOut := req.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = protocol.MaxOutputBytes
	}

	dir, err := os.MkdirTemp("", fmt.Sprintf("eval-%d-", r.seq.Add(1)))
	if err != nil {
		return errorResponse(req.ID, "scratch dir: "+err.Error())
	}
	defer os.RemoveAll(dir)

	codePath := filepath.Join(dir, "code.R")
	if err := os.WriteFile(codePath, []byte(req.Code), 0o600); err != nil {
		return errorResponse(req.ID, "stage code: "+err.Error())
	}

	marker := newMarker()
	r.buf.ReadAndReset() // drop stale interpreter chatter

	// The marker is passed in two halves through paste0 so the PTY echo of
	// this command line never contains the assembled string; only the
	// interpreter's own cat can produce it.
	line := fmt.Sprintf(".gk$run(%q, %.3f, %q, paste0(%q, %q))\n",
		codePath, timeout.Seconds(), dir, marker[:4], marker[4:])

	start := time.Now()
	if _, err := r.ptmx.Write([]byte(line)); err != nil {
		return errorResponse(req.ID, "write to interpreter: "+err.Error())
	}

	deadline := start.Add(timeout + interruptGrace)
	interrupted := false
	var acc []byte
	for {
		time.Sleep(pollInterval)
		acc = append(acc, r.buf.ReadAndReset()...)
		if bytes.Contains(acc, []byte(marker)) {
			break
		}
		if len(acc) > 4096 {
			acc = acc[len(acc)-2048:]
		}
		if r.dead.Load() {
			return errorResponse(req.ID, "interpreter exited during evaluation")
		}
		if time.Now().After(deadline) {
			if !interrupted {
				// The in-interpreter limit should have fired already; an
				// overdue evaluation is stuck below R, so interrupt it.
				r.ptmx.Write([]byte{0x03})
				interrupted = true
				deadline = time.Now().Add(interruptGrace)
				continue
			}
			return protocol.Response{
				ID:         req.ID,
				Type:       protocol.ResponseEval,
				Status:     1,
				TimedOut:   true,
				Error:      "evaluation exceeded its time budget and could not be interrupted",
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
	}

	return readOutcome(req.ID, dir, maxOut, interrupted, time.Since(start))
}

// readOutcome assembles the response from the scratch directory. A missing
// elapsed file means the run unwound before finishing its cleanup, which
// only happens when the time limit fired during teardown.
func readOutcome(id, dir string, maxOut int64, interrupted bool, wall time.Duration) protocol.Response {
	resp := protocol.Response{ID: id, Type: protocol.ResponseEval, DurationMs: wall.Milliseconds()}

	resp.Output, resp.Truncated = readCapped(filepath.Join(dir, "output"), maxOut)

	elapsedSeen := false
	if raw, err := os.ReadFile(filepath.Join(dir, "elapsed")); err == nil {
		elapsedSeen = true
		if secs, perr := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64); perr == nil {
			resp.DurationMs = int64(secs * 1000)
		}
	}

	if raw, err := os.ReadFile(filepath.Join(dir, "error")); err == nil {
		resp.Status = 1
		resp.Error = strings.TrimSpace(string(raw))
		if isTimeLimitMessage(resp.Error) {
			resp.TimedOut = true
		}
	} else if !elapsedSeen {
		resp.Status = 1
		resp.TimedOut = true
		resp.Error = "evaluation exceeded its time budget"
	} else if raw, err := os.ReadFile(filepath.Join(dir, "result")); err == nil {
		resp.Result = strings.TrimRight(string(raw), "\n")
		resp.HasResult = true
	}

	if interrupted {
		resp.Status = 1
		resp.TimedOut = true
		if resp.Error == "" || resp.Error == "evaluation interrupted" {
			resp.Error = "evaluation exceeded its time budget"
		}
	}
	return resp
}

func isTimeLimitMessage(msg string) bool {
	return strings.Contains(msg, "reached elapsed time limit") ||
		strings.Contains(msg, "reached CPU time limit")
}

func readCapped(path string, max int64) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, max+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", false
	}
	if int64(n) > max {
		return string(buf[:max]), true
	}
	return string(buf[:n]), false
}

func newMarker() string {
	raw := make([]byte, 8)
	rand.Read(raw)
	return "__GK_" + hex.EncodeToString(raw) + "__"
}

// ringBuffer is a bounded byte buffer for PTY output.
type ringBuffer struct {
	mu   sync.Mutex
	data []byte
	cap  int
}

func newRingBuffer(cap int) *ringBuffer {
	return &ringBuffer{data: make([]byte, 0, cap), cap: cap}
}

func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.data = append(rb.data, p...)
	if len(rb.data) > rb.cap {
		rb.data = rb.data[len(rb.data)-rb.cap:]
	}
	return len(p), nil
}

func (rb *ringBuffer) ReadAndReset() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]byte, len(rb.data))
	copy(out, rb.data)
	rb.data = rb.data[:0]
	return out
}
