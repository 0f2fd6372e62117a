// Package ops maps operation names onto session manager calls. It owns the
// request schemas, the per-operation validation, and the response envelope;
// transports stay thin and hand every request to Dispatch.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/metrics"
)

// Operation names. The set is part of the API contract.
const (
	OpCreateSession    = "create_session"
	OpListSessions     = "list_sessions"
	OpCloseSession     = "close_session"
	OpExecuteInSession = "execute_in_session"
	OpListSessionFiles = "list_session_files"
	OpReadSessionFile  = "read_session_file"
	OpWriteSessionFile = "write_session_file"
	OpInstallPackage   = "install_package"
)

// handler decodes one operation's arguments and runs it. A returned error
// becomes a failure envelope; a handler may instead build the failure
// envelope itself when the outcome still carries payload, as execute does
// with partial output.
type handler func(ctx context.Context, args json.RawMessage) (Envelope, error)

type Dispatcher struct {
	svc      Service
	logger   *slog.Logger
	handlers map[string]handler
}

func NewDispatcher(svc Service, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{svc: svc, logger: logger}
	d.handlers = map[string]handler{
		OpCreateSession:    d.createSession,
		OpListSessions:     d.listSessions,
		OpCloseSession:     d.closeSession,
		OpExecuteInSession: d.executeInSession,
		OpListSessionFiles: d.listSessionFiles,
		OpReadSessionFile:  d.readSessionFile,
		OpWriteSessionFile: d.writeSessionFile,
		OpInstallPackage:   d.installPackage,
	}
	return d
}

// Handles reports whether name is a known operation.
func (d *Dispatcher) Handles(name string) bool {
	_, ok := d.handlers[name]
	return ok
}

// Dispatch runs one named operation and always returns a renderable
// envelope; errors never escape past this boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) Envelope {
	h, ok := d.handlers[name]
	if !ok {
		metrics.OperationRequests.WithLabelValues("unknown", string(errdefs.CodeInvalidArgument)).Inc()
		return failure(errdefs.New(errdefs.CodeInvalidArgument, "unknown operation %q", name))
	}

	start := time.Now()
	env, err := h(ctx, args)
	if err != nil {
		env = d.failureFor(name, err)
	}

	code := "ok"
	if c := env.ErrorCode(); c != "" {
		code = string(c)
	}
	metrics.OperationRequests.WithLabelValues(name, code).Inc()
	metrics.OperationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	d.logger.Debug("operation handled", "operation", name, "code", code)
	return env
}

// failureFor classifies err into an envelope. Anything outside the taxonomy
// is logged with a correlation id and surfaces as an opaque internal error.
func (d *Dispatcher) failureFor(op string, err error) Envelope {
	e, ok := errdefs.AsError(err)
	if !ok {
		cid := uuid.NewString()[:8]
		d.logger.Error("operation failed", "operation", op, "correlation_id", cid, "error", err)
		e = errdefs.New(errdefs.CodeInternal, "internal error (correlation id %s)", cid)
	}
	return failure(e)
}

// decodeArgs unmarshals the raw argument object. Absent arguments decode to
// the zero value so operations with all-optional inputs accept an empty body.
func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errdefs.New(errdefs.CodeInvalidArgument, "invalid arguments: %v", err)
	}
	return nil
}
