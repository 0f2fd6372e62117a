// Package api exposes the gateway operations over HTTP. Every operation is a
// POST to /v1/operations/{name} with a JSON argument object; the response is
// the operation envelope verbatim, with the HTTP status derived from the
// envelope's error code. Transport concerns (request ids, body limits, status
// mapping) live here, operation semantics live in the ops package.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/metrics"
	"github.com/t-henke/glaskasten/internal/ops"
)

// Server routes operation requests to a Dispatcher.
type Server struct {
	dispatcher   Dispatcher
	maxBodyBytes int64
	logger       *slog.Logger
	mux          *http.ServeMux
}

// NewServer builds the HTTP surface. maxBodyBytes caps the request body; it
// must leave room for write_session_file payloads plus JSON overhead.
func NewServer(dispatcher Dispatcher, maxBodyBytes int64, logger *slog.Logger) *Server {
	s := &Server{
		dispatcher:   dispatcher,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the server's handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.logMiddleware(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/operations/{name}", s.handleOperation)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.dispatcher.Handles(name) {
		writeJSON(w, http.StatusNotFound, ops.Failure(errdefs.CodeInvalidArgument,
			fmt.Sprintf("unknown operation %q", name)))
		return
	}

	args, err := readArgs(r, s.maxBodyBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ops.Failure(errdefs.CodeFileTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		writeJSON(w, http.StatusBadRequest, ops.Failure(errdefs.CodeInvalidArgument,
			"request body is not readable"))
		return
	}

	env := s.dispatcher.Dispatch(r.Context(), name, args)
	writeJSON(w, statusForCode(env.ErrorCode()), env)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readArgs drains the request body. An empty body is valid: operations with
// optional arguments (list_sessions, create_session) accept it.
func readArgs(r *http.Request, limit int64) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// statusForCode maps the error taxonomy onto HTTP statuses. Execution
// failures of user code stay 200: the gateway did its job, the envelope
// carries the verdict.
func statusForCode(code errdefs.Code) int {
	switch code {
	case "":
		return http.StatusOK
	case errdefs.CodeInvalidArgument, errdefs.CodeInvalidPath:
		return http.StatusBadRequest
	case errdefs.CodeSessionNotFound, errdefs.CodeFileNotFound, errdefs.CodeImageMissing:
		return http.StatusNotFound
	case errdefs.CodeCapacityExhausted, errdefs.CodeSessionBusy, errdefs.CodeSessionActive:
		return http.StatusConflict
	case errdefs.CodeSessionCrashed:
		return http.StatusGone
	case errdefs.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case errdefs.CodeTimeout:
		return http.StatusGatewayTimeout
	case errdefs.CodeEvaluatorUnreachable:
		return http.StatusBadGateway
	case errdefs.CodeRuntimeUnavailable:
		return http.StatusServiceUnavailable
	case errdefs.CodeExecutionError:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}
