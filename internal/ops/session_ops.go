package ops

import (
	"context"
	"encoding/json"
	"time"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/session"
)

type createSessionArgs struct {
	// TimeoutSeconds overrides the configured idle timeout for this
	// session only. Zero or absent keeps the default.
	TimeoutSeconds int `json:"timeout_seconds"`
}

type createSessionResult struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	HostPort   int       `json:"host_port,omitempty"`
}

func (d *Dispatcher) createSession(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args createSessionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	info, err := d.svc.Create(ctx, session.CreateOpts{TimeoutSeconds: args.TimeoutSeconds})
	if err != nil {
		return nil, err
	}
	return success(createSessionResult{
		ID:         info.ID,
		CreatedAt:  info.CreatedAt,
		LastUsedAt: info.LastUsedAt,
		HostPort:   info.HostPort,
	})
}

type listSessionsArgs struct {
	IncludeInactive bool `json:"include_inactive"`
}

type listSessionsResult struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

func (d *Dispatcher) listSessions(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args listSessionsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	sessions := d.svc.List(args.IncludeInactive)
	return success(listSessionsResult{Sessions: sessions, Count: len(sessions)})
}

type closeSessionArgs struct {
	ID string `json:"id"`
	// Force defaults to true: a close request wins over in-flight work
	// unless the caller explicitly asks for the polite variant.
	Force *bool `json:"force"`
}

type messageResult struct {
	Message string `json:"message"`
}

func (d *Dispatcher) closeSession(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args closeSessionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "id is required")
	}

	force := true
	if args.Force != nil {
		force = *args.Force
	}
	if err := d.svc.Close(ctx, args.ID, force); err != nil {
		return nil, err
	}
	return success(messageResult{Message: "session " + args.ID + " closed"})
}
