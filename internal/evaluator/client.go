// Package evaluator is the host-side client for the in-container evaluator
// harness: newline-delimited JSON over TCP on a loopback-published port.
package evaluator

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/protocol"
)

// Client talks to one session's evaluator. Each call opens a fresh
// connection; the evaluator serves one request per connection, which keeps
// both ends free of framing state and makes a half-dead connection
// impossible to hold on to.
type Client struct {
	addr   string
	dialer net.Dialer
}

func NewClient(hostPort int) *Client {
	return &Client{addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(hostPort))}
}

// Eval sends one request and waits for its response. The context deadline
// bounds dial, write, and read together.
func (c *Client) Eval(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeEvaluatorUnreachable, err, "evaluator dial failed")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeInternal, err, "marshal evaluator request")
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeEvaluatorUnreachable, err, "evaluator write failed")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), protocol.MaxLineBytes)
	if !scanner.Scan() {
		if scanErr := scanner.Err(); scanErr != nil {
			return nil, errdefs.Wrap(errdefs.CodeEvaluatorUnreachable, scanErr, "evaluator read failed")
		}
		return nil, errdefs.New(errdefs.CodeEvaluatorUnreachable, "evaluator closed the connection")
	}

	var resp protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeEvaluatorUnreachable, err, "malformed evaluator response")
	}
	if resp.ID != req.ID {
		return nil, errdefs.New(errdefs.CodeEvaluatorUnreachable, "evaluator answered request %q, want %q", resp.ID, req.ID)
	}
	return &resp, nil
}

// Ping round-trips a ping request.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Eval(ctx, protocol.Request{ID: uuid.NewString(), Type: protocol.RequestPing})
	if err != nil {
		return err
	}
	if resp.Type != protocol.ResponsePong {
		return errdefs.New(errdefs.CodeEvaluatorUnreachable, "unexpected evaluator response type %q", resp.Type)
	}
	return nil
}

// WaitReady polls Ping until the evaluator answers or ctx expires. Used
// once per session, right after the container starts; the interpreter can
// take a few seconds to come up.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := c.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errdefs.Wrap(errdefs.CodeEvaluatorUnreachable, err, "evaluator did not become ready")
		case <-ticker.C:
		}
	}
}
