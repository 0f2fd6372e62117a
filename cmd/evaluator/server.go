package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/t-henke/glaskasten/protocol"
)

type server struct {
	repl *repl
}

// handleConn serves exactly one request. The gateway opens a fresh
// connection per call, so there is no framing state to carry.
func (s *server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), protocol.MaxLineBytes)
	if !scanner.Scan() {
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		writeResponse(conn, errorResponse("", "invalid request: "+err.Error()))
		return
	}

	var resp protocol.Response
	switch req.Type {
	case protocol.RequestEval:
		resp = s.repl.Eval(req)
	case protocol.RequestPing:
		resp = s.handlePing(req)
	default:
		resp = errorResponse(req.ID, fmt.Sprintf("unknown request type %q", req.Type))
	}
	writeResponse(conn, resp)
}

func (s *server) handlePing(req protocol.Request) protocol.Response {
	if !s.repl.Ready() {
		return errorResponse(req.ID, "interpreter is starting")
	}
	return protocol.Response{ID: req.ID, Type: protocol.ResponsePong}
}

func writeResponse(conn net.Conn, resp protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}

func errorResponse(id, msg string) protocol.Response {
	return protocol.Response{ID: id, Type: protocol.ResponseError, Error: msg}
}
