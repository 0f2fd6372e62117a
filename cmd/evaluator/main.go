// The evaluator runs as PID 1 inside an R session container. It holds one
// R interpreter on a PTY for the container's lifetime and serves eval
// requests over TCP as newline-delimited JSON, one request per connection.
// The gateway publishes the port to the host and probes it with pings
// until the interpreter has finished starting.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/t-henke/glaskasten/protocol"
)

func main() {
	addr := flag.String("addr", fmt.Sprintf(":%d", protocol.EvaluatorPort), "listen address")
	flag.Parse()

	repl, err := startREPL()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start interpreter: %v\n", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()
	fmt.Fprintf(os.Stderr, "evaluator listening on %s\n", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		listener.Close()
		repl.Close()
		os.Exit(0)
	}()

	serve(listener, repl)
}

func serve(listener net.Listener, repl *repl) {
	srv := &server{repl: repl}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return // listener closed
		}
		go srv.handleConn(conn)
	}
}
