// Command parley-server runs the relay.
//
// Usage: parley-server [port [bind-ip]]
//
// Defaults to port 8888 on 0.0.0.0. Stops cleanly on SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/parley-im/parley/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	port := 8888
	ip := "0.0.0.0"

	args := os.Args[1:]
	if len(args) >= 1 {
		p, err := strconv.Atoi(args[0])
		if err != nil || p <= 0 || p > 65535 {
			fmt.Fprintf(os.Stderr, "invalid port %q\n", args[0])
			fmt.Fprintf(os.Stderr, "usage: %s [port [bind-ip]]\n", os.Args[0])
			return 1
		}
		port = p
	}
	if len(args) >= 2 {
		ip = args[1]
	}

	bindIP := net.ParseIP(ip)
	if bindIP == nil {
		fmt.Fprintf(os.Stderr, "invalid bind ip %q\n", ip)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	srv, err := server.New(
		&net.TCPAddr{IP: bindIP, Port: port},
		server.LoggerOption(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server start failed: %v\n", err)
		return 1
	}

	// Write errors surface per-connection; a dying peer must not kill the
	// process.
	signal.Ignore(syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server stopped with error: %v\n", err)
		return 1
	}
	return 0
}
