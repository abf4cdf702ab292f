// Command reald is the server-side daemon of spec.md §4.5/§6: it
// listens for TCP connections and, for each one, accepts exactly one
// Open and runs a LocalDevice against --device until the connection
// closes or the kernel side releases it.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jacobsa/cuse2net/internal/logging"
	"github.com/jacobsa/cuse2net/realdev"
)

type options struct {
	listen    string
	port      uint16
	device    string
	logFormat string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "reald",
		Short: "Serve a real character device to virtd clients over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.listen, "listen", "::", "address to listen on")
	flags.Uint16Var(&opts.port, "port", 8000, "TCP port to listen on")
	flags.StringVar(&opts.device, "device", "", "path to the real character device to serve")
	flags.StringVar(&opts.logFormat, "log-format", "compact", "log output format: compact, full, json")
	root.MarkFlagRequired("device")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logging.Init(logging.ParseFormat(opts.logFormat))
	log := logging.Get()

	addr := net.JoinHostPort(opts.listen, fmt.Sprintf("%d", opts.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("reald: listening on %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info().Str("addr", addr).Str("device", opts.device).Msg("reald listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reald: accept: %w", err)
		}
		go serve(ctx, conn, opts.device, log)
	}
}

func serve(ctx context.Context, conn net.Conn, path string, log *zerolog.Logger) {
	dev, err := realdev.Accept(conn, path)
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("failed to accept connection")
		conn.Close()
		return
	}

	if err := dev.Run(ctx); err != nil {
		log.Info().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("device connection ended")
	}
}
