package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ccodaemon/ccod/pkg/config"
	"github.com/ccodaemon/ccod/pkg/proxy"
)

// runProxyCmd runs only the diagnostic reverse proxy (C6-C8), useful
// for debugging the translation layer without the full daemon.
func runProxyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listenAddr := fs.String("listen", "127.0.0.1:3001", "address to listen on")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "ccod proxy: config: %v\n", err)
		return 1
	}

	logger := slog.Default()
	listener, err := proxy.New(proxy.Config{
		ListenAddr:             *listenAddr,
		PrimaryUpstream:        cfg.PrimaryUpstreamURL,
		AlternateUpstream:      cfg.AlternateUpstreamURL,
		AlternateAPIKey:        os.Getenv(cfg.AlternateAPIKeyEnv),
		RouteSet:               cfg.RouteSet,
		DefaultAlternateModel:  cfg.DefaultAlternateModel,
		AlternateProviderStyle: cfg.AlternateProviderStyle,
		StrictValidation:       cfg.StrictRequestSchema,
	}, logger)
	if err != nil {
		fmt.Fprintf(stderr, "ccod proxy: %v\n", err)
		return 1
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	fmt.Fprintf(stdout, "ccod proxy: listening on %s -> %s\n", listener.Addr(), cfg.PrimaryUpstreamURL)
	if err := listener.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "ccod proxy: %v\n", err)
		return 1
	}
	return 0
}
