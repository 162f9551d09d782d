package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/workspace-agents/orchestrator/api"
	"github.com/workspace-agents/orchestrator/capability/demo"
	"github.com/workspace-agents/orchestrator/observability"
	"github.com/workspace-agents/orchestrator/router"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to orchestrator config YAML file (optional)")
		addr       = flag.String("addr", "localhost:8080", "Listen address for the RPC server")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg := router.DefaultConfig()
	if *configFile != "" {
		loaded, err := router.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	// The configured observer name resolves against this registry, so the
	// flag-driven logger backs the default "slog" selection.
	observability.RegisterObserver("slog", observability.NewSlogObserver(logger))

	r, err := router.New(&cfg)
	if err != nil {
		log.Fatalf("Failed to create router: %v", err)
	}

	if err := demo.RegisterAll(r.Registry()); err != nil {
		log.Fatalf("Failed to register capabilities: %v", err)
	}

	service := api.NewService(r)

	// h2c lets generated Connect clients use HTTP/2 without TLS while
	// plain JSON-over-HTTP/1.1 keeps working.
	server := &http.Server{
		Addr:              *addr,
		Handler:           h2c.NewHandler(service.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator listening", "addr", *addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}

	fmt.Fprintln(os.Stderr, "orchestrator stopped")
}
