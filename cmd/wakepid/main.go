package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/core"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/web"
)

const defaultConfigPath = "config/wakeonpi.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting wakeonpi daemon",
		"config", *configPath,
		"debug", *debug,
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize the coordinator
	coord, err := core.New(*configPath)
	if err != nil {
		slog.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	cfg := coord.Config()

	// Start health check HTTP server (non-blocking)
	if err := coord.StartHealthServer(cfg.Health.Listen); err != nil {
		slog.Error("failed to start health check server", "error", err)
		os.Exit(1)
	}

	// The journal is optional; hand the web layer a nil store rather
	// than a typed nil pointer.
	var store web.EpisodeStore
	if j := coord.Journal(); j != nil {
		store = j
	}
	srv := web.NewServer(cfg.Web, coord.Hub(), coord, store)
	coord.AddSink(srv.Events())
	srv.Start()

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- coord.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Cancel the context
	case runErr = <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		}
	}

	// Graceful shutdown
	shutdownTimeout := coord.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Web first so no new viewers attach while the loop drains.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("web server shutdown incomplete", "error", err)
	}

	if err := coord.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	if runErr != nil {
		os.Exit(1)
	}
	slog.Info("wakeonpi daemon stopped successfully")
}
