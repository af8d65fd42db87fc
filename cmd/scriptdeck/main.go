// Package main is the entry point for the scriptdeck server.
// It runs the process registry, the event streams, the script catalog and
// the git repository manager behind one HTTP listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configDir := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("scriptdeck exited with error")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting scriptdeck...")

	if !strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Storage
	repos, cleanups, err := provideRepositories(cfg, log)
	defer runCleanups(cleanups, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Database initialized", zap.String("driver", cfg.Database.Driver))

	// 4. Domain services
	svc, err := provideServices(cfg, log, repos)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	log.Info("Services initialized",
		zap.String("repositories_path", svc.Repositories.BasePath()),
		zap.Int("script_folders", len(cfg.Scripts.Folders)))

	// 5. Optional NATS relay
	_, relayCleanup, err := provideEventRelay(ctx, cfg, log, svc)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// 6. HTTP server
	router := provideRouter(cfg, log, svc)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      withStreamDeadlines(router, log),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		ErrorLog:     log.StdLogger(zapcore.WarnLevel),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	// 7. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Kill live processes first so their completed events still reach the
	// streams and the relay. Event streams never finish on their own, so
	// the broadcaster is closed when the listener stops.
	if err := svc.Processes.Shutdown(shutdownCtx); err != nil {
		log.Warn("Processes did not finish before shutdown", zap.Error(err))
	}
	server.RegisterOnShutdown(svc.Events.Close)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	svc.Events.Close()
	cancel()
	if err := relayCleanup(); err != nil {
		log.Warn("Failed to close event relay", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to flush traces", zap.Error(err))
	}

	log.Info("scriptdeck stopped")
	return runErr
}

func runCleanups(cleanups []func() error, log *logger.Logger) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			log.Warn("cleanup failed", zap.Error(err))
		}
	}
}
