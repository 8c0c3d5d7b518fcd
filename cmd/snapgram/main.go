// Command snapgram serves the client data layer over a local HTTP view
// server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"snapgram/internal/config"
	"snapgram/internal/di"

	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader(os.Getenv("CONFIG_DIR"), config.EnvironmentFromEnv())
	container, err := di.NewContainer(ctx, loader)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer container.Shutdown()

	logger := container.Logging.Logger
	cfg := container.Config
	srv := container.HTTP

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("address", srv.Addr),
			zap.String("environment", string(cfg.Environment)),
			zap.String("driver", cfg.Backend.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Confirm the stored session before the first request arrives.
	if s, err := container.Sessions.Init(ctx, "/"); err != nil {
		logger.Warn("Initial session check failed", zap.Error(err))
	} else {
		logger.Info("Session initialized", zap.Stringer("state", s.State))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case err, ok := <-serveErr:
		if ok {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}
