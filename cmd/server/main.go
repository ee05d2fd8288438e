package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finmetrics/grounding/internal/app"
	"github.com/finmetrics/grounding/internal/config"
	"github.com/finmetrics/grounding/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "").Fatal("failed to load configuration", "error", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	engine, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start engine", "error", err)
	}
	defer engine.Close()

	logger.Info("connected to database", "path", cfg.Database.Path, "strict_mode", cfg.Engine.StrictMode)

	jobs, err := engine.Scheduler()
	if err != nil {
		logger.Fatal("failed to configure scheduler", "error", err)
	}
	jobs.Start()

	// Create HTTP server
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := jobs.Stop(ctx); err != nil {
		logger.Error("scheduler did not stop in time", "error", err)
	}

	logger.Info("server exited")
}
