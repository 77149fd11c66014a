/*
Package main is the entry point for the CollabChat application.

It is responsible for loading configuration, initializing the global logging system,
connecting the durable message log and group directory to PostgreSQL,
setting up the HTTP server, starting the WebSocket Hub (Chat Manager),
and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabchat/internal/app/chat"
	"collabchat/internal/app/db"
	"collabchat/internal/app/directory"
	"collabchat/internal/app/notify"
	"collabchat/internal/app/store"
	"collabchat/internal/configs"
	"collabchat/internal/handler"
	"collabchat/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Wire the durable log and group directory. DATABASE_URL=memory selects
	// the in-process backends, useful for local development without Postgres.
	var (
		messageLog store.Store
		dir        directory.Directory
	)
	if cfg.DatabaseDSN == "memory" {
		logx.Warn("Using in-memory storage; messages will not survive a restart")
		messageLog = store.NewMemory()
		dir = directory.NewMemory()
	} else {
		pool, poolErr := db.NewPool(cfg.DatabaseDSN)
		if poolErr != nil {
			logx.Fatal(poolErr, "Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		messageLog = store.NewLog(pool)
		dir = directory.NewPostgres(pool)
	}

	// Initialize Chat Manager
	manager := chat.NewManager()

	deps := &handler.AppDeps{
		Manager:   manager,
		Config:    cfg,
		Store:     messageLog,
		Directory: dir,
		Notifier:  notify.LogOnly(),
	}

	// Setup HTTP server and routes
	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	// WriteTimeout stays unset: the SSE stream endpoint holds its response
	// open indefinitely and a server-wide write deadline would sever it.
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("CollabChat Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}
