// cmd/agrivaultd/main.go
// Package main implements the entry point for the AgriVault data
// service. It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Haleem001/agrivault/internal/auth"
	"github.com/Haleem001/agrivault/internal/clock"
	"github.com/Haleem001/agrivault/internal/config"
	"github.com/Haleem001/agrivault/internal/dataservice"
	"github.com/Haleem001/agrivault/internal/event"
	"github.com/Haleem001/agrivault/internal/kv"
	"github.com/Haleem001/agrivault/internal/media"
	"github.com/Haleem001/agrivault/internal/offline"
	"github.com/Haleem001/agrivault/internal/schema"
	"github.com/Haleem001/agrivault/internal/seed"
	"github.com/Haleem001/agrivault/internal/server"
	"github.com/Haleem001/agrivault/internal/storage"
	"github.com/Haleem001/agrivault/internal/telemetry"
)

// main initializes all components, starts the HTTP server, and handles
// graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	_, err = telemetry.InitTracer("agrivault-service")
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	clk := clock.Real{}

	// Initialize record storage (PostgreSQL or seeded in-memory)
	var store storage.Store
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		// The in-memory store starts with the demo marketplace
		// fixture so the service is usable out of the box.
		store = storage.NewMemory(seed.Default(clk.Now()))
	}

	// Initialize durable local storage (SQLite or in-memory)
	var kvStore kv.Store
	if cfg.KVPath != "" {
		kvStore, err = kv.NewSQLite(cfg.KVPath)
		if err != nil {
			logger.Error("failed to initialize sqlite storage", "error", err)
			os.Exit(1)
		}
	} else {
		kvStore = kv.NewMemory()
	}
	defer kvStore.Close()

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	// Session tokens. Outside dev config.Load already requires the
	// signing key.
	signingKey := cfg.JWTSigningKey
	if signingKey == "" {
		signingKey = "agrivault-dev-signing-key"
		logger.Warn("using built-in dev signing key")
	}
	tokens := auth.NewTokens([]byte(signingKey), cfg.JWTIssuer, cfg.SessionTTL, clk)

	// Demo passwords for the seeded profiles; registered accounts get
	// their own secret at registration time.
	passwords := make(map[string]string)
	if cfg.DatabaseDSN == "" {
		passwords = seed.Default(clk.Now()).Passwords
	}

	svc := dataservice.New(dataservice.Options{
		Store:     store,
		KV:        kvStore,
		Tokens:    tokens,
		Publisher: pub,
		Clock:     clk,
		Latency:   cfg.SimulatedLatency,
		Passwords: passwords,
		Logger:    logger,
	})

	// Offline layer: schema-validated queue, aged cache, connectivity
	// monitor with auto-sync on reconnect.
	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("failed to compile payload schemas", "error", err)
		os.Exit(1)
	}
	queue := offline.NewQueue(kvStore, validator, clk, cfg.QueueCapacity, cfg.QueuePolicy)
	cache := offline.NewCache(kvStore, clk, cfg.CacheMaxAge)
	monitor := offline.NewMonitor(true)
	syncer := offline.NewSyncer(queue, svc, logger)
	syncer.Attach(monitor)

	// Media storage is optional; the upload endpoint degrades cleanly
	// when it is not configured.
	var mediaClient *media.S3Client
	if cfg.S3Bucket != "" {
		mediaClient, err = media.NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Error("failed to initialize media storage", "error", err)
			os.Exit(1)
		}
	}

	// Create HTTP mux with all handlers and middleware
	mux := server.NewMux(svc, queue, cache, monitor, syncer, pub, mediaClient)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Handle graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	if postgresStore, ok := store.(interface{ Close() }); ok {
		postgresStore.Close()
	}

	logger.Info("server exited")
}
