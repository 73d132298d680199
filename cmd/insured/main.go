// cmd/insured/main.go
// Package main implements the entry point for the insurance ledger service.
// It initializes all components and starts the HTTP server.
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

	"github.com/insurechain/insurechain-ledger-go/internal/config"
	"github.com/insurechain/insurechain-ledger-go/internal/event"
	"github.com/insurechain/insurechain-ledger-go/internal/jwks"
	"github.com/insurechain/insurechain-ledger-go/internal/ledger"
	"github.com/insurechain/insurechain-ledger-go/internal/media"
	"github.com/insurechain/insurechain-ledger-go/internal/metrics"
	"github.com/insurechain/insurechain-ledger-go/internal/server"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
	"github.com/insurechain/insurechain-ledger-go/internal/telemetry"
	"github.com/insurechain/insurechain-ledger-go/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Structured JSON logging; debug level in dev
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	if _, err := telemetry.InitTracer("insurance-ledger"); err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	// Storage backend (PostgreSQL or in-memory)
	var store storage.Store
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("INS_DB_DSN not set, using in-memory storage")
		store = storage.NewMemory()
	}

	// Audit event publisher (NATS JetStream or no-op)
	pub := event.NewPublisherFromEnv()
	defer pub.Close()

	// Asset custody client for premium collection and claim payouts
	var transfers token.Client
	if cfg.CustodyURL == "" {
		logger.Error("INS_CUSTODY_URL is required")
		os.Exit(1)
	}
	transfers = token.NewHTTP(cfg.CustodyURL)

	// Claim evidence storage, optional
	var evidence *media.S3Client
	if cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		evidence, err = media.NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Error("failed to initialize S3 client", "error", err)
			os.Exit(1)
		}
	}

	engine := ledger.New(ledger.Options{
		Store:              store,
		Transfers:          transfers,
		Events:             pub,
		Metrics:            metrics.NewMetrics(),
		Logger:             logger,
		CustodialAddress:   cfg.CustodialAddress,
		OracleRelayAddress: cfg.OracleRelayAddress,
	})

	var jwksClient *jwks.Client
	if cfg.JWKSURL != "" {
		jwksClient = jwks.NewClient(cfg.JWKSURL)
	}

	mux, err := server.NewMux(server.Options{
		Engine:             engine,
		Store:              store,
		JWKSClient:         jwksClient,
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		Evidence:           evidence,
		MaxEvidenceSize:    cfg.MaxEvidenceSize,
		AllowedMimeTypes:   cfg.AllowedMimeTypes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		logger.Error("failed to build HTTP mux", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

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
