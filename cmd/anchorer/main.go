package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/anchor"
	"github.com/TheShiveshNetwork/sayonara/internal/config"
	amqpdelivery "github.com/TheShiveshNetwork/sayonara/internal/delivery/amqp"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/pool"
	"github.com/TheShiveshNetwork/sayonara/internal/repository/postgres"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Sayonara anchor worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	// The file journal belongs to the server process; the worker needs a shared store.
	if cfg.Database.URL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	if cfg.Ledger.URL == "" {
		logger.Fatal("LEDGER_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	if err := postgres.EnsureSchema(ctx, dbPool); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	certs := postgres.NewPostgresCertificateStore(dbPool)
	receipts := postgres.NewPostgresReceiptStore(dbPool)

	ledger, err := anchor.NewHTTPLedger(anchor.HTTPLedgerConfig{
		BaseURL:  cfg.Ledger.URL,
		APIKey:   cfg.Ledger.APIKey,
		RetryMax: cfg.Ledger.RetryMax,
		Timeout:  cfg.Ledger.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to configure ledger client", zap.Error(err))
	}
	svc := anchor.NewService(ledger, receipts, certs, anchor.Config{
		Confirmations: cfg.Ledger.Confirmations,
		PollInterval:  cfg.Anchor.PollInterval,
		MaxPolls:      cfg.Anchor.MaxPolls,
	}, logger)

	// Confirmation tracker
	tracker := anchor.NewTracker(svc, receipts, logger)
	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		tracker.Run(ctx)
	}()

	// Auto-anchoring of terminal job events
	var workerPool *pool.WorkerPool
	if cfg.Anchor.Auto {
		if cfg.RabbitMQ.URL == "" {
			logger.Fatal("ANCHOR_AUTO requires RABBITMQ_URL")
		}
		events := make(chan *domain.EventMessage, cfg.Worker.PoolSize*2)

		consumer, err := amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, events, logger)
		if err != nil {
			logger.Fatal("Failed to initialize AMQP consumer", zap.Error(err))
		}
		defer consumer.Close()
		logger.Info("Connected to RabbitMQ")

		workerPool = pool.NewWorkerPool(cfg.Worker.PoolSize, events, anchor.NewAutoAnchorer(svc, certs, logger), logger)
		workerPool.Start(ctx)

		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("AMQP consumer error", zap.Error(err))
				cancel()
			}
		}()
	}

	// Start Prometheus metrics server
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics server listening", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down anchor worker...")
	cancel()

	// Wait for workers to finish in-flight events
	if workerPool != nil {
		workerPool.Stop()
	}
	<-trackerDone

	logger.Info("Anchor worker stopped")
}
