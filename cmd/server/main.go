package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/anchor"
	"github.com/TheShiveshNetwork/sayonara/internal/blockdev"
	"github.com/TheShiveshNetwork/sayonara/internal/certificate"
	"github.com/TheShiveshNetwork/sayonara/internal/config"
	"github.com/TheShiveshNetwork/sayonara/internal/coordinator"
	handler "github.com/TheShiveshNetwork/sayonara/internal/delivery/http"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/engine"
	"github.com/TheShiveshNetwork/sayonara/internal/inventory"
	"github.com/TheShiveshNetwork/sayonara/internal/methods"
	"github.com/TheShiveshNetwork/sayonara/internal/publisher"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
	"github.com/TheShiveshNetwork/sayonara/internal/repository/file"
	"github.com/TheShiveshNetwork/sayonara/internal/repository/postgres"
	redislock "github.com/TheShiveshNetwork/sayonara/internal/repository/redis"
	"github.com/TheShiveshNetwork/sayonara/internal/system"
	"github.com/TheShiveshNetwork/sayonara/internal/verify"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Sayonara server")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	gin.SetMode(cfg.Server.GinMode)

	ctx := context.Background()
	checks := map[string]handler.HealthCheck{}

	// Persistence: PostgreSQL when configured, else the local journal file.
	var (
		journal  repository.JobJournal
		certs    repository.CertificateStore
		receipts repository.ReceiptStore
	)
	if cfg.Database.URL != "" {
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

		journal = postgres.NewPostgresJobJournal(dbPool)
		certs = postgres.NewPostgresCertificateStore(dbPool)
		receipts = postgres.NewPostgresReceiptStore(dbPool)
		checks["postgres"] = dbPool.Ping
	} else {
		store, err := file.Open(cfg.Journal.Path)
		if err != nil {
			logger.Fatal("Failed to open journal", zap.String("path", cfg.Journal.Path), zap.Error(err))
		}
		defer store.Close()
		logger.Info("Using file journal", zap.String("path", cfg.Journal.Path))

		journal = store
		certs = store
		receipts = store.Receipts()
	}

	// Cross-process device lock
	var locker repository.DeviceLocker
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to ping Redis", zap.Error(err))
		}
		logger.Info("Connected to Redis")
		locker = redislock.NewRedisDeviceLocker(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Job events
	var pub publisher.Publisher
	if cfg.RabbitMQ.URL != "" {
		pub, err = publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
		}
		logger.Info("Connected to RabbitMQ")
	} else {
		pub = publisher.NewNoopPublisher(logger)
	}
	defer pub.Close()

	// Device inventory
	runner := system.NewExecRunner()
	var prober inventory.Prober = inventory.NewLsblkProber(runner)
	var health inventory.HealthReader = inventory.NewSmartctlReader(runner)
	var caps inventory.CapabilityReader = inventory.NewCommandCapabilityReader(runner)
	if cfg.Inventory.ImageDir != "" {
		prober = inventory.NewImageProber(cfg.Inventory.ImageDir)
		health, caps = nil, nil
		logger.Info("Serving disk images", zap.String("dir", cfg.Inventory.ImageDir))
	}
	inv := inventory.New(prober, health, caps, inventory.Options{IncludeSystem: cfg.Inventory.IncludeSystem}, logger)

	// Method registry
	var extra []domain.Method
	if cfg.Inventory.MethodsFile != "" {
		extra, err = methods.LoadFile(cfg.Inventory.MethodsFile)
		if err != nil {
			logger.Fatal("Failed to load methods file", zap.Error(err))
		}
	}
	registry, err := methods.NewRegistry(extra...)
	if err != nil {
		logger.Fatal("Failed to build method registry", zap.Error(err))
	}

	gen, err := certificate.NewGenerator(cfg.Cert.SigningKey)
	if err != nil {
		logger.Fatal("Failed to load certificate signing key", zap.Error(err))
	}
	if gen.PublicKey() == nil {
		logger.Warn("CERT_SIGNING_KEY not set, certificates will be unsigned")
	}

	coord := coordinator.New(coordinator.Deps{
		Inventory: inv,
		Methods:   registry,
		Opener:    blockdev.NewFileOpener(),
		Overwriter: engine.NewOverwriter(engine.Config{
			BlockSize:        cfg.Engine.BlockSize,
			ProgressInterval: cfg.Engine.ProgressInterval,
			MaxBytesPerSec:   cfg.Engine.MaxMBps * 1e6,
		}, engine.NewCommandSanitizer(runner, logger), logger),
		Verifier: verify.New(verify.Config{
			SampleSize: cfg.Verify.SampleSize,
			MinSamples: cfg.Verify.MinSamples,
			MaxSamples: cfg.Verify.MaxSamples,
			Stride:     cfg.Verify.SampleStride,
		}, logger),
		Certificates: gen,
		Journal:      journal,
		CertStore:    certs,
		Locker:       locker,
		Publisher:    pub,
	}, coordinator.Config{MaxRewipes: cfg.Verify.MaxRewipes}, logger)

	if _, err := coord.Recover(ctx); err != nil {
		logger.Fatal("Failed to recover jobs from journal", zap.Error(err))
	}

	// Anchoring is optional
	var anchors handler.AnchorService
	if cfg.Ledger.URL != "" {
		ledger, err := anchor.NewHTTPLedger(anchor.HTTPLedgerConfig{
			BaseURL:  cfg.Ledger.URL,
			APIKey:   cfg.Ledger.APIKey,
			RetryMax: cfg.Ledger.RetryMax,
			Timeout:  cfg.Ledger.Timeout,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to configure ledger client", zap.Error(err))
		}
		anchors = anchor.NewService(ledger, receipts, certs, anchor.Config{
			Confirmations: cfg.Ledger.Confirmations,
			PollInterval:  cfg.Anchor.PollInterval,
			MaxPolls:      cfg.Anchor.MaxPolls,
		}, logger)
		logger.Info("Anchoring enabled", zap.String("ledger", cfg.Ledger.URL))
	}

	router := handler.NewRouter(handler.RouterDeps{
		Jobs:      coord,
		Anchors:   anchors,
		Checks:    checks,
		SignerKey: gen.PublicKey(),
	}, logger, handler.RouterConfig{
		RateLimitPerMin: cfg.Server.RateLimit,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		RequestIDHeader: cfg.Server.RequestIDHeader,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go purgeLoop(purgeCtx, coord, cfg.Server.JobRetention)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	// Running jobs are cancelled at the next block and journaled before we exit.
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error("Jobs did not finish before the shutdown deadline", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func purgeLoop(ctx context.Context, coord *coordinator.Coordinator, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coord.PurgeJobs(retention)
		}
	}
}
