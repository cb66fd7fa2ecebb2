package http

import (
	"context"
	"crypto/ed25519"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/delivery/http/middleware"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// RouterConfig tunes the request middleware. Zero values fall back to defaults.
type RouterConfig struct {
	RateLimitPerMin int
	MaxBodyBytes    int64
	RequestIDHeader string
}

const defaultMaxBody = 16 << 10

// JobService is the part of the coordinator the API drives.
type JobService interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
	RefreshHealth(ctx context.Context, deviceID string) (*domain.Device, error)
	ListMethods(ctx context.Context, deviceID string) ([]domain.Method, error)
	StartJob(ctx context.Context, req domain.StartJobRequest) (*domain.Job, error)
	GetJob(id uuid.UUID) (*domain.Job, error)
	GetJobStatus(id uuid.UUID) (domain.JobStatus, error)
	CancelJob(id uuid.UUID) error
	GetCertificate(ctx context.Context, id uuid.UUID) (*domain.Certificate, error)
	ReissueCertificate(ctx context.Context, id uuid.UUID) (*domain.Certificate, error)
	Subscribe(id uuid.UUID) (<-chan domain.JobStatus, func(), error)
}

// AnchorService submits certificate hashes to the ledger.
type AnchorService interface {
	Anchor(ctx context.Context, cert *domain.Certificate) (*domain.AnchorReceipt, error)
	CheckStatus(ctx context.Context, txRef string) (*domain.AnchorReceipt, error)
}

// RouterDeps are the services behind the API. Anchors may be nil when no ledger is configured.
// SignerKey is nil when certificates are unsigned.
type RouterDeps struct {
	Jobs      JobService
	Anchors   AnchorService
	Checks    map[string]HealthCheck
	SignerKey ed25519.PublicKey
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(deps RouterDeps, logger *zap.Logger, cfg RouterConfig) *gin.Engine {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(cfg.RequestIDHeader))
	router.Use(middleware.Logger(logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(deps.Checks, logger)
		v1.GET("/health", healthHandler.Health)

		deviceHandler := NewDeviceHandler(deps.Jobs, logger)
		v1.GET("/devices", deviceHandler.List)
		v1.POST("/devices/:id/health", deviceHandler.RefreshHealth)
		v1.GET("/devices/:id/methods", deviceHandler.Methods)

		jobHandler := NewJobHandler(deps.Jobs, deps.SignerKey, logger)
		wsHandler := NewWebSocketHandler(deps.Jobs, logger)
		anchorHandler := NewAnchorHandler(deps.Jobs, deps.Anchors, logger)

		// Mutations are rate limited; polling is not.
		limited := v1.Group("", middleware.RateLimiter(cfg.RateLimitPerMin), middleware.BodySizeLimit(cfg.MaxBodyBytes))
		limited.POST("/jobs", jobHandler.Start)
		limited.POST("/jobs/:id/cancel", jobHandler.Cancel)
		limited.POST("/jobs/:id/anchor", anchorHandler.Anchor)
		limited.POST("/jobs/:id/certificate/reissue", jobHandler.Reissue)

		v1.GET("/jobs/:id", jobHandler.Status)
		v1.GET("/jobs/:id/detail", jobHandler.Get)
		v1.GET("/jobs/:id/stream", wsHandler.Stream)
		v1.GET("/jobs/:id/certificate", jobHandler.Certificate)
		v1.GET("/jobs/:id/certificate/verify", jobHandler.VerifyCertificate)
		v1.GET("/anchors/:txRef", anchorHandler.Status)
	}

	return router
}
