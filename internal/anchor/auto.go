package anchor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

// AutoAnchorer anchors the certificate of every terminal job event it is handed.
type AutoAnchorer struct {
	svc    *Service
	certs  repository.CertificateStore
	logger *zap.Logger
}

// NewAutoAnchorer creates an event handler that anchors certificates from certs.
func NewAutoAnchorer(svc *Service, certs repository.CertificateStore, logger *zap.Logger) *AutoAnchorer {
	return &AutoAnchorer{svc: svc, certs: certs, logger: logger}
}

// HandleEvent anchors the job's certificate. skipped is true for events that
// carry nothing to anchor: non-terminal states, cancelled jobs and jobs without a certificate.
func (a *AutoAnchorer) HandleEvent(ctx context.Context, ev *domain.JobEvent) (skipped bool, err error) {
	if ev.ContentHash == "" || (ev.State != domain.StateSucceeded && ev.State != domain.StateFailed) {
		return true, nil
	}

	cert, err := a.certs.GetByJob(ctx, ev.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		a.logger.Warn("Event references a certificate that is not stored",
			zap.String("job_id", ev.JobID.String()),
			zap.String("content_hash", ev.ContentHash),
		)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("anchor: load certificate: %w", err)
	}

	if _, err := a.svc.Anchor(ctx, cert); err != nil {
		return false, err
	}
	return false, nil
}
