package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/metrics"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

// Config controls confirmation and polling policy.
type Config struct {
	// Confirmations required before a receipt is confirmed.
	Confirmations int
	PollInterval  time.Duration
	MaxPolls      int
}

// Service anchors certificate hashes and tracks their confirmation.
type Service struct {
	ledger   Ledger
	receipts repository.ReceiptStore
	certs    repository.CertificateStore
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates an anchor service. certs may be nil, in which case the
// certificate's anchor reference is not written back.
func NewService(ledger Ledger, receipts repository.ReceiptStore, certs repository.CertificateStore, cfg Config, logger *zap.Logger) *Service {
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 40
	}
	return &Service{
		ledger:   ledger,
		receipts: receipts,
		certs:    certs,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Anchor submits the certificate's content hash to the ledger.
// Anchoring the same hash again returns the existing receipt unless the earlier attempt failed.
// A ledger error leaves the certificate untouched and returns ErrAnchorSubmissionFailed.
func (s *Service) Anchor(ctx context.Context, cert *domain.Certificate) (*domain.AnchorReceipt, error) {
	if cert == nil || cert.ContentHash == "" {
		return nil, fmt.Errorf("%w: certificate has no content hash", domain.ErrAnchorSubmissionFailed)
	}

	existing, err := s.receipts.GetByHash(ctx, cert.ContentHash)
	switch {
	case err == nil && existing.Status != domain.ConfirmationFailed:
		s.logger.Debug("Certificate already anchored",
			zap.String("cert_id", cert.ID.String()),
			zap.String("tx_ref", existing.TxRef),
		)
		return existing, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("anchor: load receipt: %w", err)
	}

	txRef, err := s.ledger.Submit(ctx, cert.ContentHash)
	if err != nil {
		metrics.AnchorSubmissions.WithLabelValues("error").Inc()
		s.logger.Warn("Ledger submission failed",
			zap.String("cert_id", cert.ID.String()),
			zap.String("job_id", cert.JobID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrAnchorSubmissionFailed, err)
	}
	metrics.AnchorSubmissions.WithLabelValues("submitted").Inc()

	receipt := &domain.AnchorReceipt{
		ContentHash: cert.ContentHash,
		TxRef:       txRef,
		JobID:       cert.JobID,
		SubmittedAt: s.now().UTC(),
		Status:      domain.ConfirmationPending,
	}
	if err := s.receipts.Save(ctx, receipt); err != nil {
		return nil, fmt.Errorf("anchor: save receipt: %w", err)
	}

	if s.certs != nil {
		if err := s.certs.SetAnchorReference(ctx, cert.ID, txRef); err != nil {
			s.logger.Warn("Failed to record anchor reference on certificate",
				zap.String("cert_id", cert.ID.String()),
				zap.String("tx_ref", txRef),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Certificate anchored",
		zap.String("cert_id", cert.ID.String()),
		zap.String("job_id", cert.JobID.String()),
		zap.String("tx_ref", txRef),
	)
	return receipt, nil
}

// CheckStatus asks the ledger about txRef and updates the stored receipt.
// Returns ErrReceiptNotFound when either side has no record of txRef.
func (s *Service) CheckStatus(ctx context.Context, txRef string) (*domain.AnchorReceipt, error) {
	local, err := s.receipts.GetByTxRef(ctx, txRef)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("anchor: no local receipt for %s: %w", txRef, domain.ErrReceiptNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("anchor: load receipt: %w", err)
	}

	now := s.now().UTC()
	rec, lerr := s.ledger.Lookup(ctx, txRef)
	if lerr != nil {
		local.Polls++
		local.LastCheckedAt = &now
		if err := s.receipts.Save(ctx, local); err != nil {
			s.logger.Warn("Failed to save receipt poll", zap.String("tx_ref", txRef), zap.Error(err))
		}
		return nil, fmt.Errorf("anchor: check %s: %w", txRef, lerr)
	}

	local.Confirmations = rec.Confirmations
	local.Polls++
	local.LastCheckedAt = &now
	switch {
	case rec.Reverted, rec.ContentHash != local.ContentHash:
		local.Status = domain.ConfirmationFailed
	case rec.Confirmations >= s.cfg.Confirmations:
		local.Status = domain.ConfirmationConfirmed
	default:
		local.Status = domain.ConfirmationPending
	}

	if err := s.receipts.Save(ctx, local); err != nil {
		return nil, fmt.Errorf("anchor: save receipt: %w", err)
	}
	return local, nil
}

// MarkFailed gives up on txRef.
func (s *Service) MarkFailed(ctx context.Context, txRef string) (*domain.AnchorReceipt, error) {
	rc, err := s.receipts.GetByTxRef(ctx, txRef)
	if err != nil {
		return nil, fmt.Errorf("anchor: load receipt: %w", err)
	}
	now := s.now().UTC()
	rc.Status = domain.ConfirmationFailed
	rc.LastCheckedAt = &now
	if err := s.receipts.Save(ctx, rc); err != nil {
		return nil, fmt.Errorf("anchor: save receipt: %w", err)
	}
	metrics.AnchorSubmissions.WithLabelValues("expired").Inc()
	s.logger.Warn("Anchor receipt not confirmed, giving up",
		zap.String("tx_ref", txRef),
		zap.Int("polls", rc.Polls),
	)
	return rc, nil
}
