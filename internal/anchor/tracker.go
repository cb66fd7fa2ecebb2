package anchor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

const (
	sweepBatch = 100

	// maxBackoffShift caps the per-receipt delay at PollInterval << 6.
	maxBackoffShift = 6
)

// Tracker polls pending receipts until they are confirmed, fail, or run out of polls.
// Each receipt backs off exponentially from PollInterval.
type Tracker struct {
	svc      *Service
	receipts repository.ReceiptStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracker creates a tracker driving svc.
func NewTracker(svc *Service, receipts repository.ReceiptStore, logger *zap.Logger) *Tracker {
	return &Tracker{
		svc:      svc,
		receipts: receipts,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps every PollInterval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.svc.cfg.PollInterval)
	defer ticker.Stop()

	t.logger.Info("Starting anchor tracker",
		zap.Duration("poll_interval", t.svc.cfg.PollInterval),
		zap.Int("max_polls", t.svc.cfg.MaxPolls),
	)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Anchor tracker stopped")
			return
		case <-ticker.C:
			if _, err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
				t.logger.Error("Anchor sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep checks every pending receipt that is due and returns how many were checked.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	pending, err := t.receipts.ListPending(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}

	now := t.now()
	checked := 0
	for _, rc := range pending {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}
		if rc.Polls >= t.svc.cfg.MaxPolls {
			if _, err := t.svc.MarkFailed(ctx, rc.TxRef); err != nil {
				t.logger.Warn("Failed to expire receipt", zap.String("tx_ref", rc.TxRef), zap.Error(err))
			}
			continue
		}
		if !t.due(rc, now) {
			continue
		}

		checked++
		updated, err := t.svc.CheckStatus(ctx, rc.TxRef)
		switch {
		case errors.Is(err, domain.ErrReceiptNotFound):
			t.logger.Debug("Receipt not yet visible on ledger", zap.String("tx_ref", rc.TxRef))
		case err != nil:
			t.logger.Warn("Receipt status check failed", zap.String("tx_ref", rc.TxRef), zap.Error(err))
		case updated.Status == domain.ConfirmationConfirmed:
			t.logger.Info("Anchor confirmed",
				zap.String("tx_ref", rc.TxRef),
				zap.String("job_id", rc.JobID.String()),
				zap.Int("confirmations", updated.Confirmations),
			)
		}
	}
	return checked, nil
}

// due reports whether rc's backoff delay has elapsed.
func (t *Tracker) due(rc *domain.AnchorReceipt, now time.Time) bool {
	interval := t.svc.cfg.PollInterval
	if rc.LastCheckedAt == nil {
		return !now.Before(rc.SubmittedAt.Add(interval))
	}
	shift := rc.Polls
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return !now.Before(rc.LastCheckedAt.Add(interval << shift))
}
