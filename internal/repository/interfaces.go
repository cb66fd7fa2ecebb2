package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// ErrNotFound is returned by stores when no record matches.
var ErrNotFound = errors.New("record not found")

// JobJournal is the append-only audit log of job snapshots.
// Implementations must be safe for concurrent use.
type JobJournal interface {
	// Append durably records a snapshot of the job. Earlier snapshots are never modified.
	Append(ctx context.Context, job *domain.Job) error

	// Latest returns the most recent snapshot of every job ever appended.
	Latest(ctx context.Context) ([]*domain.Job, error)
}

// CertificateStore persists certificates.
type CertificateStore interface {
	// Save stores a certificate. Saving the same certificate ID twice is a no-op.
	Save(ctx context.Context, cert *domain.Certificate) error

	// GetByJob returns the newest certificate for a job, following supersession.
	GetByJob(ctx context.Context, jobID uuid.UUID) (*domain.Certificate, error)

	// SetAnchorReference records the ledger transaction a certificate was anchored in.
	SetAnchorReference(ctx context.Context, certID uuid.UUID, txRef string) error
}

// ReceiptStore persists anchor receipts.
type ReceiptStore interface {
	// Save inserts or replaces the receipt for its content hash.
	Save(ctx context.Context, r *domain.AnchorReceipt) error

	GetByTxRef(ctx context.Context, txRef string) (*domain.AnchorReceipt, error)
	GetByHash(ctx context.Context, contentHash string) (*domain.AnchorReceipt, error)

	// ListPending returns receipts awaiting confirmation, oldest first.
	ListPending(ctx context.Context, limit int) ([]*domain.AnchorReceipt, error)
}

// DeviceLocker is a cross-process exclusive lock per device.
type DeviceLocker interface {
	// Acquire returns false when another job holds the device.
	Acquire(ctx context.Context, deviceID string, jobID uuid.UUID) (bool, error)

	// Release drops the lock if jobID still holds it.
	Release(ctx context.Context, deviceID string, jobID uuid.UUID) error
}
