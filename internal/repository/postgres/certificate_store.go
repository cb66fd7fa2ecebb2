package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

var _ repository.CertificateStore = (*pgCertificateStore)(nil)

type pgCertificateStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCertificateStore creates a PostgreSQL-backed certificate store.
func NewPostgresCertificateStore(pool *pgxpool.Pool) repository.CertificateStore {
	return &pgCertificateStore{pool: pool}
}

func (r *pgCertificateStore) Save(ctx context.Context, cert *domain.Certificate) error {
	body, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("postgres: marshal certificate: %w", err)
	}
	query := `
		INSERT INTO certificates (cert_id, job_id, content_hash, supersedes, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cert_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, cert.ID, cert.JobID, cert.ContentHash, cert.Supersedes, body); err != nil {
		return fmt.Errorf("postgres: save certificate: %w", err)
	}
	return nil
}

func (r *pgCertificateStore) GetByJob(ctx context.Context, jobID uuid.UUID) (*domain.Certificate, error) {
	query := `
		SELECT body, anchor_reference
		FROM certificates
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var (
		body      []byte
		anchorRef *string
	)
	err := r.pool.QueryRow(ctx, query, jobID).Scan(&body, &anchorRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get certificate: %w", err)
	}
	cert := &domain.Certificate{}
	if err := json.Unmarshal(body, cert); err != nil {
		return nil, fmt.Errorf("postgres: decode certificate: %w", err)
	}
	cert.AnchorReference = anchorRef
	return cert, nil
}

func (r *pgCertificateStore) SetAnchorReference(ctx context.Context, certID uuid.UUID, txRef string) error {
	query := `UPDATE certificates SET anchor_reference = $1 WHERE cert_id = $2`
	tag, err := r.pool.Exec(ctx, query, txRef, certID)
	if err != nil {
		return fmt.Errorf("postgres: set anchor reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
