package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

var _ repository.ReceiptStore = (*pgReceiptStore)(nil)

type pgReceiptStore struct {
	pool *pgxpool.Pool
}

// NewPostgresReceiptStore creates a PostgreSQL-backed anchor receipt store.
func NewPostgresReceiptStore(pool *pgxpool.Pool) repository.ReceiptStore {
	return &pgReceiptStore{pool: pool}
}

const receiptColumns = `content_hash, tx_ref, job_id, status, confirmations, polls, submitted_at, last_checked_at`

func (r *pgReceiptStore) Save(ctx context.Context, rc *domain.AnchorReceipt) error {
	query := `
		INSERT INTO anchor_receipts (` + receiptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (content_hash) DO UPDATE
		SET tx_ref = EXCLUDED.tx_ref,
		    status = EXCLUDED.status,
		    confirmations = EXCLUDED.confirmations,
		    polls = EXCLUDED.polls,
		    submitted_at = EXCLUDED.submitted_at,
		    last_checked_at = EXCLUDED.last_checked_at`

	_, err := r.pool.Exec(ctx, query,
		rc.ContentHash, rc.TxRef, rc.JobID, string(rc.Status),
		rc.Confirmations, rc.Polls, rc.SubmittedAt, rc.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save receipt: %w", err)
	}
	return nil
}

func (r *pgReceiptStore) GetByTxRef(ctx context.Context, txRef string) (*domain.AnchorReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM anchor_receipts WHERE tx_ref = $1`
	return r.getOne(ctx, query, txRef)
}

func (r *pgReceiptStore) GetByHash(ctx context.Context, contentHash string) (*domain.AnchorReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM anchor_receipts WHERE content_hash = $1`
	return r.getOne(ctx, query, contentHash)
}

func (r *pgReceiptStore) ListPending(ctx context.Context, limit int) ([]*domain.AnchorReceipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM anchor_receipts
		WHERE status = 'pending'
		ORDER BY submitted_at
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending receipts: %w", err)
	}
	defer rows.Close()

	var out []*domain.AnchorReceipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *pgReceiptStore) getOne(ctx context.Context, query string, arg string) (*domain.AnchorReceipt, error) {
	rc, err := scanReceipt(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return rc, err
}

func scanReceipt(row pgx.Row) (*domain.AnchorReceipt, error) {
	rc := &domain.AnchorReceipt{}
	var status string
	err := row.Scan(
		&rc.ContentHash, &rc.TxRef, &rc.JobID, &status,
		&rc.Confirmations, &rc.Polls, &rc.SubmittedAt, &rc.LastCheckedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan receipt: %w", err)
	}
	rc.Status = domain.ConfirmationStatus(status)
	return rc, nil
}
