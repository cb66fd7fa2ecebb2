package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the journal tables. job_events is append-only; nothing updates or deletes rows.
const Schema = `
CREATE TABLE IF NOT EXISTS job_events (
	event_id    BIGSERIAL PRIMARY KEY,
	job_id      UUID        NOT NULL,
	device_id   TEXT        NOT NULL,
	state       TEXT        NOT NULL,
	snapshot    JSONB       NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS job_events_job_idx ON job_events (job_id, event_id DESC);

CREATE TABLE IF NOT EXISTS certificates (
	cert_id          UUID PRIMARY KEY,
	job_id           UUID        NOT NULL,
	content_hash     TEXT        NOT NULL,
	supersedes       UUID,
	body             JSONB       NOT NULL,
	anchor_reference TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS certificates_job_idx ON certificates (job_id, created_at DESC);

CREATE TABLE IF NOT EXISTS anchor_receipts (
	content_hash    TEXT PRIMARY KEY,
	tx_ref          TEXT        NOT NULL,
	job_id          UUID        NOT NULL,
	status          TEXT        NOT NULL,
	confirmations   INTEGER     NOT NULL DEFAULT 0,
	polls           INTEGER     NOT NULL DEFAULT 0,
	submitted_at    TIMESTAMPTZ NOT NULL,
	last_checked_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS anchor_receipts_tx_idx ON anchor_receipts (tx_ref);
CREATE INDEX IF NOT EXISTS anchor_receipts_pending_idx ON anchor_receipts (submitted_at) WHERE status = 'pending';
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}
