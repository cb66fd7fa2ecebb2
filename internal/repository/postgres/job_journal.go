package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

// Ensure pgJobJournal implements repository.JobJournal.
var _ repository.JobJournal = (*pgJobJournal)(nil)

type pgJobJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJobJournal creates a PostgreSQL-backed job journal.
func NewPostgresJobJournal(pool *pgxpool.Pool) repository.JobJournal {
	return &pgJobJournal{pool: pool}
}

func (r *pgJobJournal) Append(ctx context.Context, job *domain.Job) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("postgres: marshal job: %w", err)
	}
	query := `
		INSERT INTO job_events (job_id, device_id, state, snapshot)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.pool.Exec(ctx, query, job.ID, job.DeviceID, string(job.State), snapshot); err != nil {
		return fmt.Errorf("postgres: append job event: %w", err)
	}
	return nil
}

func (r *pgJobJournal) Latest(ctx context.Context) ([]*domain.Job, error) {
	query := `
		SELECT snapshot FROM (
			SELECT DISTINCT ON (job_id) job_id, snapshot
			FROM job_events
			ORDER BY job_id, event_id DESC
		) latest
		ORDER BY (snapshot->>'started_at')::timestamptz, job_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest job events: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan job event: %w", err)
		}
		job := &domain.Job{}
		if err := json.Unmarshal(raw, job); err != nil {
			return nil, fmt.Errorf("postgres: decode job snapshot: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
