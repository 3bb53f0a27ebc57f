// Package jobs implements the durable enrichment job queue on PostgreSQL.
//
// Jobs are claimed with UPDATE ... FOR UPDATE SKIP LOCKED so any number of
// workers can poll concurrently. A claimed job carries a lease; if the worker
// dies, the job becomes pickable again once the lease expires.
package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
)

const returning = `id, media_file_id, storage_key, mime_type, status, attempts, max_attempts,
	next_run_at, locked_until, last_error, created_at, updated_at`

// PostgresRepository implements the job queue over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Enqueue inserts a queued job due immediately.
func (r *PostgresRepository) Enqueue(ctx context.Context, job *models.EnrichmentJob) error {
	query := `
		INSERT INTO enrichment_jobs (id, media_file_id, storage_key, mime_type, status, attempts, max_attempts, next_run_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5, now())
		RETURNING status, next_run_at, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, job.ID, job.MediaFileID, job.StorageKey, job.MimeType, job.MaxAttempts).
		Scan(&job.Status, &job.NextRunAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// PickNext atomically claims the next due job: queued jobs whose next_run_at
// has passed, or running jobs whose lease expired. The claimed job is marked
// running, leased for lease, and its attempts counter is incremented.
//
// Returns common.ErrorNotFound when nothing is due.
func (r *PostgresRepository) PickNext(ctx context.Context, lease time.Duration) (*models.EnrichmentJob, error) {
	query := `
		UPDATE enrichment_jobs
		SET status = 'running',
			attempts = attempts + 1,
			locked_until = now() + make_interval(secs => $1),
			updated_at = now()
		WHERE id = (
			SELECT id FROM enrichment_jobs
			WHERE (status = 'queued' AND next_run_at <= now())
			   OR (status = 'running' AND locked_until < now())
			ORDER BY next_run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + returning

	job, err := scanJob(r.db.QueryRowContext(ctx, query, lease.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to pick job: %w", dbx.NotFound(err))
	}
	return job, nil
}

func scanJob(row *sql.Row) (*models.EnrichmentJob, error) {
	var (
		job         models.EnrichmentJob
		lockedUntil sql.NullTime
		lastError   sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.MediaFileID, &job.StorageKey, &job.MimeType, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.NextRunAt, &lockedUntil, &lastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		job.LockedUntil = &lockedUntil.Time
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	return &job, nil
}

// Reschedule returns a running job to the queue, due at runAt.
func (r *PostgresRepository) Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error {
	query := `UPDATE enrichment_jobs
		SET status = 'queued', next_run_at = $2, locked_until = NULL, last_error = $3, updated_at = now()
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, runAt, lastError); err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

// Complete marks a job done. A nil lastError keeps the previous value.
// Completing a job deleted by cascade is not an error.
func (r *PostgresRepository) Complete(ctx context.Context, id string, lastError *string) error {
	query := `UPDATE enrichment_jobs
		SET status = 'done', locked_until = NULL, last_error = COALESCE($2, last_error), updated_at = now()
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, lastError); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// HasOpen reports whether mediaFileID has a job that is not done yet.
func (r *PostgresRepository) HasOpen(ctx context.Context, mediaFileID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM enrichment_jobs WHERE media_file_id=$1 AND status <> 'done')`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, mediaFileID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check open jobs: %w", err)
	}
	return ok, nil
}

// OldestDueAge returns how long the oldest due queued job has been waiting,
// or zero when the queue is drained.
func (r *PostgresRepository) OldestDueAge(ctx context.Context) (time.Duration, error) {
	query := `SELECT COALESCE(EXTRACT(EPOCH FROM now() - MIN(next_run_at))::float8, 0)
		FROM enrichment_jobs WHERE status = 'queued' AND next_run_at <= now()`
	var secs float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&secs); err != nil {
		return 0, fmt.Errorf("failed to read queue lag: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
