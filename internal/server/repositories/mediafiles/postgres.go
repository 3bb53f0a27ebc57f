// Package mediafiles provides PostgreSQL-backed persistence for media file
// records and their enrichment state.
package mediafiles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/google/uuid"
)

const columns = `m.id, m.entry_id, m.storage_key, m.url, m.original_name, m.mime_type, m.media_kind,
	m.size_bytes, m.duration_seconds, m.caption, m.enrichment_state, m.created_at`

// PostgresRepository implements media file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// validID reports whether id can name a row; media ids are UUIDs and
// Postgres rejects anything else with a syntax error instead of no rows.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.MediaFile, error) {
	var (
		item     models.MediaFile
		duration sql.NullFloat64
		caption  sql.NullString
	)
	if err := s.Scan(
		&item.ID, &item.EntryID, &item.StorageKey, &item.URL, &item.OriginalName, &item.MimeType, &item.Kind,
		&item.SizeBytes, &duration, &caption, &item.EnrichmentState, &item.CreatedAt,
	); err != nil {
		return nil, err
	}
	if duration.Valid {
		item.DurationSeconds = &duration.Float64
	}
	if caption.Valid {
		item.Caption = &caption.String
	}
	return &item, nil
}

// Create inserts a new media file. CreatedAt is filled from the database.
func (r *PostgresRepository) Create(ctx context.Context, file *models.MediaFile) error {
	query := `
		INSERT INTO media_files (id, entry_id, storage_key, url, original_name, mime_type, media_kind,
			size_bytes, duration_seconds, caption, enrichment_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.EntryID, file.StorageKey, file.URL, file.OriginalName, file.MimeType, string(file.Kind),
		file.SizeBytes, file.DurationSeconds, file.Caption, string(file.EnrichmentState),
	).Scan(&file.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns media file id regardless of owner, or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.MediaFile, error) {
	if !validID(id) {
		return nil, fmt.Errorf("failed to select media file: %w", common.ErrorNotFound)
	}
	query := `SELECT ` + columns + ` FROM media_files m WHERE m.id=$1`
	item, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to select media file: %w", dbx.NotFound(err))
	}
	return item, nil
}

// GetForUser returns media file id if its entry belongs to userID.
// Files of other users are reported as common.ErrorNotFound.
func (r *PostgresRepository) GetForUser(ctx context.Context, id, userID string) (*models.MediaFile, error) {
	if !validID(id) {
		return nil, fmt.Errorf("failed to select media file: %w", common.ErrorNotFound)
	}
	query := `SELECT ` + columns + ` FROM media_files m
		JOIN entries e ON e.id = m.entry_id
		WHERE m.id=$1 AND e.user_id=$2`
	item, err := scanFile(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to select media file: %w", dbx.NotFound(err))
	}
	return item, nil
}

// GetForUpdate locks the media row for the rest of the transaction.
// Must be called on a *sql.Tx.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.MediaFile, error) {
	if !validID(id) {
		return nil, fmt.Errorf("failed to lock media file: %w", common.ErrorNotFound)
	}
	query := `SELECT ` + columns + ` FROM media_files m WHERE m.id=$1 FOR UPDATE`
	item, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock media file: %w", dbx.NotFound(err))
	}
	return item, nil
}

// ListByEntry returns the media of entryID, oldest first.
func (r *PostgresRepository) ListByEntry(ctx context.Context, entryID string) ([]*models.MediaFile, error) {
	query := `SELECT ` + columns + ` FROM media_files m WHERE m.entry_id=$1 ORDER BY m.created_at, m.id`
	rows, err := r.db.QueryContext(ctx, query, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to select media files: %w", err)
	}
	defer rows.Close()

	result := []*models.MediaFile{}
	for rows.Next() {
		item, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// StorageKeysByEntry returns the blob keys of every media file of entryID.
func (r *PostgresRepository) StorageKeysByEntry(ctx context.Context, entryID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT storage_key FROM media_files WHERE entry_id=$1`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to select storage keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// SetEnrichment stores the enrichment state of id. A nil duration keeps the
// current value. Exactly one row must be affected.
func (r *PostgresRepository) SetEnrichment(ctx context.Context, id string, state models.EnrichmentState, durationSeconds *float64) error {
	query := `UPDATE media_files
		SET enrichment_state=$2, duration_seconds=COALESCE($3, duration_seconds)
		WHERE id=$1`
	res, err := r.db.ExecContext(ctx, query, id, string(state), durationSeconds)
	if err != nil {
		return fmt.Errorf("failed to update enrichment state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("wrong rows affected count: %d", n)
	}
	return nil
}

// Delete removes media file id. Reports whether a row was deleted.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM media_files WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete media file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Exists reports whether media file id is still registered.
func (r *PostgresRepository) Exists(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	var ok bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM media_files WHERE id=$1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check media file: %w", err)
	}
	return ok, nil
}
