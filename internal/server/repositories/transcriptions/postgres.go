// Package transcriptions stores the zero-or-one transcript of each audio media file.
package transcriptions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
)

// PostgresRepository implements transcription storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert writes the transcript of t.MediaFileID. An existing transcript is
// overwritten (last writer wins); its id is kept. ID and CreatedAt of t are
// refreshed from the stored row.
func (r *PostgresRepository) Upsert(ctx context.Context, t *models.Transcription) error {
	query := `
		INSERT INTO transcriptions (id, media_file_id, text, confidence, language)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (media_file_id)
		DO UPDATE SET
			text = EXCLUDED.text,
			confidence = EXCLUDED.confidence,
			language = EXCLUDED.language,
			created_at = now()
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, t.ID, t.MediaFileID, t.Text, t.Confidence, t.Language).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByMediaFile returns the transcript of mediaFileID or common.ErrorNotFound.
func (r *PostgresRepository) GetByMediaFile(ctx context.Context, mediaFileID string) (*models.Transcription, error) {
	query := `SELECT id, media_file_id, text, confidence, language, created_at
		FROM transcriptions WHERE media_file_id=$1`

	var (
		item       models.Transcription
		confidence sql.NullInt32
	)
	err := r.db.QueryRowContext(ctx, query, mediaFileID).Scan(
		&item.ID, &item.MediaFileID, &item.Text, &confidence, &item.Language, &item.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select transcription: %w", dbx.NotFound(err))
	}
	if confidence.Valid {
		c := int(confidence.Int32)
		item.Confidence = &c
	}
	return &item, nil
}

// DeleteByMediaFile removes the transcript of mediaFileID, if any.
func (r *PostgresRepository) DeleteByMediaFile(ctx context.Context, mediaFileID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE media_file_id=$1`, mediaFileID); err != nil {
		return fmt.Errorf("failed to delete transcription: %w", err)
	}
	return nil
}
