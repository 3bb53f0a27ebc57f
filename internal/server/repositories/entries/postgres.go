// Package entries provides the PostgreSQL-backed mirror of diary entries the
// media pipeline needs: ownership lookup and deletion.
package entries

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
)

// PostgresRepository implements entry storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create registers an entry. Registering the same id for the same user
// again is a no-op; an id owned by another user is left untouched.
func (r *PostgresRepository) Create(ctx context.Context, entry *models.Entry) error {
	query := `
		INSERT INTO entries (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.UserID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetOwner returns the user id owning entry id, or common.ErrorNotFound.
func (r *PostgresRepository) GetOwner(ctx context.Context, id string) (string, error) {
	query := `SELECT user_id FROM entries WHERE id=$1`

	var userID string
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&userID); err != nil {
		return "", fmt.Errorf("failed to select entry: %w", dbx.NotFound(err))
	}
	return userID, nil
}

// GetOwnerForUpdate is GetOwner that also locks the entry row until the
// transaction ends, which blocks new media rows referencing it.
// Must be called on a *sql.Tx.
func (r *PostgresRepository) GetOwnerForUpdate(ctx context.Context, id string) (string, error) {
	query := `SELECT user_id FROM entries WHERE id=$1 FOR UPDATE`

	var userID string
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&userID); err != nil {
		return "", fmt.Errorf("failed to lock entry: %w", dbx.NotFound(err))
	}
	return userID, nil
}

// Delete removes entry id; media, transcriptions and jobs go with it via
// ON DELETE CASCADE. Reports whether a row was deleted.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}
