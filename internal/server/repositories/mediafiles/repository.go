package mediafiles

import (
	"context"

	"github.com/dmitrijs2005/diarymedia/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.MediaFile) error
	Get(ctx context.Context, id string) (*models.MediaFile, error)
	GetForUser(ctx context.Context, id, userID string) (*models.MediaFile, error)
	GetForUpdate(ctx context.Context, id string) (*models.MediaFile, error)
	ListByEntry(ctx context.Context, entryID string) ([]*models.MediaFile, error)
	StorageKeysByEntry(ctx context.Context, entryID string) ([]string, error)
	SetEnrichment(ctx context.Context, id string, state models.EnrichmentState, durationSeconds *float64) error
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
}
