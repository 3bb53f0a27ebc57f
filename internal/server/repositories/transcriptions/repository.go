package transcriptions

import (
	"context"

	"github.com/dmitrijs2005/diarymedia/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, t *models.Transcription) error
	GetByMediaFile(ctx context.Context, mediaFileID string) (*models.Transcription, error)
	DeleteByMediaFile(ctx context.Context, mediaFileID string) error
}
