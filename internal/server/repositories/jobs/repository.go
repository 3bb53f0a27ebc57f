package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/server/models"
)

type Repository interface {
	Enqueue(ctx context.Context, job *models.EnrichmentJob) error
	PickNext(ctx context.Context, lease time.Duration) (*models.EnrichmentJob, error)
	Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error
	Complete(ctx context.Context, id string, lastError *string) error
	HasOpen(ctx context.Context, mediaFileID string) (bool, error)
	OldestDueAge(ctx context.Context) (time.Duration, error)
}
