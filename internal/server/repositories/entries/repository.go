package entries

import (
	"context"

	"github.com/dmitrijs2005/diarymedia/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, entry *models.Entry) error
	GetOwner(ctx context.Context, id string) (string, error)
	GetOwnerForUpdate(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) (bool, error)
}
