package messagerepo

import (
	"context"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
)

type MessageRepo interface {
	Create(ctx context.Context, chatKey string, authorId int64, text string) (models.Message, error)
	Get(ctx context.Context, id, chatKey string) (models.Message, error)
	// List returns messages created after the given unix time, newest first.
	List(ctx context.Context, chatKey string, after float64, limit, offset int) ([]models.Message, error)
}
