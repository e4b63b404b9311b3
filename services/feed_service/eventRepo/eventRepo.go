package eventrepo

import (
	"context"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
)

type Order string

const (
	Asc  Order = "ASC"
	Desc Order = "DESC"
)

// EventStore is the durable, append-only home of every event.
type EventStore interface {
	// Put is idempotent on the event id.
	Put(ctx context.Context, ev *models.Event) error
	Get(ctx context.Context, id string) (*models.Event, error)
	ListByAuthors(ctx context.Context, authorIds []int64, order Order, limit, offset int) ([]models.Event, error)
	ListSince(ctx context.Context, since float64, order Order, limit, offset int) ([]models.Event, error)
	Close()
}
