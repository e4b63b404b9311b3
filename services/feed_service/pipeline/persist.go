package pipeline

import (
	"context"

	eventrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/eventRepo"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
)

// Persister is the durability sink of the pipeline.
type Persister struct {
	store eventrepo.EventStore
}

func NewPersister(store eventrepo.EventStore) *Persister {
	return &Persister{store: store}
}

func (ps *Persister) Handle(ctx context.Context, ev *models.Event) error {
	if ev.Stored {
		return nil
	}
	if err := ps.store.Put(ctx, ev); err != nil {
		return err
	}
	ev.Stored = true
	return nil
}
