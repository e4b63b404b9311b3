package pipeline

import (
	"context"
	"fmt"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"go.uber.org/zap"
)

type SummaryLookup interface {
	GetUserSummary(ctx context.Context, id int64) (models.UserSummary, error)
	GetHobbySummary(ctx context.Context, id int64) (models.HobbySummary, error)
}

// Enricher replaces the bare ids inside an event payload with display
// summaries and forwards every event exactly once, enriched or not.
type Enricher struct {
	lookup SummaryLookup
	next   Publisher
	logger *zap.Logger
}

func NewEnricher(lookup SummaryLookup, next Publisher, logger *zap.Logger) *Enricher {
	return &Enricher{
		lookup: lookup,
		next:   next,
		logger: logger,
	}
}

func (en *Enricher) Handle(ctx context.Context, ev *models.Event) error {
	if !ev.Populated {
		if err := en.populate(ctx, ev); err != nil {
			return err
		}
	}
	return en.next.Publish(ctx, ev)
}

func (en *Enricher) populate(ctx context.Context, ev *models.Event) error {
	var err error
	switch p := ev.Payload.(type) {
	case *models.AddedPostPayload:
		err = en.user(ctx, &p.Author)
	case *models.AddedHobbyPayload:
		if err = en.user(ctx, &p.Author); err == nil {
			err = en.hobby(ctx, &p.Hobby)
		}
	case *models.AddedFriendPayload:
		if err = en.user(ctx, &p.Author); err == nil {
			err = en.user(ctx, &p.NewFriend)
		}
	default:
		err = fmt.Errorf("%w: unknown payload %T", models.ErrInvalidEvent, ev.Payload)
	}
	if err != nil {
		en.logger.Error("Error in populating event", zap.String("event_id", ev.Id), zap.Error(err))
		return err
	}
	ev.Populated = true
	return nil
}

// references that already carry a summary are left alone
func (en *Enricher) user(ctx context.Context, ref *models.UserRef) error {
	if ref.Populated() {
		return nil
	}
	s, err := en.lookup.GetUserSummary(ctx, ref.Id)
	if err != nil {
		return err
	}
	*ref = models.UserRefOf(s)
	return nil
}

func (en *Enricher) hobby(ctx context.Context, ref *models.HobbyRef) error {
	if ref.Populated() {
		return nil
	}
	s, err := en.lookup.GetHobbySummary(ctx, ref.Id)
	if err != nil {
		return err
	}
	*ref = models.HobbyRefOf(s)
	return nil
}
