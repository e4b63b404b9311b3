package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cachedrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/cachedRepo"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultFanoutWorkers = 64

	followersTimeout = 5 * time.Second
)

// LivePublisher pushes a payload onto one user's live channel.
type LivePublisher interface {
	Publish(ctx context.Context, userId int64, payload []byte) error
}

// FanoutWriter is the cache-and-push stage: every follower of the author gets
// the event in their cached feed and on their live channel.
type FanoutWriter struct {
	followers cachedrepo.FollowerCache
	feeds     cachedrepo.FeedCache
	live      LivePublisher
	workers   int
	logger    *zap.Logger
}

func NewFanoutWriter(followers cachedrepo.FollowerCache, feeds cachedrepo.FeedCache, live LivePublisher, workers int, logger *zap.Logger) *FanoutWriter {
	if workers <= 0 {
		workers = DefaultFanoutWorkers
	}
	return &FanoutWriter{
		followers: followers,
		feeds:     feeds,
		live:      live,
		workers:   workers,
		logger:    logger,
	}
}

// Handle fails when any feed update failed so the event is redelivered; feeds
// that already hold it ignore the replay. Live pushes are best effort and do not
// depend on the feed update, except that a replay the feed already holds is not
// pushed again.
func (fw *FanoutWriter) Handle(ctx context.Context, ev *models.Event) error {
	fctx, cancel := context.WithTimeout(ctx, followersTimeout)
	followers, err := fw.followers.GetFollowers(fctx, ev.AuthorId)
	cancel()
	if err != nil {
		return err
	}
	if len(followers) == 0 {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}

	var g errgroup.Group
	g.SetLimit(fw.workers)
	for _, id := range followers {
		g.Go(func() error {
			result, cacheErr := fw.feeds.Insert(ctx, id, ev)
			if cacheErr != nil {
				fw.logger.Warn("Error in updating follower feed",
					zap.String("event_id", ev.Id), zap.Int64("user_id", id), zap.Error(cacheErr))
			}
			if fw.live != nil && result != cachedrepo.Duplicate {
				if err := fw.live.Publish(ctx, id, payload); err != nil {
					fw.logger.Warn("Error in pushing live event",
						zap.String("event_id", ev.Id), zap.Int64("user_id", id), zap.Error(err))
				}
			}
			return cacheErr
		})
	}
	return g.Wait()
}
