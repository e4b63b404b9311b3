package pipeline

import (
	"context"

	cachedrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/cachedRepo"
	eventrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/eventRepo"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"go.uber.org/zap"
)

type FollowingSource interface {
	FollowingIds(ctx context.Context, userId int64) ([]int64, error)
}

// FeedReader serves feed pages from the cache and falls back to the event
// store when the cached window cannot fill the requested page.
type FeedReader struct {
	feeds  cachedrepo.FeedCache
	graph  FollowingSource
	store  eventrepo.EventStore
	logger *zap.Logger
}

func NewFeedReader(feeds cachedrepo.FeedCache, graph FollowingSource, store eventrepo.EventStore, logger *zap.Logger) *FeedReader {
	return &FeedReader{
		feeds:  feeds,
		graph:  graph,
		store:  store,
		logger: logger,
	}
}

func (fr *FeedReader) ReadFeed(ctx context.Context, userId int64, offset, limit int) ([]models.FeedEntry, error) {
	if limit <= 0 {
		return []models.FeedEntry{}, nil
	}
	offset = max(offset, 0)

	cached, err := fr.feeds.Read(ctx, userId)
	if err != nil {
		// a cache outage degrades to the store
		fr.logger.Warn("Error in reading cached feed", zap.Int64("user_id", userId), zap.Error(err))
	}
	if offset+limit <= len(cached) {
		return cached[offset : offset+limit], nil
	}

	following, err := fr.graph.FollowingIds(ctx, userId)
	if err != nil {
		return nil, err
	}
	if len(following) == 0 {
		return []models.FeedEntry{}, nil
	}
	return fr.store.ListByAuthors(ctx, following, eventrepo.Desc, limit, offset)
}

// AuthorNews lists the events one user authored, newest first.
func (fr *FeedReader) AuthorNews(ctx context.Context, authorId int64, offset, limit int) ([]models.Event, error) {
	return fr.store.ListByAuthors(ctx, []int64{authorId}, eventrepo.Desc, limit, offset)
}
