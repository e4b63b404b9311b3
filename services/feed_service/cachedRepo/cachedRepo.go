package cachedrepo

import (
	"context"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
)

// InsertResult tells what a feed did with an event.
type InsertResult int

const (
	// InsertFailed accompanies an error; the feed state is unknown.
	InsertFailed InsertResult = iota
	Inserted
	// Duplicate means the feed already holds an event with the same id.
	Duplicate
	// Stale means a full feed rejected an event older than its oldest entry.
	Stale
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return "failed"
	}
}

// FeedCache keeps the bounded, newest-first window of every user's feed.
type FeedCache interface {
	Insert(ctx context.Context, userId int64, ev *models.Event) (InsertResult, error)
	Read(ctx context.Context, userId int64) ([]models.FeedEntry, error)
	Close() error
}

type FollowerCache interface {
	GetFollowers(ctx context.Context, userId int64) ([]int64, error)
}

// FollowersSource is the social graph the follower cache falls back to on a miss.
type FollowersSource interface {
	FollowerIds(ctx context.Context, userId int64) ([]int64, error)
}
