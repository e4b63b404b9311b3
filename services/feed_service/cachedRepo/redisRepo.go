package cachedrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxTxRetries = 10

type RedisFeedCache struct {
	r           redis.UniversalClient
	maxFeedSize int
	logger      *zap.Logger
}

func NewRedisClient(ctx context.Context, config models.RedisConfig) (redis.UniversalClient, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    config.ClusterAddr,
		Password: config.Password,
	})
	if err := r.Ping(ctx).Err(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func NewRedisFeedCache(r redis.UniversalClient, maxFeedSize int, logger *zap.Logger) *RedisFeedCache {
	if maxFeedSize <= 0 {
		maxFeedSize = 1
	}
	return &RedisFeedCache{
		r:           r,
		maxFeedSize: maxFeedSize,
		logger:      logger,
	}
}

// Every user feed is one key holding the whole window, so updates are
// read-modify-write. WATCH makes concurrent writers on the same user retry
// instead of overwriting each other; different users never contend.
func (rs *RedisFeedCache) Insert(ctx context.Context, userId int64, ev *models.Event) (InsertResult, error) {
	key := feedKey(userId)
	result := InsertFailed

	txf := func(tx *redis.Tx) error {
		feed, err := rs.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, res := insertIntoFeed(feed, ev, rs.maxFeedSize)
		result = res
		if res != Inserted {
			return nil
		}
		data, err := encodeFeed(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := rs.r.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		rs.logger.Error("Error in Inserting event into feed",
			zap.String("event_id", ev.Id), zap.Int64("user_id", userId), zap.Error(err))
		return InsertFailed, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return InsertFailed, fmt.Errorf("%w: feed of user %d kept changing", models.ErrTransientStore, userId)
}

func (rs *RedisFeedCache) Read(ctx context.Context, userId int64) ([]models.FeedEntry, error) {
	return rs.load(ctx, rs.r, feedKey(userId))
}

func (rs *RedisFeedCache) load(ctx context.Context, c redis.Cmdable, key string) ([]models.FeedEntry, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	feed, err := decodeFeed(data)
	if err != nil {
		// a broken blob is rebuilt from scratch by the next insert
		rs.logger.Warn("Dropping undecodable feed", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return feed, nil
}

func (rs *RedisFeedCache) Close() error {
	return rs.r.Close()
}
