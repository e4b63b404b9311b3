package cachedrepo

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultFollowersTTL = 5 * time.Minute

// RedisFollowerCache caches the full follower list of a user and hands out a
// fresh random sample of at most maxFollowers ids on every call.
type RedisFollowerCache struct {
	r            redis.UniversalClient
	source       FollowersSource
	ttl          time.Duration
	maxFollowers int
	logger       *zap.Logger
}

func NewRedisFollowerCache(r redis.UniversalClient, source FollowersSource, ttl time.Duration, maxFollowers int, logger *zap.Logger) *RedisFollowerCache {
	if ttl <= 0 {
		ttl = DefaultFollowersTTL
	}
	return &RedisFollowerCache{
		r:            r,
		source:       source,
		ttl:          ttl,
		maxFollowers: maxFollowers,
		logger:       logger,
	}
}

func (fc *RedisFollowerCache) GetFollowers(ctx context.Context, userId int64) ([]int64, error) {
	followers, ok := fc.cached(ctx, userId)
	if !ok {
		var err error
		followers, err = fc.source.FollowerIds(ctx, userId)
		if err != nil {
			return nil, err
		}
		if followers == nil {
			// zero followers is cached too
			followers = []int64{}
		}
		fc.store(ctx, userId, followers)
	}
	return sample(followers, fc.maxFollowers), nil
}

func (fc *RedisFollowerCache) cached(ctx context.Context, userId int64) ([]int64, bool) {
	data, err := fc.r.Get(ctx, followersKey(userId)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// the graph store still answers, fan-out goes on without the cache
			fc.logger.Warn("Error in reading followers cache", zap.Int64("user_id", userId), zap.Error(err))
		}
		return nil, false
	}
	var followers []int64
	if err := json.Unmarshal(data, &followers); err != nil {
		fc.logger.Warn("Dropping undecodable followers entry", zap.Int64("user_id", userId), zap.Error(err))
		return nil, false
	}
	return followers, true
}

func (fc *RedisFollowerCache) store(ctx context.Context, userId int64, followers []int64) {
	data, err := json.Marshal(followers)
	if err != nil {
		return
	}
	if err := fc.r.Set(ctx, followersKey(userId), data, fc.ttl).Err(); err != nil {
		fc.logger.Warn("Error in caching followers", zap.Int64("user_id", userId), zap.Error(err))
	}
}

// sample returns ids unchanged when they fit, otherwise a uniform random
// subset of size max. The input is not modified.
func sample(ids []int64, max int) []int64 {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	// partial Fisher-Yates, only the first max slots are needed
	for i := 0; i < max; i++ {
		j := i + rand.IntN(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:max]
}
