package cachedrepo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { r.Close() })
	return mr, r
}

func testEvent(id string, created float64) *models.Event {
	return &models.Event{
		Id:       id,
		AuthorId: 1,
		Type:     models.AddedPost,
		Payload:  &models.AddedPostPayload{Author: models.UserID(1), Text: id},
		Created:  created,
	}
}

func createdOf(feed []models.FeedEntry) []float64 {
	out := make([]float64, len(feed))
	for i, e := range feed {
		out[i] = e.Created
	}
	return out
}

func TestFeedCache_WindowAtCapacity(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	cache := NewRedisFeedCache(r, 2, zap.NewNop())

	for i, c := range []float64{10, 20} {
		res, err := cache.Insert(ctx, 7, testEvent(fmt.Sprintf("e%d", i), c))
		require.NoError(t, err)
		require.Equal(t, Inserted, res)
	}

	res, err := cache.Insert(ctx, 7, testEvent("old", 5))
	require.NoError(t, err)
	assert.Equal(t, Stale, res)

	feed, err := cache.Read(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 10}, createdOf(feed))

	res, err = cache.Insert(ctx, 7, testEvent("new", 25))
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)

	feed, err = cache.Read(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{25, 20}, createdOf(feed))
	assert.Equal(t, "new", feed[0].Id)
}

func TestFeedCache_DuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	cache := NewRedisFeedCache(r, 10, zap.NewNop())

	ev := testEvent("dup", 10)
	_, err := cache.Insert(ctx, 7, ev)
	require.NoError(t, err)
	_, err = cache.Insert(ctx, 7, testEvent("other", 11))
	require.NoError(t, err)

	res, err := cache.Insert(ctx, 7, ev)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	feed, err := cache.Read(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, feed, 2)
}

func TestFeedCache_NotFullAcceptsOlderEvents(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	cache := NewRedisFeedCache(r, 3, zap.NewNop())

	for i, c := range []float64{10, 20, 5} {
		res, err := cache.Insert(ctx, 7, testEvent(fmt.Sprintf("e%d", i), c))
		require.NoError(t, err)
		assert.Equal(t, Inserted, res)
	}
	feed, err := cache.Read(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 10, 5}, createdOf(feed))
}

func TestFeedCache_ReadMissingIsEmpty(t *testing.T) {
	_, r := newTestRedis(t)
	cache := NewRedisFeedCache(r, 3, zap.NewNop())

	feed, err := cache.Read(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestFeedCache_KeepsPayload(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	cache := NewRedisFeedCache(r, 3, zap.NewNop())

	last := "Lee"
	ev := &models.Event{
		Id:       "f1",
		AuthorId: 3,
		Type:     models.AddedFriend,
		Payload: &models.AddedFriendPayload{
			Author:    models.UserRefOf(models.UserSummary{Id: 3, FirstName: "Ann"}),
			NewFriend: models.UserRefOf(models.UserSummary{Id: 4, FirstName: "Bo", LastName: &last}),
		},
		Created:   1,
		Populated: true,
	}
	_, err := cache.Insert(ctx, 7, ev)
	require.NoError(t, err)

	feed, err := cache.Read(ctx, 7)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	p, ok := feed[0].Payload.(*models.AddedFriendPayload)
	require.True(t, ok)
	assert.True(t, p.Populated())
	assert.Equal(t, "Bo", p.NewFriend.Summary.FirstName)
	assert.Equal(t, "Lee", *p.NewFriend.Summary.LastName)
}

func TestFeedCache_ConcurrentInsertsSameUser(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	cache := NewRedisFeedCache(r, 100, zap.NewNop())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Insert(ctx, 7, testEvent(fmt.Sprintf("c%d", i), float64(i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	feed, err := cache.Read(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, feed, 8)
}

func TestInsertIntoFeed_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	run := func(createds []float64, maxSize int) []models.FeedEntry {
		var feed []models.FeedEntry
		for i, c := range createds {
			// every third event is a replay of the previous one
			id := fmt.Sprintf("e%d", i)
			if i%3 == 2 {
				id = fmt.Sprintf("e%d", i-1)
			}
			feed, _ = insertIntoFeed(feed, testEvent(id, c), maxSize)
		}
		return feed
	}

	properties.Property("feed never exceeds its bound", prop.ForAll(
		func(createds []float64, maxSize int) bool {
			return len(run(createds, maxSize)) <= maxSize
		},
		gen.SliceOf(gen.Float64Range(0, 1000)),
		gen.IntRange(1, 20),
	))

	properties.Property("feed is newest first without duplicate ids", prop.ForAll(
		func(createds []float64, maxSize int) bool {
			feed := run(createds, maxSize)
			seen := map[string]bool{}
			for i, e := range feed {
				if seen[e.Id] {
					return false
				}
				seen[e.Id] = true
				if i > 0 && feed[i-1].Created < e.Created {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(0, 1000)),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

type stubFollowers struct {
	mu    sync.Mutex
	ids   map[int64][]int64
	calls int
	err   error
}

func (s *stubFollowers) FollowerIds(_ context.Context, userId int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.ids[userId], nil
}

func TestFollowerCache_CachesWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)
	src := &stubFollowers{ids: map[int64][]int64{1: {2, 3, 4}}}
	fc := NewRedisFollowerCache(r, src, 5*time.Minute, 10, zap.NewNop())

	got, err := fc.GetFollowers(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3, 4}, got)
	assert.Equal(t, 5*time.Minute, mr.TTL(followersKey(1)))

	_, err = fc.GetFollowers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	mr.FastForward(5*time.Minute + time.Second)
	_, err = fc.GetFollowers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestFollowerCache_EmptyListIsCached(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)
	src := &stubFollowers{ids: map[int64][]int64{}}
	fc := NewRedisFollowerCache(r, src, time.Minute, 10, zap.NewNop())

	for range 3 {
		got, err := fc.GetFollowers(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Equal(t, 1, src.calls)
	assert.True(t, mr.Exists(followersKey(5)))
}

func TestFollowerCache_SourceErrorIsReturned(t *testing.T) {
	_, r := newTestRedis(t)
	src := &stubFollowers{err: models.ErrTransientStore}
	fc := NewRedisFollowerCache(r, src, time.Minute, 10, zap.NewNop())

	_, err := fc.GetFollowers(context.Background(), 5)
	assert.ErrorIs(t, err, models.ErrTransientStore)
}

func TestFollowerCache_SamplesLargeSets(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	all := make([]int64, 50)
	for i := range all {
		all[i] = int64(i + 100)
	}
	src := &stubFollowers{ids: map[int64][]int64{1: all}}
	fc := NewRedisFollowerCache(r, src, time.Minute, 10, zap.NewNop())

	got, err := fc.GetFollowers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Subset(t, all, got)

	// the cached entry keeps the full list
	cached, ok := fc.cached(ctx, 1)
	require.True(t, ok)
	assert.Len(t, cached, 50)
}

func TestSample_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("sample never exceeds max and draws distinct members", prop.ForAll(
		func(n, max int) bool {
			ids := make([]int64, n)
			for i := range ids {
				ids[i] = int64(i)
			}
			got := sample(ids, max)
			if len(got) > max || len(got) != min(n, max) {
				return false
			}
			seen := map[int64]bool{}
			for _, id := range got {
				if id < 0 || id >= int64(n) || seen[id] {
					return false
				}
				seen[id] = true
			}
			// input untouched
			for i := range ids {
				if ids[i] != int64(i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 300),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
