package pipeline

import (
	"context"
	"time"

	eventrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/eventRepo"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultWarmupPeriod = 24 * time.Hour
	DefaultWarmupRate   = 500

	warmupPageSize = 200
)

// Warmer replays recent events from the store through the pipeline so a cold
// cache fills up again. Replayed events are flagged populated and stored, so
// only the cache-and-push stage does any work for them.
type Warmer struct {
	store   eventrepo.EventStore
	pub     Publisher
	period  time.Duration
	limiter *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger
}

func NewWarmer(store eventrepo.EventStore, pub Publisher, period time.Duration, perSecond int, logger *zap.Logger) *Warmer {
	if period <= 0 {
		period = DefaultWarmupPeriod
	}
	if perSecond <= 0 {
		perSecond = DefaultWarmupRate
	}
	return &Warmer{
		store:   store,
		pub:     pub,
		period:  period,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		now:     time.Now,
		logger:  logger,
	}
}

// Run returns the number of republished events.
func (w *Warmer) Run(ctx context.Context) (int, error) {
	since := models.Timestamp(w.now().Add(-w.period))
	published, offset := 0, 0
	for {
		events, err := w.store.ListSince(ctx, since, eventrepo.Asc, warmupPageSize, offset)
		if err != nil {
			return published, err
		}
		for i := range events {
			ev := &events[i]
			if err := w.limiter.Wait(ctx); err != nil {
				return published, err
			}
			ev.Populated, ev.Stored = true, true
			if err := w.pub.Publish(ctx, ev); err != nil {
				w.logger.Error("Error in replaying event", zap.String("event_id", ev.Id), zap.Error(err))
				return published, err
			}
			published++
		}
		if len(events) < warmupPageSize {
			w.logger.Info("Warm-up finished", zap.Int("events", published))
			return published, nil
		}
		offset += len(events)
	}
}
