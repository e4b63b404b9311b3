package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Consumer group ids, one per stage.
const (
	PopulateGroup = "populate"
	DatabaseGroup = "news_database"
	CacheGroup    = "news_cache"
)

const retryBackoff = time.Second

// Handler is one pipeline stage. A nil error means the message may be committed.
type Handler interface {
	Handle(ctx context.Context, ev *models.Event) error
}

type HandlerFunc func(ctx context.Context, ev *models.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev *models.Event) error { return f(ctx, ev) }

// subset of *kafka.Consumer the loop needs
type kafkaConsumer interface {
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
	Close() error
}

// Consumer drives one stage: it polls its topic, hands every event to the
// stage and commits only after the stage succeeded. A failed message is
// sought back to so the broker delivers it again.
type Consumer struct {
	c       kafkaConsumer
	group   string
	handler Handler
	logger  *zap.Logger
	backoff time.Duration
}

func NewConsumer(config models.KafkaConfig, group, topic string, handler Handler, logger *zap.Logger) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": config.BootStrapServers,
		"group.id":          group,

		// for better batching
		"fetch.min.bytes":   config.FetchMinBytes,
		"auto.offset.reset": config.OffsetReset,

		// at-least-once: offsets move only after the stage handled the message
		"enable.auto.commit": false,
	})
	if err != nil {
		logger.Error("Error in intiallizing a kakfa consumer", zap.String("group", group), zap.Error(err))
		return nil, err
	}
	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		logger.Error("Error in subcribtion to topic", zap.String("topic", topic), zap.Error(err))
		c.Close()
		return nil, err
	}
	return newConsumer(c, group, handler, logger), nil
}

func newConsumer(c kafkaConsumer, group string, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		c:       c,
		group:   group,
		handler: handler,
		logger:  logger.With(zap.String("group", group)),
		backoff: retryBackoff,
	}
}

// Run blocks until ctx is cancelled. Messages are handled one at a time, so
// partition order is kept inside a stage.
func (cs *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev := cs.c.Poll(100)
		switch e := ev.(type) {
		case *kafka.Message:
			if err := cs.processMessage(ctx, e); err != nil {
				cs.retryLater(ctx, e, err)
				continue
			}
			if _, err := cs.c.CommitMessage(e); err != nil {
				// the message is handled, a replay is absorbed by idempotence
				cs.logger.Warn("Error in committing offset", zap.Error(err))
			}
		case kafka.Error:
			cs.logger.Error("Error in Consuming events", zap.Error(e))
		}
	}
}

func (cs *Consumer) processMessage(ctx context.Context, msg *kafka.Message) error {
	var ev models.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		cs.logger.Error("Dropping undecodable message", zap.String("offset", msg.TopicPartition.String()), zap.Error(err))
		return nil
	}
	if err := ev.Validate(); err != nil {
		cs.logger.Error("Dropping invalid event", zap.String("event_id", ev.Id), zap.Error(err))
		return nil
	}
	err := cs.handler.Handle(ctx, &ev)
	if err == nil {
		return nil
	}
	if permanent(err) {
		// redelivery can never succeed
		cs.logger.Error("Dropping event", zap.String("event_id", ev.Id), zap.Error(err))
		return nil
	}
	return err
}

func (cs *Consumer) retryLater(ctx context.Context, msg *kafka.Message, err error) {
	cs.logger.Error("Error Processing Message", zap.String("offset", msg.TopicPartition.String()), zap.Error(err))

	if err := cs.c.Seek(msg.TopicPartition, 0); err != nil {
		cs.logger.Error("Error in seeking back to failed message", zap.Error(err))
	}
	select {
	case <-ctx.Done():
	case <-time.After(cs.backoff):
	}
}

// Close must be called once Run has returned.
func (cs *Consumer) Close() error {
	return cs.c.Close()
}

func permanent(err error) bool {
	return errors.Is(err, models.ErrInvalidEvent) || errors.Is(err, models.ErrNotFound)
}
