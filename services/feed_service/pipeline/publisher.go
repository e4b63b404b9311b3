package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Topics of the event stream.
const (
	PopulateTopic = "feed.populate"
	NewsTopic     = "feed.news"
)

// Publisher enqueues one event onto a stage's input stream.
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event) error
}

type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

type KafkaPublisher struct {
	p      kafkaProducer
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(config models.KafkaConfig, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": config.BootStrapServers,
		"acks":              "all",
		// retries inside the producer must not reorder one author's events
		"enable.idempotence": true,
	})
	if err != nil {
		logger.Error("Error in intiallizing a kakfa producer", zap.Error(err))
		return nil, err
	}
	return newKafkaPublisher(p, topic, logger), nil
}

func newKafkaPublisher(p kafkaProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		p:      p,
		topic:  topic,
		logger: logger.With(zap.String("topic", topic)),
	}
}

// Publish returns once the broker acknowledged the event. Events are keyed by
// author so that one author's events share a partition.
func (kp *KafkaPublisher) Publish(ctx context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}
	delivery := make(chan kafka.Event, 1)
	err = kp.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatInt(ev.AuthorId, 10)),
		Value:          data,
	}, delivery)
	if err != nil {
		kp.logger.Error("Error in producing event", zap.String("event_id", ev.Id), zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrTransientBroker, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", models.ErrTransientBroker, ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("%w: unexpected delivery report %v", models.ErrTransientBroker, e)
		}
		if m.TopicPartition.Error != nil {
			kp.logger.Error("Event delivery failed", zap.String("event_id", ev.Id), zap.Error(m.TopicPartition.Error))
			return fmt.Errorf("%w: %v", models.ErrTransientBroker, m.TopicPartition.Error)
		}
		return nil
	}
}

func (kp *KafkaPublisher) Close() {
	kp.p.Flush(5000)
	kp.p.Close()
}
