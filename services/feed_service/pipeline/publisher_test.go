package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	produced    []*kafka.Message
	produceErr  error
	deliveryErr error
	flushed     bool
	closed      bool
}

func (fp *fakeProducer) Produce(msg *kafka.Message, delivery chan kafka.Event) error {
	if fp.produceErr != nil {
		return fp.produceErr
	}
	fp.produced = append(fp.produced, msg)
	report := *msg
	report.TopicPartition.Error = fp.deliveryErr
	delivery <- &report
	return nil
}

func (fp *fakeProducer) Flush(int) int {
	fp.flushed = true
	return 0
}

func (fp *fakeProducer) Close() { fp.closed = true }

func TestKafkaPublisher_KeysByAuthor(t *testing.T) {
	fp := &fakeProducer{}
	kp := newKafkaPublisher(fp, PopulateTopic, zap.NewNop())
	ev := models.NewAddedFriend(models.UserID(42), 7)

	require.NoError(t, kp.Publish(context.Background(), ev))

	require.Len(t, fp.produced, 1)
	msg := fp.produced[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, PopulateTopic, *msg.TopicPartition.Topic)

	var got models.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, ev.Id, got.Id)
	assert.Equal(t, int64(7), got.Payload.(*models.AddedFriendPayload).NewFriend.Id)

	kp.Close()
	assert.True(t, fp.flushed)
	assert.True(t, fp.closed)
}

func TestKafkaPublisher_Failures(t *testing.T) {
	tests := []struct {
		name string
		fp   *fakeProducer
	}{
		{name: "produce", fp: &fakeProducer{produceErr: errors.New("queue full")}},
		{name: "delivery", fp: &fakeProducer{deliveryErr: errors.New("leader not available")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp := newKafkaPublisher(tt.fp, NewsTopic, zap.NewNop())
			err := kp.Publish(context.Background(), models.NewAddedPost(models.UserID(1), "x"))
			assert.ErrorIs(t, err, models.ErrTransientBroker)
		})
	}
}
