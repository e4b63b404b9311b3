package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 64

func channel(userId int64) string {
	return fmt.Sprintf("feed:live:%d", userId)
}

// RedisBroker routes live payloads over one pub/sub channel per user.
type RedisBroker struct {
	r redis.UniversalClient
}

func NewRedisBroker(r redis.UniversalClient) *RedisBroker {
	return &RedisBroker{r: r}
}

func (rb *RedisBroker) Publish(ctx context.Context, userId int64, payload []byte) error {
	return rb.r.Publish(ctx, channel(userId), payload).Err()
}

func (rb *RedisBroker) Subscribe(ctx context.Context, userId int64) (Subscription, error) {
	ps := rb.r.Subscribe(ctx, channel(userId))
	// wait for the server to confirm, otherwise errors only show up later
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	s := &redisSubscription{
		ps:     ps,
		out:    make(chan []byte, subscriptionBuffer),
		closed: make(chan struct{}),
	}
	go s.pump(ps.Channel())
	return s, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for msg := range in {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.closed:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.err = s.ps.Close()
	})
	return s.err
}
