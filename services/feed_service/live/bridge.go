package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSendTimeout = 5 * time.Second

var ErrBridgeClosed = errors.New("live bridge closed")

// Broker is a topic exchange routed by user id.
type Broker interface {
	Publish(ctx context.Context, userId int64, payload []byte) error
	Subscribe(ctx context.Context, userId int64) (Subscription, error)
}

// Subscription delivers the payloads routed to one user until closed. Close
// releases the broker side of the subscription and closes Messages.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Conn is one open real-time client connection.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// subscription is pending until ready is closed; sub is nil while pending and
// err is set when the broker subscription could not be opened.
type subscription struct {
	conns  map[Conn]struct{}
	sub    Subscription
	err    error
	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Bridge holds one broker subscription per user that has at least one open
// connection and copies every message it receives to all of them.
type Bridge struct {
	mu          sync.Mutex
	broker      Broker
	subs        map[int64]*subscription
	sendTimeout time.Duration
	logger      *zap.Logger
}

func NewBridge(broker Broker, logger *zap.Logger) *Bridge {
	return &Bridge{
		broker:      broker,
		subs:        make(map[int64]*subscription),
		sendTimeout: defaultSendTimeout,
		logger:      logger,
	}
}

// Connect registers conn for userId. The first connection of a user opens the
// broker subscription outside the bridge lock; connections of the same user
// arriving meanwhile wait for it. A failed subscribe is returned to all of them
// and nothing is registered.
func (b *Bridge) Connect(ctx context.Context, userId int64, conn Conn) error {
	b.mu.Lock()
	if s, ok := b.subs[userId]; ok {
		s.conns[conn] = struct{}{}
		pending := s.sub == nil
		b.mu.Unlock()
		if !pending {
			return nil
		}
		return b.await(ctx, userId, s, conn)
	}
	s := &subscription{
		conns: map[Conn]struct{}{conn: {}},
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	b.subs[userId] = s
	b.mu.Unlock()

	sub, err := b.broker.Subscribe(ctx, userId)

	b.mu.Lock()
	switch {
	case err != nil:
		b.logger.Error("Error in subscribing to live channel", zap.Int64("user_id", userId), zap.Error(err))
		if b.subs[userId] == s {
			delete(b.subs, userId)
		}
		s.err = err
	case b.subs[userId] != s:
		// the bridge was closed while subscribing
		s.err = ErrBridgeClosed
	default:
		fctx, cancel := context.WithCancel(context.Background())
		s.sub, s.cancel = sub, cancel
		go b.forward(fctx, userId, s)
	}
	b.mu.Unlock()
	close(s.ready)

	if errors.Is(s.err, ErrBridgeClosed) {
		if cerr := sub.Close(); cerr != nil {
			b.logger.Warn("Error in closing live subscription", zap.Int64("user_id", userId), zap.Error(cerr))
		}
	}
	return s.err
}

func (b *Bridge) await(ctx context.Context, userId int64, s *subscription, conn Conn) error {
	select {
	case <-s.ready:
		return s.err
	case <-ctx.Done():
		b.Disconnect(userId, conn)
		return ctx.Err()
	}
}

// Disconnect unregisters conn. Removing the last connection of a user tears
// the subscription down before returning.
func (b *Bridge) Disconnect(userId int64, conn Conn) {
	b.mu.Lock()
	s, ok := b.subs[userId]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, ok := s.conns[conn]; !ok {
		b.mu.Unlock()
		return
	}
	delete(s.conns, conn)
	// a pending record stays with the connection that is subscribing
	last := len(s.conns) == 0 && s.sub != nil
	if last {
		delete(b.subs, userId)
	}
	b.mu.Unlock()

	if last {
		b.release(userId, s)
		<-s.done
	}
}

// Subscribed reports whether userId has an open broker subscription.
func (b *Bridge) Subscribed(userId int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[userId]
	return ok && s.sub != nil
}

func (b *Bridge) Connections(userId int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[userId]; ok {
		return len(s.conns)
	}
	return 0
}

// Close drops every subscription and closes every registered connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int64]*subscription)
	b.mu.Unlock()

	for userId, s := range subs {
		for c := range s.conns {
			c.Close()
		}
		// pending subscriptions are closed by the connection opening them
		if s.sub == nil {
			continue
		}
		b.release(userId, s)
		<-s.done
	}
}

func (b *Bridge) forward(ctx context.Context, userId int64, s *subscription) {
	defer close(s.done)
	msgs := s.sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			for _, c := range b.snapshot(userId, s) {
				sctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
				err := c.Send(sctx, payload)
				cancel()
				if err == nil {
					continue
				}
				b.logger.Warn("Dropping live connection", zap.Int64("user_id", userId), zap.Error(err))
				if b.drop(userId, s, c) {
					return
				}
			}
		}
	}
}

func (b *Bridge) snapshot(userId int64, s *subscription) []Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userId] != s {
		return nil
	}
	conns := make([]Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// drop removes a failed connection and reports whether it was the last one,
// in which case the subscription has been released.
func (b *Bridge) drop(userId int64, s *subscription, c Conn) bool {
	b.mu.Lock()
	if b.subs[userId] != s {
		b.mu.Unlock()
		return false
	}
	delete(s.conns, c)
	last := len(s.conns) == 0
	if last {
		delete(b.subs, userId)
	}
	b.mu.Unlock()

	c.Close()
	if last {
		b.release(userId, s)
	}
	return last
}

func (b *Bridge) release(userId int64, s *subscription) {
	s.cancel()
	if err := s.sub.Close(); err != nil {
		b.logger.Warn("Error in closing live subscription", zap.Int64("user_id", userId), zap.Error(err))
	}
}
