package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/event"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue is a buffered channel subscriber. Deliver blocks until there is
// room or ctx is done.
type Queue struct {
	c chan event.Event

	closeOnce sync.Once
	closed    chan struct{}
}

func NewQueue(size int) *Queue {
	return &Queue{
		c:      make(chan event.Event, size),
		closed: make(chan struct{}),
	}
}

func (q *Queue) Deliver(ctx context.Context, e event.Event) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.c <- e:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is the receiving side of the queue. It is never closed.
func (q *Queue) C() <-chan event.Event {
	return q.c
}

// Close makes further deliveries fail. Buffered events stay readable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// LogSubscriber logs every event.
type LogSubscriber struct {
	logger *zap.Logger
}

func NewLogSubscriber(logger *zap.Logger) *LogSubscriber {
	if logger == nil {
		logger = nopLogger
	}
	return &LogSubscriber{logger: logger}
}

func (s *LogSubscriber) Deliver(_ context.Context, e event.Event) error {
	if ce := s.logger.Check(zap.InfoLevel, "event"); ce != nil {
		ce.Write(zap.String("type", e.TypeName()), zap.Any("event", e))
	}
	return nil
}

// RedisPublisher publishes the JSON encoding of every event to a redis
// channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Deliver(ctx context.Context, e event.Event) error {
	b, err := event.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", e.TypeName(), err)
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.TypeName(), err)
	}
	return nil
}
