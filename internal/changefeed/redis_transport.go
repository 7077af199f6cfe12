package changefeed

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries events over Redis Pub/Sub on <prefix>feed:<table>.
// go-redis re-establishes dropped Pub/Sub connections on its own.
type RedisTransport struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisTransport creates a RedisTransport
func NewRedisTransport(rdb *redis.Client, keyPrefix string) *RedisTransport {
	return &RedisTransport{rdb: rdb, prefix: keyPrefix}
}

// Channel returns the Pub/Sub channel for a table
func (t *RedisTransport) Channel(table string) string {
	return t.prefix + "feed:" + table
}

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
}

func (s *redisSub) Done() <-chan struct{} { return s.done }

func (s *redisSub) Close() error {
	return s.ps.Close()
}

// Subscribe implements Transport
func (t *RedisTransport) Subscribe(ctx context.Context, topic string, onMessage func([]byte)) (Subscription, error) {
	ps := t.rdb.Subscribe(ctx, t.Channel(topic))
	// wait for the subscription confirmation so errors surface here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	s := &redisSub{ps: ps, done: make(chan struct{})}
	go func() {
		defer s.once.Do(func() { close(s.done) })
		for msg := range ps.Channel() {
			onMessage([]byte(msg.Payload))
		}
	}()
	return s, nil
}

// Publish implements Transport
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.rdb.Publish(ctx, t.Channel(topic), payload).Err()
}
