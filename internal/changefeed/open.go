package changefeed

import (
	"context"
	"fmt"

	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/pkg/constant"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"
)

// Open builds the transport selected by cfg. The returned close func releases
// connections the transport owns; the shared redis client is not closed.
func Open(ctx context.Context, cfg config.FeedConfig, rdb *redis.Client) (Transport, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Transport {
	case constant.FeedTransportMemory:
		t := NewMemoryTransport()
		return t, t.Close, nil

	case constant.FeedTransportRedis, "":
		if rdb == nil {
			return nil, nil, fmt.Errorf("changefeed: redis transport needs a redis client")
		}
		return NewRedisTransport(rdb, constant.GetRedisKeyPrefix()), noop, nil

	case constant.FeedTransportPostgres:
		pool, err := ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresTransport(pool), func() error { pool.Close(); return nil }, nil

	case constant.FeedTransportNats:
		t, err := NewNatsTransport(NatsConfig{
			Servers:       cfg.Nats.Servers,
			Name:          cfg.Nats.Name,
			SubjectPrefix: cfg.Nats.SubjectPrefix,
			ReconnectWait: cfg.Nats.ReconnectWait,
		})
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	}

	log.CtxError(ctx, "unknown feed transport: transport=%s", cfg.Transport)
	return nil, nil, fmt.Errorf("changefeed: unknown transport %q", cfg.Transport)
}
