package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mbeoliero/kit/log"
)

// PostgresTransport listens for NOTIFY payloads on a channel named after the
// table. Each subscription holds a dedicated connection taken out of the pool.
type PostgresTransport struct {
	pool *pgxpool.Pool
}

// NewPostgresTransport creates a PostgresTransport on an existing pool
func NewPostgresTransport(pool *pgxpool.Pool) *PostgresTransport {
	return &PostgresTransport{pool: pool}
}

// ConnectPostgres opens a pool and verifies it with a ping
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

type pgSub struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *pgSub) Done() <-chan struct{} { return s.done }

func (s *pgSub) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Subscribe implements Transport
func (t *PostgresTransport) Subscribe(ctx context.Context, topic string, onMessage func([]byte)) (Subscription, error) {
	pc, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	// the connection stays in LISTEN state, so it never goes back to the pool
	conn := pc.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	s := &pgSub{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer s.once.Do(func() { close(s.done) })
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(waitCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("postgres listen ended: channel=%s, error=%v", topic, err)
				}
				return
			}
			onMessage([]byte(n.Payload))
		}
	}()
	return s, nil
}

// Publish implements Transport
func (t *PostgresTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := t.pool.Exec(ctx, "SELECT pg_notify($1, $2)", topic, string(payload))
	return err
}
