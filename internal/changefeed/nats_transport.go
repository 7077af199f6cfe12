package changefeed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/nats-io/nats.go"
)

// DefaultNatsSubjectPrefix is prepended to table names to form subjects
const DefaultNatsSubjectPrefix = "chatsev.feed."

// NatsConfig holds the NATS connection settings
type NatsConfig struct {
	Servers       []string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsTransport carries events as core NATS messages
type NatsTransport struct {
	nc     *nats.Conn
	prefix string
	closed chan struct{}
}

// NewNatsTransport connects to NATS with unlimited reconnects
func NewNatsTransport(cfg NatsConfig) (*NatsTransport, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNatsSubjectPrefix
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	t := &NatsTransport{prefix: cfg.SubjectPrefix, closed: make(chan struct{})}
	var closeOnce sync.Once
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			closeOnce.Do(func() { close(t.closed) })
		}),
	}

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	t.nc = nc
	return t, nil
}

// Subject returns the subject for a table
func (t *NatsTransport) Subject(table string) string {
	return t.prefix + table
}

type natsSub struct {
	sub  *nats.Subscription
	done chan struct{}
	once sync.Once
}

func (s *natsSub) Done() <-chan struct{} { return s.done }

func (s *natsSub) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.sub.Unsubscribe()
}

// Subscribe implements Transport
func (t *NatsTransport) Subscribe(ctx context.Context, topic string, onMessage func([]byte)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := t.nc.Subscribe(t.Subject(topic), func(m *nats.Msg) {
		onMessage(m.Data)
	})
	if err != nil {
		return nil, err
	}

	s := &natsSub{sub: sub, done: make(chan struct{})}
	go func() {
		select {
		case <-t.closed:
			s.once.Do(func() { close(s.done) })
		case <-s.done:
		}
	}()
	return s, nil
}

// Publish implements Transport
func (t *NatsTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.nc.Publish(t.Subject(topic), payload)
}

// Close drains the connection
func (t *NatsTransport) Close() error {
	return t.nc.Drain()
}
