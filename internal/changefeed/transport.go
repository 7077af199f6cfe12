package changefeed

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Subscribe on a closed transport
var ErrTransportClosed = errors.New("changefeed: transport closed")

// Transport delivers raw event payloads for a topic. Topics are table names;
// each implementation maps them onto its own channel naming.
type Transport interface {
	Subscribe(ctx context.Context, topic string, onMessage func(payload []byte)) (Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscription is a live transport subscription. Done is closed when the
// subscription is lost or closed.
type Subscription interface {
	Done() <-chan struct{}
	Close() error
}

// MemoryTransport is an in-process transport. Publish delivers synchronously.
type MemoryTransport struct {
	mu       sync.Mutex
	subs     map[string]map[*memorySub]struct{}
	failNext int
	closed   bool
}

// NewMemoryTransport creates a MemoryTransport
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	t         *MemoryTransport
	topic     string
	onMessage func([]byte)
	done      chan struct{}
	once      sync.Once
}

func (s *memorySub) Done() <-chan struct{} { return s.done }

func (s *memorySub) Close() error {
	s.t.remove(s)
	return nil
}

// Subscribe implements Transport
func (t *MemoryTransport) Subscribe(ctx context.Context, topic string, onMessage func([]byte)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.failNext > 0 {
		t.failNext--
		return nil, errors.New("changefeed: memory transport unavailable")
	}

	s := &memorySub{t: t, topic: topic, onMessage: onMessage, done: make(chan struct{})}
	if t.subs[topic] == nil {
		t.subs[topic] = make(map[*memorySub]struct{})
	}
	t.subs[topic][s] = struct{}{}
	return s, nil
}

// Publish implements Transport
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	targets := make([]*memorySub, 0, len(t.subs[topic]))
	for s := range t.subs[topic] {
		targets = append(targets, s)
	}
	t.mu.Unlock()

	for _, s := range targets {
		s.onMessage(payload)
	}
	return nil
}

// PublishEvent encodes and publishes an event on its table topic
func (t *MemoryTransport) PublishEvent(ctx context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	return t.Publish(ctx, ev.Table, payload)
}

// Drop simulates a lost connection for every subscription on topic
func (t *MemoryTransport) Drop(topic string) {
	t.mu.Lock()
	subs := t.subs[topic]
	delete(t.subs, topic)
	t.mu.Unlock()

	for s := range subs {
		s.once.Do(func() { close(s.done) })
	}
}

// FailNext makes the next n Subscribe calls fail
func (t *MemoryTransport) FailNext(n int) {
	t.mu.Lock()
	t.failNext = n
	t.mu.Unlock()
}

// Subscribers returns the number of live subscriptions on topic
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[topic])
}

// Close drops every subscription and rejects new ones
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	all := t.subs
	t.subs = make(map[string]map[*memorySub]struct{})
	t.mu.Unlock()

	for _, subs := range all {
		for s := range subs {
			s.once.Do(func() { close(s.done) })
		}
	}
	return nil
}

func (t *MemoryTransport) remove(s *memorySub) {
	t.mu.Lock()
	if subs, ok := t.subs[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(t.subs, s.topic)
		}
	}
	t.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}
