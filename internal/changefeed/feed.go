package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
)

const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second
)

var (
	ErrTableMismatch = errors.New("changefeed: key already bound to another table")
	ErrNoTable       = errors.New("changefeed: filter has no table")
)

// TableKey is the channel key shared by every subscriber of table. Per-subscriber
// narrowing belongs in the Filter, so all of them ride one transport subscription.
func TableKey(table string) string {
	return "feed:" + table
}

// Handlers receives the events of one subscription. Nil handlers are skipped.
type Handlers struct {
	OnInsert func(Event)
	OnUpdate func(Event)
	OnDelete func(Event)
}

// Unsubscribe releases one reference on a channel. Calling it more than once
// has no further effect.
type Unsubscribe func()

type registration struct {
	filter   Filter
	handlers Handlers
}

type channel struct {
	key    string
	topic  string
	refs   int
	cancel context.CancelFunc

	mu   sync.RWMutex
	regs map[uint64]*registration
	next uint64
}

// Feed multiplexes logical channels onto a Transport. Subscribing twice with
// the same key shares one transport subscription.
type Feed struct {
	transport   Transport
	backoffBase time.Duration
	backoffMax  time.Duration

	mu       sync.Mutex
	channels map[string]*channel
}

// Option configures a Feed
type Option func(*Feed)

// WithBackoff overrides the reconnect backoff bounds
func WithBackoff(base, max time.Duration) Option {
	return func(f *Feed) {
		f.backoffBase = base
		f.backoffMax = max
	}
}

// NewFeed creates a Feed on top of transport
func NewFeed(transport Transport, opts ...Option) *Feed {
	f := &Feed{
		transport:   transport,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		channels:    make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe registers handlers on the channel named key. The first subscriber
// of a key opens the transport subscription for filter.Table; the transport is
// dialed without holding the feed lock so other keys are not held up.
func (f *Feed) Subscribe(ctx context.Context, key string, filter Filter, h Handlers) (Unsubscribe, error) {
	if filter.Table == "" {
		return nil, ErrNoTable
	}

	f.mu.Lock()
	ch, ok := f.channels[key]
	if !ok {
		f.mu.Unlock()
		opened := &channel{key: key, topic: filter.Table, regs: make(map[uint64]*registration)}
		sub, err := f.transport.Subscribe(ctx, opened.topic, opened.dispatch)
		if err != nil {
			return nil, fmt.Errorf("changefeed: subscribe %s: %w", key, err)
		}

		f.mu.Lock()
		if ch, ok = f.channels[key]; ok {
			// another subscriber opened the key meanwhile
			_ = sub.Close()
		} else {
			ch = opened
			runCtx, cancel := context.WithCancel(context.Background())
			ch.cancel = cancel
			f.channels[key] = ch
			go f.maintain(runCtx, ch, sub)
			log.CtxDebug(ctx, "changefeed channel opened: key=%s, table=%s", key, ch.topic)
		}
	}
	defer f.mu.Unlock()

	if ch.topic != filter.Table {
		return nil, fmt.Errorf("%w: %s is bound to %s", ErrTableMismatch, key, ch.topic)
	}

	ch.refs++
	ch.mu.Lock()
	id := ch.next
	ch.next++
	ch.regs[id] = &registration{filter: filter, handlers: h}
	ch.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.release(ch, id) })
	}, nil
}

func (f *Feed) release(ch *channel, id uint64) {
	ch.mu.Lock()
	delete(ch.regs, id)
	ch.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	ch.refs--
	if ch.refs > 0 {
		return
	}
	if f.channels[ch.key] == ch {
		delete(f.channels, ch.key)
	}
	ch.cancel()
	log.Debug("changefeed channel closed: key=%s", ch.key)
}

// Refs returns the reference count of a key, 0 when the channel is closed
func (f *Feed) Refs(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[key]; ok {
		return ch.refs
	}
	return 0
}

// maintain keeps the transport subscription alive until the channel closes.
func (f *Feed) maintain(ctx context.Context, ch *channel, sub Subscription) {
	backoff := f.backoffBase
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case <-sub.Done():
		}

		log.Warn("changefeed subscription lost: key=%s, table=%s", ch.key, ch.topic)
		for {
			if !sleepWithContext(ctx, backoff) {
				return
			}
			next, err := f.transport.Subscribe(ctx, ch.topic, ch.dispatch)
			if err == nil {
				sub = next
				backoff = f.backoffBase
				log.Info("changefeed subscription restored: key=%s", ch.key)
				break
			}
			log.Warn("changefeed resubscribe failed: key=%s, error=%v", ch.key, err)
			backoff *= 2
			if backoff > f.backoffMax {
				backoff = f.backoffMax
			}
		}
	}
}

func (ch *channel) dispatch(payload []byte) {
	ev, err := ParseEvent(payload)
	if err != nil {
		log.Warn("changefeed drop malformed event: key=%s, error=%v", ch.key, err)
		return
	}
	if ev.Table != ch.topic {
		return
	}

	ch.mu.RLock()
	regs := make([]*registration, 0, len(ch.regs))
	for _, r := range ch.regs {
		regs = append(regs, r)
	}
	ch.mu.RUnlock()

	for _, r := range regs {
		if !r.filter.Match(ev) {
			continue
		}
		var fn func(Event)
		switch ev.Type {
		case EventInsert:
			fn = r.handlers.OnInsert
		case EventUpdate:
			fn = r.handlers.OnUpdate
		case EventDelete:
			fn = r.handlers.OnDelete
		}
		if fn != nil {
			fn(ev)
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
