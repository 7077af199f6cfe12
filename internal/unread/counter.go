// Package unread keeps per-viewer unread message counters consistent from a
// best-effort change feed plus periodic authoritative recounts.
package unread

import (
	"context"
	"sync"
	"time"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/chatsev/realtime/internal/entity"
	"github.com/chatsev/realtime/pkg/fetchcache"
	"github.com/mbeoliero/kit/log"
)

const (
	DefaultRecountMinInterval = 2 * time.Second
	DefaultReconcileInterval  = 30 * time.Second
	eventTimeout              = 5 * time.Second
)

// Options configures a Counter
type Options struct {
	RecountMinInterval time.Duration
	ReconcileInterval  time.Duration
	FetchTimeout       time.Duration
	// Now returns the recount snapshot stamp in unix millis
	Now func() int64
}

type delta struct {
	ts   int64
	diff int64
}

// Counter is the unread count of one viewer for one Source.
//
// A full recount is stamped with the time its query started. Deltas whose
// commit timestamp is at or before the stamp of the last applied recount are
// already part of it and are dropped. Deltas applied while a recount is in
// flight are replayed on top of its result when their commit timestamp is
// after the recount's stamp.
type Counter struct {
	viewerId string
	source   Source
	opts     Options
	cache    *fetchcache.Cache[int64]
	visible  chan struct{}

	mu         sync.Mutex
	count      int64
	loaded     bool
	horizon    int64
	recounting bool
	snapshot   int64
	pending    []delta
	threads    map[string]entity.ThreadState
	observers  []func(int64)
}

// NewCounter creates a Counter for viewerId
func NewCounter(viewerId string, source Source, opts Options) *Counter {
	if opts.RecountMinInterval == 0 {
		opts.RecountMinInterval = DefaultRecountMinInterval
	}
	if opts.ReconcileInterval == 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.Now == nil {
		opts.Now = entity.NowUnixMilli
	}
	return &Counter{
		viewerId: viewerId,
		source:   source,
		opts:     opts,
		cache:    fetchcache.New[int64](),
		visible:  make(chan struct{}, 1),
	}
}

// Kind returns the source kind
func (c *Counter) Kind() string {
	return c.source.Kind()
}

// Count returns the current count
func (c *Counter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Loaded reports whether at least one recount has completed
func (c *Counter) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// OnChange registers an observer called with the new count after each change
// and once after the first successful recount
func (c *Counter) OnChange(fn func(int64)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// FullRecount replaces the count with an authoritative recount. Non-forced
// calls inside the minimum interval of the previous recount return the
// current count without querying. On failure the previous count is kept.
func (c *Counter) FullRecount(ctx context.Context, force bool) (int64, error) {
	_, err := c.cache.GetOrFetch(ctx, c.viewerId, c.recount, fetchcache.Options{
		MinInterval: c.opts.RecountMinInterval,
		Force:       force,
		Timeout:     c.opts.FetchTimeout,
	})
	if err != nil {
		log.CtxWarn(ctx, "unread recount failed: kind=%s, viewer_id=%s, error=%v", c.source.Kind(), c.viewerId, err)
	}
	return c.Count(), err
}

func (c *Counter) recount(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.snapshot = c.opts.Now()
	c.recounting = true
	c.pending = nil
	c.mu.Unlock()

	n, err := c.source.Recount(ctx, c.viewerId)

	c.mu.Lock()
	c.recounting = false
	pending := c.pending
	c.pending = nil
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	next := entity.ClampCount(n)
	for _, d := range pending {
		if d.ts == 0 || d.ts > c.snapshot {
			next = entity.ClampCount(next + d.diff)
		}
	}
	c.horizon = c.snapshot
	// the first load is always announced, zero included
	changed := c.count != next || !c.loaded
	c.loaded = true
	c.count = next
	observers := c.observers
	c.mu.Unlock()

	if changed {
		notify(observers, next)
	}
	return next, nil
}

// apply adds diff to the count unless the change is already covered by the
// last recount
func (c *Counter) apply(ts, diff int64) {
	c.mu.Lock()
	if ts != 0 && ts <= c.horizon {
		c.mu.Unlock()
		return
	}
	if c.recounting {
		c.pending = append(c.pending, delta{ts: ts, diff: diff})
	}
	next := entity.ClampCount(c.count + diff)
	changed := next != c.count
	c.count = next
	observers := c.observers
	c.mu.Unlock()

	if changed {
		notify(observers, next)
	}
}

func notify(observers []func(int64), n int64) {
	for _, fn := range observers {
		fn(n)
	}
}

// thread returns the viewer's state for threadId. A cold cache is loaded from
// the store before answering; a warm cache is kept current by the thread feed.
func (c *Counter) thread(ctx context.Context, threadId string) (entity.ThreadState, bool, error) {
	c.mu.Lock()
	if c.threads != nil {
		st, ok := c.threads[threadId]
		c.mu.Unlock()
		return st, ok, nil
	}
	c.mu.Unlock()

	states, err := c.source.ThreadStates(ctx, c.viewerId)
	if err != nil {
		return entity.ThreadState{}, false, err
	}
	threads := make(map[string]entity.ThreadState, len(states))
	for _, st := range states {
		threads[st.ThreadId] = st
	}

	c.mu.Lock()
	c.threads = threads
	c.mu.Unlock()

	st, ok := threads[threadId]
	return st, ok, nil
}

func (c *Counter) setThread(st entity.ThreadState) {
	c.mu.Lock()
	if c.threads != nil {
		c.threads[st.ThreadId] = st
	}
	c.mu.Unlock()
}

// knownThread reports whether threadId may belong to the viewer. A cold cache
// admits every thread and leaves the decision to the handlers.
func (c *Counter) knownThread(threadId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.threads == nil {
		return true
	}
	_, ok := c.threads[threadId]
	return ok
}

// InvalidateThreads drops the cached thread states
func (c *Counter) InvalidateThreads() {
	c.mu.Lock()
	c.threads = nil
	c.mu.Unlock()
}

// counted reports whether ref is part of the viewer's unread set given its thread
func (c *Counter) counted(ref entity.MessageRef, st entity.ThreadState) bool {
	return ref.SenderId != c.viewerId && !ref.IsRead && !st.Deleted && ref.CreatedAt > st.ClearedAt
}

// OnInsert counts a new message from someone else in a thread of the viewer.
// A message landing in a thread the viewer deleted revives that thread first.
func (c *Counter) OnInsert(ctx context.Context, ev changefeed.Event) {
	ref, err := c.source.Attribute(ev.New)
	if err != nil {
		log.CtxWarn(ctx, "unread insert not attributable: kind=%s, error=%v", c.source.Kind(), err)
		return
	}
	if ref.SenderId == c.viewerId || ref.IsRead {
		return
	}

	st, ok, err := c.thread(ctx, ref.ThreadId)
	if err != nil {
		log.CtxWarn(ctx, "unread thread lookup failed: kind=%s, thread_id=%s, error=%v", c.source.Kind(), ref.ThreadId, err)
		return
	}
	if !ok {
		return
	}

	if st.Deleted {
		if err := c.source.Revive(ctx, c.viewerId, ref.ThreadId); err != nil {
			log.CtxError(ctx, "unread revive thread failed: kind=%s, thread_id=%s, error=%v", c.source.Kind(), ref.ThreadId, err)
			return
		}
		st.Deleted = false
		c.setThread(st)
		log.CtxDebug(ctx, "unread revived thread: kind=%s, viewer_id=%s, thread_id=%s", c.source.Kind(), c.viewerId, ref.ThreadId)
	}

	if !c.counted(ref, st) {
		return
	}
	c.apply(ev.CommitTimestamp, 1)
}

// OnUpdate decrements when a counted message transitions to read
func (c *Counter) OnUpdate(ctx context.Context, ev changefeed.Event) {
	if len(ev.Old) == 0 {
		return
	}
	before, err := c.source.Attribute(ev.Old)
	if err != nil {
		log.CtxWarn(ctx, "unread update not attributable: kind=%s, error=%v", c.source.Kind(), err)
		return
	}
	after, err := c.source.Attribute(ev.New)
	if err != nil {
		log.CtxWarn(ctx, "unread update not attributable: kind=%s, error=%v", c.source.Kind(), err)
		return
	}
	if before.IsRead || !after.IsRead {
		return
	}
	c.decrement(ctx, before, ev.CommitTimestamp)
}

// OnDelete decrements when a counted message is removed
func (c *Counter) OnDelete(ctx context.Context, ev changefeed.Event) {
	ref, err := c.source.Attribute(ev.Old)
	if err != nil {
		log.CtxWarn(ctx, "unread delete not attributable: kind=%s, error=%v", c.source.Kind(), err)
		return
	}
	c.decrement(ctx, ref, ev.CommitTimestamp)
}

func (c *Counter) decrement(ctx context.Context, ref entity.MessageRef, ts int64) {
	if ref.SenderId == c.viewerId || ref.IsRead {
		return
	}
	st, ok, err := c.thread(ctx, ref.ThreadId)
	if err != nil {
		log.CtxWarn(ctx, "unread thread lookup failed: kind=%s, thread_id=%s, error=%v", c.source.Kind(), ref.ThreadId, err)
		return
	}
	if !ok || !c.counted(ref, st) {
		return
	}
	c.apply(ts, -1)
}

// OnThreadChanged reacts to a watermark or deleted-flag change on one of the
// viewer's threads by dropping the thread cache and recounting.
func (c *Counter) OnThreadChanged(ctx context.Context) {
	c.InvalidateThreads()
	if _, err := c.FullRecount(ctx, true); err != nil {
		log.CtxDebug(ctx, "unread recount after thread change failed: %v", err)
	}
}

// Attach subscribes the counter to the message and thread feeds. Counters of
// every viewer share one channel per table and differ only by filter. The
// returned function releases every subscription.
func (c *Counter) Attach(ctx context.Context, feed *changefeed.Feed) (changefeed.Unsubscribe, error) {
	handle := func(fn func(context.Context, changefeed.Event)) func(changefeed.Event) {
		return func(ev changefeed.Event) {
			evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
			defer cancel()
			fn(evCtx, ev)
		}
	}

	var unsubs []changefeed.Unsubscribe
	release := func() {
		for _, u := range unsubs {
			u()
		}
	}

	mf := c.source.MessageFilter(c.viewerId)
	if mf.Column != "" && mf.Value == "" {
		mf.Accept = c.knownThread
	}
	unsub, err := feed.Subscribe(ctx, changefeed.TableKey(mf.Table), mf, changefeed.Handlers{
		OnInsert: handle(c.OnInsert),
		OnUpdate: handle(c.OnUpdate),
		OnDelete: handle(c.OnDelete),
	})
	if err != nil {
		return nil, err
	}
	unsubs = append(unsubs, unsub)

	onThread := handle(func(ctx context.Context, _ changefeed.Event) { c.OnThreadChanged(ctx) })
	for _, f := range c.source.ThreadFilters(c.viewerId) {
		unsub, err := feed.Subscribe(ctx, changefeed.TableKey(f.Table), f, changefeed.Handlers{
			OnInsert: onThread,
			OnUpdate: onThread,
			OnDelete: onThread,
		})
		if err != nil {
			release()
			return nil, err
		}
		unsubs = append(unsubs, unsub)
	}

	return release, nil
}

// Visible requests a reconciliation, typically when the client tab becomes visible
func (c *Counter) Visible() {
	select {
	case c.visible <- struct{}{}:
	default:
	}
}

// Run reconciles the counter on a fixed interval and on Visible until ctx is done
func (c *Counter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.visible:
		}
		_, _ = c.FullRecount(ctx, false)
	}
}
