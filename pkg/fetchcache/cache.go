// Package fetchcache wraps remote count/list queries with a freshness window,
// a minimum-interval guard and in-flight request de-duplication.
package fetchcache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTimeout bounds a single fetch when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned to waiters when a fetch exceeds its timeout.
var ErrTimeout = errors.New("fetchcache: fetch timed out")

// FetchFunc loads a fresh value for a key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options controls a single GetOrFetch call
type Options struct {
	// TTL is how long a cached value is served without refetching. Zero means
	// the value is never considered fresh.
	TTL time.Duration
	// MinInterval suppresses refetches started within this window of the last
	// attempt, serving the cached value instead.
	MinInterval time.Duration
	// Force bypasses TTL and MinInterval. Concurrent forced calls still share
	// one in-flight fetch.
	Force bool
	// Timeout bounds the fetch. Zero uses DefaultTimeout, negative disables it.
	Timeout time.Duration
}

type entry[T any] struct {
	value       T
	hasValue    bool
	fetchedAt   time.Time
	attemptedAt time.Time
	call        *call[T]
}

type call[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Cache is a keyed cache shared by every consumer holding the same instance.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	now     func() time.Time
	fetches int64
}

// New creates an empty Cache
func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]*entry[T]),
		now:     time.Now,
	}
}

// WithClock replaces the time source, used by tests.
func (c *Cache[T]) WithClock(now func() time.Time) *Cache[T] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// GetOrFetch returns the cached value for key when it is fresh, joins an
// in-flight fetch when one exists, and otherwise calls fetch.
//
// A failed fetch is reported to every waiter of that call. The previously
// cached value is kept and served to non-forced calls inside MinInterval.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[T], opts Options) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{}
		c.entries[key] = e
	}

	if e.call != nil {
		cl := e.call
		c.mu.Unlock()
		return wait(ctx, cl)
	}

	now := c.now()
	if !opts.Force && e.hasValue {
		if opts.TTL > 0 && now.Sub(e.fetchedAt) < opts.TTL {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		if opts.MinInterval > 0 && now.Sub(e.attemptedAt) < opts.MinInterval {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
	}

	cl := &call[T]{done: make(chan struct{})}
	e.call = cl
	e.attemptedAt = now
	c.fetches++
	c.mu.Unlock()

	go c.run(key, e, cl, fetch, opts.Timeout)

	return wait(ctx, cl)
}

// run executes fetch detached from any single caller's context so that one
// caller giving up does not fail the others.
func (c *Cache[T]) run(key string, e *entry[T], cl *call[T], fetch FetchFunc[T], timeout time.Duration) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := fetch(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.Join(ErrTimeout, err)
	}

	c.mu.Lock()
	if err == nil {
		e.value = v
		e.hasValue = true
		e.fetchedAt = c.now()
	}
	if c.entries[key] == e {
		e.call = nil
	}
	c.mu.Unlock()

	cl.value = v
	cl.err = err
	close(cl.done)
}

func wait[T any](ctx context.Context, cl *call[T]) (T, error) {
	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the cached value and its age without fetching.
func (c *Cache[T]) Peek(key string) (T, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.hasValue {
		var zero T
		return zero, 0, false
	}
	return e.value, c.now().Sub(e.fetchedAt), true
}

// Set stores a value as if it had just been fetched.
func (c *Cache[T]) Set(key string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{}
		c.entries[key] = e
	}
	e.value = v
	e.hasValue = true
	e.fetchedAt = c.now()
}

// Invalidate drops the cached value for key. An in-flight fetch is left to
// finish but its result is not stored.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Fetches returns how many fetches have been started, for metrics and tests.
func (c *Cache[T]) Fetches() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}
