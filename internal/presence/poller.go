package presence

import (
	"context"
	"sync"
	"time"

	"github.com/chatsev/realtime/internal/entity"
	"github.com/chatsev/realtime/pkg/fetchcache"
	"github.com/mbeoliero/kit/log"
)

const (
	DefaultPollInterval = 60 * time.Second
	roomsCacheKey       = "rooms"
)

// Room is one polled presence source
type Room struct {
	Key    string
	Table  string
	RoomId string
	Cutoff time.Duration
}

// RoomCounter counts active rows of a presence table
type RoomCounter interface {
	CountActive(ctx context.Context, table, roomId string, sinceMilli int64) (int64, error)
}

// RoomPoller shares one set of room counts across all callers
type RoomPoller struct {
	counter RoomCounter
	cache   *fetchcache.Cache[map[string]int64]
	now     func() time.Time

	mu       sync.RWMutex
	rooms    []Room
	interval time.Duration
	subs     map[int]func(map[string]int64)
	nextSub  int
	reset    chan struct{}
}

// NewRoomPoller creates a RoomPoller; a zero interval uses DefaultPollInterval
func NewRoomPoller(counter RoomCounter, rooms []Room, interval time.Duration) *RoomPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &RoomPoller{
		counter:  counter,
		cache:    fetchcache.New[map[string]int64](),
		now:      time.Now,
		rooms:    rooms,
		interval: interval,
		subs:     make(map[int]func(map[string]int64)),
		reset:    make(chan struct{}, 1),
	}
}

// Interval returns the poll interval
func (p *RoomPoller) Interval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.interval
}

// Reconfigure replaces the rooms and interval and drops cached counts
func (p *RoomPoller) Reconfigure(rooms []Room, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.mu.Lock()
	p.rooms = rooms
	p.interval = interval
	p.mu.Unlock()

	p.cache.Invalidate(roomsCacheKey)
	select {
	case p.reset <- struct{}{}:
	default:
	}
}

// Counts returns active counts per room key. Fresh counts are served from
// the cache and concurrent stale reads share one fetch.
func (p *RoomPoller) Counts(ctx context.Context) (map[string]int64, error) {
	counts, err := p.cache.GetOrFetch(ctx, roomsCacheKey, p.fetch, fetchcache.Options{TTL: p.Interval()})
	if err != nil {
		return nil, err
	}
	return copyCounts(counts), nil
}

// Refresh fetches counts regardless of freshness
func (p *RoomPoller) Refresh(ctx context.Context) (map[string]int64, error) {
	counts, err := p.cache.GetOrFetch(ctx, roomsCacheKey, p.fetch, fetchcache.Options{Force: true})
	if err != nil {
		return nil, err
	}
	return copyCounts(counts), nil
}

// fetch counts every room in parallel. A failing room reports 0 without
// affecting the others.
func (p *RoomPoller) fetch(ctx context.Context) (map[string]int64, error) {
	p.mu.RLock()
	rooms := make([]Room, len(p.rooms))
	copy(rooms, p.rooms)
	p.mu.RUnlock()

	now := p.now()
	counts := make(map[string]int64, len(rooms))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, room := range rooms {
		wg.Add(1)
		go func(room Room) {
			defer wg.Done()
			since := now.Add(-room.Cutoff).UnixMilli()
			n, err := p.counter.CountActive(ctx, room.Table, room.RoomId, since)
			if err != nil {
				log.CtxWarn(ctx, "room presence count failed: room=%s, error=%v", room.Key, err)
				n = 0
			}
			mu.Lock()
			counts[room.Key] = entity.ClampCount(n)
			mu.Unlock()
		}(room)
	}
	wg.Wait()
	return counts, nil
}

// Subscribe registers fn for every published poll. Counts still fresh in
// the cache are delivered immediately.
func (p *RoomPoller) Subscribe(fn func(map[string]int64)) (cancel func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	interval := p.interval
	p.mu.Unlock()

	if counts, age, ok := p.cache.Peek(roomsCacheKey); ok && age < interval {
		fn(copyCounts(counts))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Run polls on the configured interval and publishes to subscribers until
// ctx is done
func (p *RoomPoller) Run(ctx context.Context) {
	for {
		counts, err := p.Refresh(ctx)
		if err != nil {
			log.CtxWarn(ctx, "room presence poll failed: %v", err)
		} else {
			p.publish(counts)
		}

		timer := time.NewTimer(p.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.reset:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *RoomPoller) publish(counts map[string]int64) {
	p.mu.RLock()
	subs := make([]func(map[string]int64), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()

	for _, fn := range subs {
		fn(copyCounts(counts))
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
