package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRooms struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   map[string]bool
	calls  atomic.Int32
	delay  time.Duration
	since  map[string]int64
}

func (f *fakeRooms) CountActive(ctx context.Context, table, roomId string, sinceMilli int64) (int64, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.since != nil {
		f.since[table] = sinceMilli
	}
	if f.fail[table] {
		return 0, errors.New("relation does not exist")
	}
	return f.counts[table], nil
}

func testRooms() []Room {
	return []Room{
		{Key: "chat", Table: "chat_room_presence", Cutoff: 5 * time.Minute},
		{Key: "live", Table: "live_room_presence", Cutoff: time.Minute},
		{Key: "music", Table: "music_room_presence", Cutoff: time.Minute},
	}
}

func TestRoomPoller_CountsWithFailureIsolation(t *testing.T) {
	rooms := &fakeRooms{
		counts: map[string]int64{"chat_room_presence": 4, "live_room_presence": 9, "music_room_presence": 2},
		fail:   map[string]bool{"live_room_presence": true},
		since:  map[string]int64{},
	}
	p := NewRoomPoller(rooms, testRooms(), time.Minute)
	fixed := time.UnixMilli(10_000_000)
	p.now = func() time.Time { return fixed }

	counts, err := p.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"chat": 4, "live": 0, "music": 2}, counts)
	assert.Equal(t, fixed.Add(-5*time.Minute).UnixMilli(), rooms.since["chat_room_presence"])
	assert.Equal(t, fixed.Add(-time.Minute).UnixMilli(), rooms.since["live_room_presence"])
}

func TestRoomPoller_SharesFetch(t *testing.T) {
	rooms := &fakeRooms{counts: map[string]int64{"chat_room_presence": 1}, delay: 20 * time.Millisecond}
	p := NewRoomPoller(rooms, testRooms()[:1], time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts, err := p.Counts(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, int64(1), counts["chat"])
		}()
	}
	wg.Wait()

	_, err := p.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), rooms.calls.Load())
}

func TestRoomPoller_CallersGetCopies(t *testing.T) {
	rooms := &fakeRooms{counts: map[string]int64{"chat_room_presence": 3}}
	p := NewRoomPoller(rooms, testRooms()[:1], time.Minute)

	counts, err := p.Counts(context.Background())
	require.NoError(t, err)
	counts["chat"] = 100

	counts, err = p.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["chat"])
}

func TestRoomPoller_SubscribeAndRun(t *testing.T) {
	rooms := &fakeRooms{counts: map[string]int64{"chat_room_presence": 5}}
	p := NewRoomPoller(rooms, testRooms()[:1], time.Hour)

	got := make(chan map[string]int64, 4)
	cancelSub := p.Subscribe(func(c map[string]int64) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case c := <-got:
		assert.Equal(t, int64(5), c["chat"])
	case <-time.After(time.Second):
		t.Fatal("no poll published")
	}

	// a late subscriber receives the fresh cached counts right away
	late := make(chan map[string]int64, 1)
	cancelLate := p.Subscribe(func(c map[string]int64) { late <- c })
	defer cancelLate()
	select {
	case c := <-late:
		assert.Equal(t, int64(5), c["chat"])
	default:
		t.Fatal("fresh counts not delivered on subscribe")
	}

	cancelSub()
	cancelSub()

	rooms.mu.Lock()
	rooms.counts["live_room_presence"] = 7
	rooms.mu.Unlock()
	p.Reconfigure(testRooms()[:2], time.Hour)

	select {
	case c := <-late:
		assert.Equal(t, int64(7), c["live"])
	case <-time.After(time.Second):
		t.Fatal("reconfigure did not trigger a poll")
	}
	assert.Empty(t, got)
}
