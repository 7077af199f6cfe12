package unread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/chatsev/realtime/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewer = "u1"

type fakeStore struct {
	mu         sync.Mutex
	count      int64
	countErr   error
	countCalls int
	stateCalls int
	states     []entity.ThreadState
	revived    []string
	gate       chan struct{}
	started    chan struct{}
}

func (s *fakeStore) CountUnread(ctx context.Context, viewerId string) (int64, error) {
	s.mu.Lock()
	s.countCalls++
	gate, started := s.gate, s.started
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.countErr
}

func (s *fakeStore) ListThreadStates(ctx context.Context, viewerId string) ([]entity.ThreadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateCalls++
	out := make([]entity.ThreadState, len(s.states))
	copy(out, s.states)
	return out, nil
}

func (s *fakeStore) Revive(ctx context.Context, viewerId, threadId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revived = append(s.revived, threadId)
	for i := range s.states {
		if s.states[i].ThreadId == threadId {
			s.states[i].Deleted = false
		}
	}
	return nil
}

func (s *fakeStore) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countCalls, s.stateCalls
}

func newTestCounter(store *fakeStore) *Counter {
	return NewCounter(viewer, NewDirectSource(store), Options{
		Now: func() int64 { return 1000 },
	})
}

func row(id, conv, sender string, read bool, createdAt int64) map[string]any {
	return map[string]any{
		"id":              id,
		"conversation_id": conv,
		"sender_id":       sender,
		"recipient_id":    viewer,
		"is_read":         read,
		"created_at":      float64(createdAt),
	}
}

func insert(r map[string]any, ts int64) changefeed.Event {
	return changefeed.Event{Type: changefeed.EventInsert, Table: "messages", New: r, CommitTimestamp: ts}
}

func markRead(r map[string]any, ts int64) changefeed.Event {
	after := make(map[string]any, len(r))
	for k, v := range r {
		after[k] = v
	}
	after["is_read"] = true
	return changefeed.Event{Type: changefeed.EventUpdate, Table: "messages", New: after, Old: r, CommitTimestamp: ts}
}

func remove(r map[string]any, ts int64) changefeed.Event {
	return changefeed.Event{Type: changefeed.EventDelete, Table: "messages", Old: r, CommitTimestamp: ts}
}

func TestCounter_ReadThenDeleteSequence(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{count: 3, states: []entity.ThreadState{{ThreadId: "c1"}}}
	c := newTestCounter(store)

	n, err := c.FullRecount(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	m1 := row("m1", "c1", "u2", false, 500)
	m2 := row("m2", "c1", "u2", false, 600)

	c.OnUpdate(ctx, markRead(m1, 2000))
	assert.Equal(t, int64(2), c.Count())

	c.OnDelete(ctx, remove(m2, 2001))
	assert.Equal(t, int64(1), c.Count())
}

func TestCounter_NeverNegative(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{states: []entity.ThreadState{{ThreadId: "c1"}}}
	c := newTestCounter(store)

	var seen []int64
	var mu sync.Mutex
	c.OnChange(func(n int64) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	c.OnInsert(ctx, insert(row("m1", "c1", "u2", false, 10), 0))
	for i := 0; i < 5; i++ {
		c.OnDelete(ctx, remove(row("m1", "c1", "u2", false, 10), 0))
		c.OnUpdate(ctx, markRead(row("m2", "c1", "u2", false, 10), 0))
	}

	assert.Equal(t, int64(0), c.Count())
	mu.Lock()
	defer mu.Unlock()
	for _, n := range seen {
		assert.GreaterOrEqual(t, n, int64(0))
	}
}

func TestCounter_IgnoresOwnReadAndClearedMessages(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{states: []entity.ThreadState{{ThreadId: "c1", ClearedAt: 100}}}
	c := newTestCounter(store)

	c.OnInsert(ctx, insert(row("m1", "c1", viewer, false, 200), 0))
	c.OnInsert(ctx, insert(row("m2", "c1", "u2", true, 200), 0))
	c.OnInsert(ctx, insert(row("m3", "c1", "u2", false, 100), 0))
	c.OnInsert(ctx, insert(row("m4", "c9", "u2", false, 200), 0))
	assert.Equal(t, int64(0), c.Count())

	c.OnInsert(ctx, insert(row("m5", "c1", "u2", false, 101), 0))
	assert.Equal(t, int64(1), c.Count())
}

func TestCounter_ColdThreadCacheLoadsOnce(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{states: []entity.ThreadState{{ThreadId: "c1"}}}
	c := newTestCounter(store)

	c.OnInsert(ctx, insert(row("m1", "c1", "u2", false, 10), 0))
	c.OnInsert(ctx, insert(row("m2", "c1", "u2", false, 11), 0))
	c.OnInsert(ctx, insert(row("m3", "c2", "u2", false, 12), 0))

	assert.Equal(t, int64(2), c.Count())
	_, stateCalls := store.calls()
	assert.Equal(t, 1, stateCalls)

	c.InvalidateThreads()
	c.OnInsert(ctx, insert(row("m4", "c1", "u2", false, 13), 0))
	_, stateCalls = store.calls()
	assert.Equal(t, 2, stateCalls)
}

func TestCounter_InsertRevivesDeletedThread(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{states: []entity.ThreadState{{ThreadId: "c1", Deleted: true}}}
	c := newTestCounter(store)

	c.OnInsert(ctx, insert(row("m1", "c1", "u2", false, 10), 0))
	c.OnInsert(ctx, insert(row("m2", "c1", "u2", false, 11), 0))

	assert.Equal(t, int64(2), c.Count())
	assert.Equal(t, []string{"c1"}, store.revived)

	// own message into a deleted thread does not revive it
	store2 := &fakeStore{states: []entity.ThreadState{{ThreadId: "c1", Deleted: true}}}
	c2 := newTestCounter(store2)
	c2.OnInsert(ctx, insert(row("m1", "c1", viewer, false, 10), 0))
	assert.Empty(t, store2.revived)
}

func TestCounter_DeletedThreadMessagesNotDecremented(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{count: 2, states: []entity.ThreadState{{ThreadId: "c1"}, {ThreadId: "c2", Deleted: true}}}
	c := newTestCounter(store)
	_, err := c.FullRecount(ctx, false)
	require.NoError(t, err)

	c.OnUpdate(ctx, markRead(row("m1", "c2", "u2", false, 10), 2000))
	assert.Equal(t, int64(2), c.Count())
}

func TestCounter_RecountTieBreak(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{
		count:   5,
		states:  []entity.ThreadState{{ThreadId: "c1"}},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := newTestCounter(store)

	done := make(chan int64)
	go func() {
		n, _ := c.FullRecount(ctx, true)
		done <- n
	}()
	<-store.started

	// committed after the snapshot stamp: missing from the recount, replayed
	c.OnInsert(ctx, insert(row("m1", "c1", "u2", false, 10), 1500))
	// committed before the snapshot stamp: already in the recount
	c.OnInsert(ctx, insert(row("m2", "c1", "u2", false, 10), 900))
	assert.Equal(t, int64(2), c.Count())

	close(store.gate)
	assert.Equal(t, int64(6), <-done)

	// late delivery of a change covered by the recount is dropped
	c.OnInsert(ctx, insert(row("m3", "c1", "u2", false, 10), 800))
	assert.Equal(t, int64(6), c.Count())

	c.OnInsert(ctx, insert(row("m4", "c1", "u2", false, 10), 1200))
	assert.Equal(t, int64(7), c.Count())
}

func TestCounter_FirstRecountNotifiesZero(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c := NewCounter(viewer, NewDirectSource(store), Options{RecountMinInterval: time.Nanosecond})

	var seen []int64
	c.OnChange(func(n int64) { seen = append(seen, n) })

	_, err := c.FullRecount(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, seen)

	_, err = c.FullRecount(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, seen, "an unchanged reload stays silent")
}

func TestCounter_RecountDebounceAndFailure(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{count: 3}
	c := newTestCounter(store)

	_, err := c.FullRecount(ctx, false)
	require.NoError(t, err)
	_, err = c.FullRecount(ctx, false)
	require.NoError(t, err)
	countCalls, _ := store.calls()
	assert.Equal(t, 1, countCalls, "second call inside the minimum interval is debounced")

	store.mu.Lock()
	store.countErr = errors.New("permission denied")
	store.mu.Unlock()

	n, err := c.FullRecount(ctx, true)
	require.Error(t, err)
	assert.Equal(t, int64(3), n, "failed recount keeps the previous value")
	assert.True(t, c.Loaded())
}

func TestCounter_AttachAndEventualConsistency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := changefeed.NewMemoryTransport()
	feed := changefeed.NewFeed(tr)
	store := &fakeStore{count: 1, states: []entity.ThreadState{{ThreadId: "c1"}}}
	c := newTestCounter(store)

	_, err := c.FullRecount(ctx, false)
	require.NoError(t, err)

	release, err := c.Attach(ctx, feed)
	require.NoError(t, err)

	require.NoError(t, tr.PublishEvent(ctx, insert(row("m1", "c1", "u2", false, 10), 2000)))
	assert.Equal(t, int64(2), c.Count())

	// rows addressed to another viewer are filtered out by the feed
	other := row("m2", "c1", "u2", false, 10)
	other["recipient_id"] = "u3"
	require.NoError(t, tr.PublishEvent(ctx, insert(other, 2001)))
	assert.Equal(t, int64(2), c.Count())

	// a dropped event leaves the count stale until the next reconciliation
	store.mu.Lock()
	store.count = 3
	store.mu.Unlock()

	require.NoError(t, tr.PublishEvent(ctx, changefeed.Event{
		Type:  changefeed.EventUpdate,
		Table: "conversations",
		New:   map[string]any{"id": "c1", "user1_id": viewer, "user2_id": "u2"},
	}))
	assert.Equal(t, int64(3), c.Count())

	release()
	assert.Equal(t, 0, feed.Refs(changefeed.TableKey("messages")))
	require.Eventually(t, func() bool {
		return tr.Subscribers("messages")+tr.Subscribers("conversations") == 0
	}, time.Second, time.Millisecond)
}

func TestCounter_ViewersShareTableChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := changefeed.NewMemoryTransport()
	feed := changefeed.NewFeed(tr)
	opts := Options{Now: func() int64 { return 1000 }}

	viewers := []string{"u1", "u2", "u3", "u4", "u5"}
	direct := make(map[string]*Counter)
	messenger := make(map[string]*Counter)
	var releases []changefeed.Unsubscribe
	for _, v := range viewers {
		direct[v] = NewCounter(v, NewDirectSource(&fakeStore{states: []entity.ThreadState{{ThreadId: "c-" + v}}}), opts)
		messenger[v] = NewCounter(v, NewMessengerSource(&fakeStore{states: []entity.ThreadState{{ThreadId: "g-" + v}}}), opts)
		for _, c := range []*Counter{direct[v], messenger[v]} {
			release, err := c.Attach(ctx, feed)
			require.NoError(t, err)
			releases = append(releases, release)
		}
	}

	for _, table := range []string{"messages", "conversations", "messenger_messages", "messenger_participants"} {
		assert.Equal(t, 1, tr.Subscribers(table), table)
	}
	assert.Equal(t, len(viewers), feed.Refs(changefeed.TableKey("messages")))
	assert.Equal(t, 2*len(viewers), feed.Refs(changefeed.TableKey("conversations")))

	// a direct message reaches its recipient only
	msg := row("m1", "c-u3", "u9", false, 10)
	msg["recipient_id"] = "u3"
	require.NoError(t, tr.PublishEvent(ctx, insert(msg, 2000)))
	for _, v := range viewers {
		want := int64(0)
		if v == "u3" {
			want = 1
		}
		assert.Equal(t, want, direct[v].Count(), v)
	}

	groupMessage := func(id, conv string, ts int64) changefeed.Event {
		return changefeed.Event{
			Type:            changefeed.EventInsert,
			Table:           "messenger_messages",
			New:             map[string]any{"id": id, "conversation_id": conv, "sender_id": "u9", "is_read": false, "created_at": float64(10)},
			CommitTimestamp: ts,
		}
	}

	// cold caches admit the first message and load; afterwards unknown threads are filtered
	assert.True(t, messenger["u1"].knownThread("g-u2"))
	require.NoError(t, tr.PublishEvent(ctx, groupMessage("g1", "g-u1", 2001)))
	assert.Equal(t, int64(1), messenger["u1"].Count())
	assert.True(t, messenger["u1"].knownThread("g-u1"))
	assert.False(t, messenger["u1"].knownThread("g-u2"))

	require.NoError(t, tr.PublishEvent(ctx, groupMessage("g2", "g-u2", 2002)))
	assert.Equal(t, int64(1), messenger["u1"].Count())
	assert.Equal(t, int64(1), messenger["u2"].Count())

	for _, release := range releases {
		release()
	}
	require.Eventually(t, func() bool {
		return tr.Subscribers("messages")+tr.Subscribers("conversations")+
			tr.Subscribers("messenger_messages")+tr.Subscribers("messenger_participants") == 0
	}, time.Second, time.Millisecond)
}

func TestCounter_RunReconcilesOnVisible(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &fakeStore{count: 4}
	c := NewCounter(viewer, NewDirectSource(store), Options{ReconcileInterval: time.Hour, RecountMinInterval: time.Millisecond})
	go c.Run(ctx)

	c.Visible()
	require.Eventually(t, func() bool { return c.Count() == 4 }, time.Second, time.Millisecond)

	store.mu.Lock()
	store.count = 2
	store.mu.Unlock()
	time.Sleep(5 * time.Millisecond)

	c.Visible()
	require.Eventually(t, func() bool { return c.Count() == 2 }, time.Second, time.Millisecond)
}
