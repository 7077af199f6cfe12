package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatsev/realtime/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfiles struct {
	mu         sync.Mutex
	profiles   map[string]*entity.Profile
	err        error
	batchCalls int
}

func (f *fakeProfiles) GetById(ctx context.Context, id string) (*entity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) GetInvisibleFlags(ctx context.Context, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	flags := make(map[string]bool)
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			flags[id] = p.IsInvisible
		}
	}
	return flags, nil
}

func (f *fakeProfiles) TouchOnline(ctx context.Context, id string, visibleUntil, lastSeen int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		p = &entity.Profile{Id: id}
		f.profiles[id] = p
	}
	p.OnlineVisibleUntil = visibleUntil
	p.LastSeen = lastSeen
	return nil
}

const now = int64(1_700_000_000_000)

func newFixture() (*fakeProfiles, *Resolver) {
	store := &fakeProfiles{profiles: map[string]*entity.Profile{
		"alice": {Id: "alice", OnlineVisibleUntil: now + 60_000, LastSeen: now - 1_000},
		"bob":   {Id: "bob", OnlineVisibleUntil: now + 60_000, LastSeen: now - 2_000, IsInvisible: true},
		"carol": {Id: "carol", OnlineVisibleUntil: now - 1, LastSeen: now - 3_000},
		"dave":  {Id: "dave"},
	}}
	return store, NewResolver(store).WithClock(func() int64 { return now })
}

func TestResolve_Visible(t *testing.T) {
	_, r := newFixture()

	st, err := r.Resolve(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, now-1_000, *st.LastSeen)
	assert.Nil(t, st.IsInvisible, "the flag is only shown to the user themself")

	st, err = r.Resolve(context.Background(), "carol", "alice")
	require.NoError(t, err)
	assert.False(t, st.IsOnline, "window closed")
	require.NotNil(t, st.LastSeen)

	st, err = r.Resolve(context.Background(), "dave", "alice")
	require.NoError(t, err)
	assert.False(t, st.IsOnline)
	assert.Nil(t, st.LastSeen)
}

func TestResolve_InvisibleOverridesForOthers(t *testing.T) {
	_, r := newFixture()

	for _, viewer := range []string{"alice", "carol", "", "stranger"} {
		st, err := r.Resolve(context.Background(), "bob", viewer)
		require.NoError(t, err)
		assert.Equal(t, Offline, st, "viewer %q", viewer)
	}
}

func TestResolve_SelfSeesRealValues(t *testing.T) {
	_, r := newFixture()

	st, err := r.Resolve(context.Background(), "bob", "bob")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, now-2_000, *st.LastSeen)
	require.NotNil(t, st.IsInvisible)
	assert.True(t, *st.IsInvisible)
}

func TestResolve_StoreErrorIsOffline(t *testing.T) {
	store, r := newFixture()
	store.err = errors.New("rls denied")

	st, err := r.Resolve(context.Background(), "alice", "bob")
	require.Error(t, err)
	assert.Equal(t, Offline, st)

	_, err = r.Resolve(context.Background(), "missing", "bob")
	require.Error(t, err)
}

func TestFilterVisibleOnlineUsers(t *testing.T) {
	store, r := newFixture()

	ids, err := r.FilterVisibleOnlineUsers(context.Background(), []string{"alice", "bob", "carol", "unknown"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol", "unknown"}, ids)
	assert.Equal(t, 1, store.batchCalls)

	ids, err = r.FilterVisibleOnlineUsers(context.Background(), []string{"alice", "bob"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids, "the viewer keeps their own id")

	ids, err = r.FilterVisibleOnlineUsers(context.Background(), nil, "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 2, store.batchCalls)

	store.err = errors.New("timeout")
	ids, err = r.FilterVisibleOnlineUsers(context.Background(), []string{"alice", "bob"}, "carol")
	require.Error(t, err)
	assert.Empty(t, ids)
}

func TestHeartbeat(t *testing.T) {
	store, r := newFixture()

	require.NoError(t, r.Heartbeat(context.Background(), "dave", 2*time.Minute))
	assert.Equal(t, now+120_000, store.profiles["dave"].OnlineVisibleUntil)
	assert.Equal(t, now, store.profiles["dave"].LastSeen)

	st, err := r.Resolve(context.Background(), "dave", "alice")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
}
