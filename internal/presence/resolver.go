// Package presence resolves online status under the invisibility rules and
// batch-polls active counts of presence rooms.
package presence

import (
	"context"
	"time"

	"github.com/chatsev/realtime/internal/entity"
	"github.com/mbeoliero/kit/log"
)

// Status is the presence of a target as seen by a viewer. LastSeen is nil
// when unknown or hidden. IsInvisible is only set for the target themself.
type Status struct {
	IsOnline    bool   `json:"is_online"`
	LastSeen    *int64 `json:"last_seen"`
	IsInvisible *bool  `json:"is_invisible,omitempty"`
}

// Offline is the status reported when nothing may be revealed
var Offline = Status{}

// ProfileStore is the profile query surface
type ProfileStore interface {
	GetById(ctx context.Context, id string) (*entity.Profile, error)
	GetInvisibleFlags(ctx context.Context, ids []string) (map[string]bool, error)
	TouchOnline(ctx context.Context, id string, visibleUntil, lastSeen int64) error
}

// Resolver applies the visibility rules to stored profiles
type Resolver struct {
	store ProfileStore
	now   func() int64
}

// NewResolver creates a Resolver
func NewResolver(store ProfileStore) *Resolver {
	return &Resolver{store: store, now: entity.NowUnixMilli}
}

// WithClock replaces the unix-millis time source
func (r *Resolver) WithClock(now func() int64) *Resolver {
	r.now = now
	return r
}

// Resolve returns the presence of target as seen by viewer. An invisible
// target looks offline with no last seen to everyone but themself. On store
// errors the status is Offline and the error is returned for logging.
func (r *Resolver) Resolve(ctx context.Context, targetId, viewerId string) (Status, error) {
	p, err := r.store.GetById(ctx, targetId)
	if err != nil {
		log.CtxError(ctx, "presence lookup failed: target_id=%s, error=%v", targetId, err)
		return Offline, err
	}
	if p == nil {
		return Offline, nil
	}

	if targetId == viewerId {
		invisible := p.IsInvisible
		return Status{
			IsOnline:    p.IsOnlineAt(r.now()),
			LastSeen:    lastSeen(p),
			IsInvisible: &invisible,
		}, nil
	}

	if p.IsInvisible {
		return Offline, nil
	}

	return Status{
		IsOnline: p.IsOnlineAt(r.now()),
		LastSeen: lastSeen(p),
	}, nil
}

func lastSeen(p *entity.Profile) *int64 {
	if p.LastSeen == 0 {
		return nil
	}
	v := p.LastSeen
	return &v
}

// FilterVisibleOnlineUsers removes invisible users from ids, keeping the
// viewer's own id. Flags are loaded in a single query. On error nothing is
// returned so that no invisible user leaks.
func (r *Resolver) FilterVisibleOnlineUsers(ctx context.Context, ids []string, viewerId string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	flags, err := r.store.GetInvisibleFlags(ctx, ids)
	if err != nil {
		log.CtxError(ctx, "presence invisibility lookup failed: count=%d, error=%v", len(ids), err)
		return []string{}, err
	}

	visible := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != viewerId && flags[id] {
			continue
		}
		visible = append(visible, id)
	}
	return visible, nil
}

// Heartbeat marks userId online for window and records last seen
func (r *Resolver) Heartbeat(ctx context.Context, userId string, window time.Duration) error {
	now := r.now()
	if err := r.store.TouchOnline(ctx, userId, now+window.Milliseconds(), now); err != nil {
		log.CtxWarn(ctx, "presence heartbeat failed: user_id=%s, error=%v", userId, err)
		return err
	}
	return nil
}
