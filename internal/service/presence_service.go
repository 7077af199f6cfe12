package service

import (
	"context"
	"sync"
	"time"

	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/internal/presence"
	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/mbeoliero/kit/log"
)

// MaxFilterUserIds bounds one FilterOnline request
const MaxFilterUserIds = 500

// PresenceService handles presence queries, heartbeats and room counts
type PresenceService struct {
	resolver *presence.Resolver
	poller   *presence.RoomPoller

	mu     sync.RWMutex
	window time.Duration
}

// NewPresenceService creates a new PresenceService
func NewPresenceService(store presence.ProfileStore, rooms presence.RoomCounter, cfg config.PresenceConfig) *PresenceService {
	return &PresenceService{
		resolver: presence.NewResolver(store),
		poller:   presence.NewRoomPoller(rooms, RoomsFromConfig(cfg.Rooms), cfg.RoomPollInterval),
		window:   cfg.HeartbeatWindow,
	}
}

// RoomsFromConfig converts configured rooms
func RoomsFromConfig(rooms []config.RoomConfig) []presence.Room {
	out := make([]presence.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, presence.Room{Key: r.Key, Table: r.Table, RoomId: r.RoomId, Cutoff: r.Cutoff})
	}
	return out
}

// Reconfigure applies new room and heartbeat settings
func (s *PresenceService) Reconfigure(cfg config.PresenceConfig) {
	s.mu.Lock()
	s.window = cfg.HeartbeatWindow
	s.mu.Unlock()
	s.poller.Reconfigure(RoomsFromConfig(cfg.Rooms), cfg.RoomPollInterval)
}

// Run polls room counts until ctx is done
func (s *PresenceService) Run(ctx context.Context) {
	s.poller.Run(ctx)
}

// Resolve returns target's presence as seen by viewer. Store failures are
// reported as offline.
func (s *PresenceService) Resolve(ctx context.Context, targetId, viewerId string) presence.Status {
	st, err := s.resolver.Resolve(ctx, targetId, viewerId)
	if err != nil {
		return presence.Offline
	}
	return st
}

// FilterOnline removes invisible users except the viewer
func (s *PresenceService) FilterOnline(ctx context.Context, userIds []string, viewerId string) ([]string, error) {
	if len(userIds) > MaxFilterUserIds {
		return nil, errcode.ErrTooManyUserIds
	}
	ids, err := s.resolver.FilterVisibleOnlineUsers(ctx, userIds, viewerId)
	if err != nil {
		return nil, errcode.ErrPresenceUnavailable.Wrap(err)
	}
	return ids, nil
}

// Heartbeat keeps userId online for the configured window
func (s *PresenceService) Heartbeat(ctx context.Context, userId string) error {
	s.mu.RLock()
	window := s.window
	s.mu.RUnlock()

	if err := s.resolver.Heartbeat(ctx, userId, window); err != nil {
		return errcode.ErrPresenceUnavailable.Wrap(err)
	}
	return nil
}

// RoomCounts returns the shared active counts per room
func (s *PresenceService) RoomCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := s.poller.Counts(ctx)
	if err != nil {
		log.CtxWarn(ctx, "room counts failed: error=%v", err)
		return nil, errcode.ErrRoomCountFailed.Wrap(err)
	}
	return counts, nil
}

// SubscribeRooms registers fn for every room poll
func (s *PresenceService) SubscribeRooms(fn func(map[string]int64)) func() {
	return s.poller.Subscribe(fn)
}
