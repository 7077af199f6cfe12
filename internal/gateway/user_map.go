package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatsev/realtime/pkg/constant"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"
)

// UserMap manages the local connections per user and mirrors online status
// to redis so other gateway instances can see it
type UserMap struct {
	mu    sync.RWMutex
	users map[string]*UserPlatform // userId -> UserPlatform
	rdb   *redis.Client
	ttl   time.Duration
}

// UserPlatform holds all connections for a user
type UserPlatform struct {
	Clients []*Client
	Time    time.Time
}

// NewUserMap creates a new UserMap; online keys expire after ttl unless refreshed
func NewUserMap(rdb *redis.Client, ttl time.Duration) *UserMap {
	return &UserMap{
		users: make(map[string]*UserPlatform),
		rdb:   rdb,
		ttl:   ttl,
	}
}

// Register registers a client
func (m *UserMap) Register(ctx context.Context, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userPlatform, exists := m.users[client.UserId]
	if !exists {
		userPlatform = &UserPlatform{
			Clients: make([]*Client, 0, 4),
		}
		m.users[client.UserId] = userPlatform
	}

	userPlatform.Clients = append(userPlatform.Clients, client)
	userPlatform.Time = time.Now()

	m.setOnline(ctx, client)
}

// Unregister removes a client and reports whether the user has no local connection left
func (m *UserMap) Unregister(ctx context.Context, client *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	userPlatform, exists := m.users[client.UserId]
	if !exists {
		return false
	}

	newClients := make([]*Client, 0, len(userPlatform.Clients))
	for _, c := range userPlatform.Clients {
		if c.ConnId != client.ConnId {
			newClients = append(newClients, c)
		}
	}
	userPlatform.Clients = newClients

	m.setOffline(ctx, client)
	if len(userPlatform.Clients) == 0 {
		delete(m.users, client.UserId)
		return true
	}
	return false
}

// Contains reports whether this exact connection is registered
func (m *UserMap) Contains(client *Client) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userPlatform, exists := m.users[client.UserId]
	if !exists {
		return false
	}
	for _, c := range userPlatform.Clients {
		if c.ConnId == client.ConnId {
			return true
		}
	}
	return false
}

// GetAll gets all clients for a user
func (m *UserMap) GetAll(userId string) ([]*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userPlatform, exists := m.users[userId]
	if !exists {
		return nil, false
	}

	clients := make([]*Client, len(userPlatform.Clients))
	copy(clients, userPlatform.Clients)
	return clients, true
}

// HasConnection checks if user has any local connection
func (m *UserMap) HasConnection(userId string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userPlatform, exists := m.users[userId]
	return exists && len(userPlatform.Clients) > 0
}

// GetOnlineUserCount returns the number of online users
func (m *UserMap) GetOnlineUserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// setOnline marks the user online and records the connection's platform
func (m *UserMap) setOnline(ctx context.Context, client *Client) {
	if m.rdb == nil {
		return
	}

	onlineKey := fmt.Sprintf(constant.RedisKeyOnline(), client.UserId)
	connsKey := fmt.Sprintf(constant.RedisKeyOnlineConns(), client.UserId)

	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, onlineKey, "1", m.ttl)
	pipe.HSet(ctx, connsKey, client.ConnId, constant.PlatformIdToName(client.PlatformId))
	pipe.Expire(ctx, connsKey, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.CtxWarn(ctx, "set online status failed: user_id=%s, error=%v", client.UserId, err)
	}
}

// setOffline drops the connection; the user goes offline once no instance holds one
func (m *UserMap) setOffline(ctx context.Context, client *Client) {
	if m.rdb == nil {
		return
	}

	onlineKey := fmt.Sprintf(constant.RedisKeyOnline(), client.UserId)
	connsKey := fmt.Sprintf(constant.RedisKeyOnlineConns(), client.UserId)

	if err := m.rdb.HDel(ctx, connsKey, client.ConnId).Err(); err != nil {
		log.CtxWarn(ctx, "clear online conn failed: user_id=%s, conn_id=%s, error=%v", client.UserId, client.ConnId, err)
		return
	}
	left, err := m.rdb.HLen(ctx, connsKey).Result()
	if err == nil && left == 0 {
		m.rdb.Del(ctx, onlineKey)
	}
}

// RefreshOnlineStatus refreshes the online status TTL
func (m *UserMap) RefreshOnlineStatus(ctx context.Context, userId string) {
	if m.rdb == nil || !m.HasConnection(userId) {
		return
	}

	pipe := m.rdb.Pipeline()
	pipe.Expire(ctx, fmt.Sprintf(constant.RedisKeyOnline(), userId), m.ttl)
	pipe.Expire(ctx, fmt.Sprintf(constant.RedisKeyOnlineConns(), userId), m.ttl)
	_, _ = pipe.Exec(ctx)
}

// GetAllOnlineUserIds returns all online user Ids (local only)
func (m *UserMap) GetAllOnlineUserIds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userIds := make([]string, 0, len(m.users))
	for userId := range m.users {
		userIds = append(userIds, userId)
	}
	return userIds
}
