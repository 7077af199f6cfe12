package constant

// Unread counter kinds
const (
	UnreadKindDirect    = "direct"
	UnreadKindMessenger = "messenger"
)

// Online status
const (
	StatusOffline = 0
	StatusOnline  = 1
)

// Platform Ids
const (
	PlatformIdUnknown = 0
	PlatformIdIOS     = 1
	PlatformIdAndroid = 2
	PlatformIdWindows = 3
	PlatformIdMacOS   = 4
	PlatformIdWeb     = 5
)

// PlatformIdToName converts platform Id to name
func PlatformIdToName(platformId int) string {
	switch platformId {
	case PlatformIdIOS:
		return "iOS"
	case PlatformIdAndroid:
		return "Android"
	case PlatformIdWindows:
		return "Windows"
	case PlatformIdMacOS:
		return "macOS"
	case PlatformIdWeb:
		return "Web"
	default:
		return "Unknown"
	}
}

// Media command actions pushed to clients
const (
	MediaActionPlay   = "play"
	MediaActionPause  = "pause"
	MediaActionMute   = "mute"
	MediaActionUnmute = "unmute"
	MediaActionReset  = "reset"
)

// Feed transports
const (
	FeedTransportMemory   = "memory"
	FeedTransportRedis    = "redis"
	FeedTransportPostgres = "postgres"
	FeedTransportNats     = "nats"
)

// Redis key patterns (without prefix, use the getters below for full keys)
const (
	redisKeyOnline      = "online:%s"       // online:{user_id}
	redisKeyOnlineConns = "online:conns:%s" // online:conns:{user_id}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "chatsev:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeyOnline() string      { return redisKeyPrefix + redisKeyOnline }
func RedisKeyOnlineConns() string { return redisKeyPrefix + redisKeyOnlineConns }
