package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatsev/realtime/pkg/jwt"
	"github.com/fsnotify/fsnotify"
	"github.com/mbeoliero/kit/log"
	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Unread    UnreadConfig    `mapstructure:"unread"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Media     MediaConfig     `mapstructure:"media"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort       int      `mapstructure:"http_port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// NodeId distinguishes gateway nodes in generated request ids
	NodeId uint16 `mapstructure:"node_id"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Charset      string `mapstructure:"charset"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// ConnMaxLifetime recycles pooled connections
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// SlowThreshold is the duration above which gorm logs a query as slow
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// DSN returns the MySQL data source name
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database, c.Charset)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`
	// DialTimeout bounds connection setup to redis
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWTConfig describes the access tokens accepted by the API. Issuer and
// Audience are only checked when set.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Leeway   time.Duration `mapstructure:"leeway"`
	// TokenTTL is the lifetime of tokens minted by chatsevctl
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// VerifierOptions converts the config into jwt verifier options
func (c JWTConfig) VerifierOptions() jwt.Options {
	return jwt.Options{
		Secret:   c.Secret,
		Issuer:   c.Issuer,
		Audience: c.Audience,
		Leeway:   c.Leeway,
	}
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	MaxConnNum       int64         `mapstructure:"max_conn_num"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	PushChannelSize  int           `mapstructure:"push_channel_size"`
	PushWorkerNum    int           `mapstructure:"push_worker_num"`
	WriteChannelSize int           `mapstructure:"write_channel_size"`
}

// FeedConfig selects and configures the change feed transport
type FeedConfig struct {
	Transport   string         `mapstructure:"transport"` // memory, redis, postgres, nats
	PostgresDSN string         `mapstructure:"postgres_dsn"`
	Nats        NatsFeedConfig `mapstructure:"nats"`
	BackoffBase time.Duration  `mapstructure:"backoff_base"`
	BackoffMax  time.Duration  `mapstructure:"backoff_max"`
}

// NatsFeedConfig holds NATS settings for the change feed
type NatsFeedConfig struct {
	Servers       []string      `mapstructure:"servers"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// UnreadConfig holds unread counter settings
type UnreadConfig struct {
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	RecountMinInterval time.Duration `mapstructure:"recount_min_interval"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
}

// PresenceConfig holds presence and room polling settings
type PresenceConfig struct {
	HeartbeatWindow  time.Duration `mapstructure:"heartbeat_window"`
	RoomPollInterval time.Duration `mapstructure:"room_poll_interval"`
	Rooms            []RoomConfig  `mapstructure:"rooms"`
}

// RoomConfig describes one batch-polled room presence source
type RoomConfig struct {
	Key    string        `mapstructure:"key"`
	Table  string        `mapstructure:"table"`
	RoomId string        `mapstructure:"room_id"`
	Cutoff time.Duration `mapstructure:"cutoff"`
}

// MediaConfig holds media coordinator settings
type MediaConfig struct {
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

var current atomic.Pointer[Config]

// Current returns the most recently loaded configuration, nil before Load
func Current() *Config {
	return current.Load()
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode()
	if err != nil {
		return nil, err
	}

	current.Store(cfg)
	return cfg, nil
}

var watchOnce sync.Once

// Watch reloads the configuration whenever the file changes and hands the new
// value to onChange. Only tunables read per use (intervals, rooms) take effect
// without a restart.
func Watch(onChange func(*Config)) {
	watchOnce.Do(func() {
		viper.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			reload(e.Name, onChange)
		})
		viper.WatchConfig()
	})
}

// reload decodes the configuration viper holds and publishes it
func reload(name string, onChange func(*Config)) {
	cfg, err := decode()
	if err != nil {
		log.Warn("config reload failed: file=%s, error=%v", name, err)
		return
	}
	current.Store(cfg)
	log.Info("config reloaded from %s", name)
	onChange(cfg)
}

func decode() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Server.NodeId == 0 {
		cfg.Server.NodeId = 1
	}
	if cfg.MySQL.Charset == "" {
		cfg.MySQL.Charset = "utf8mb4"
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "chatsev:"
	}
	if cfg.MySQL.ConnMaxLifetime == 0 {
		cfg.MySQL.ConnMaxLifetime = time.Hour
	}
	if cfg.MySQL.SlowThreshold == 0 {
		cfg.MySQL.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.JWT.TokenTTL == 0 {
		cfg.JWT.TokenTTL = 24 * time.Hour
	}
	if cfg.WebSocket.MaxConnNum == 0 {
		cfg.WebSocket.MaxConnNum = 10000
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = 51200
	}
	if cfg.WebSocket.WriteWait == 0 {
		cfg.WebSocket.WriteWait = 10 * time.Second
	}
	if cfg.WebSocket.PongWait == 0 {
		cfg.WebSocket.PongWait = 30 * time.Second
	}
	if cfg.WebSocket.PingPeriod == 0 {
		cfg.WebSocket.PingPeriod = 27 * time.Second
	}
	if cfg.WebSocket.PushChannelSize == 0 {
		cfg.WebSocket.PushChannelSize = 10000
	}
	if cfg.WebSocket.PushWorkerNum == 0 {
		cfg.WebSocket.PushWorkerNum = 10
	}
	if cfg.WebSocket.WriteChannelSize == 0 {
		cfg.WebSocket.WriteChannelSize = 256
	}
	if cfg.Feed.Transport == "" {
		cfg.Feed.Transport = "redis"
	}
	if cfg.Feed.BackoffBase == 0 {
		cfg.Feed.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Feed.BackoffMax == 0 {
		cfg.Feed.BackoffMax = 30 * time.Second
	}
	if cfg.Feed.Nats.Name == "" {
		cfg.Feed.Nats.Name = "chatsev-realtime"
	}
	if cfg.Unread.ReconcileInterval == 0 {
		cfg.Unread.ReconcileInterval = 30 * time.Second
	}
	if cfg.Unread.RecountMinInterval == 0 {
		cfg.Unread.RecountMinInterval = 2 * time.Second
	}
	if cfg.Unread.FetchTimeout == 0 {
		cfg.Unread.FetchTimeout = 5 * time.Second
	}
	if cfg.Presence.HeartbeatWindow == 0 {
		cfg.Presence.HeartbeatWindow = 2 * time.Minute
	}
	if cfg.Presence.RoomPollInterval == 0 {
		cfg.Presence.RoomPollInterval = 60 * time.Second
	}
	for i := range cfg.Presence.Rooms {
		if cfg.Presence.Rooms[i].Key == "" {
			cfg.Presence.Rooms[i].Key = cfg.Presence.Rooms[i].Table
		}
		if cfg.Presence.Rooms[i].Cutoff == 0 {
			cfg.Presence.Rooms[i].Cutoff = 5 * time.Minute
		}
	}
	if cfg.Media.AckTimeout == 0 {
		cfg.Media.AckTimeout = 3 * time.Second
	}
}
