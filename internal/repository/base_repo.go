package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatsev/realtime/internal/config"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Repositories holds all repositories
type Repositories struct {
	DB           *gorm.DB
	Redis        *redis.Client
	Conversation *ConversationRepo
	Messenger    *MessengerRepo
	Profile      *ProfileRepo
	Room         *RoomRepo
}

// NewRepositories opens the row store and redis and builds every repository.
// The row store is only read here; writes belong to the upstream application.
func NewRepositories(cfg *config.Config) (*Repositories, error) {
	db, err := openRowStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open row store: %w", err)
	}

	repos := &Repositories{
		DB:    db,
		Redis: openRedis(cfg.Redis),
	}
	repos.Conversation = NewConversationRepo(db)
	repos.Messenger = NewMessengerRepo(db)
	repos.Profile = NewProfileRepo(db)
	repos.Room = NewRoomRepo(db, RoomTables(cfg.Presence.Rooms))

	return repos, nil
}

func openRowStore(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Server.Mode == "debug" {
		level = logger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(level),
		// count queries only, no writes to wrap
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if cfg.MySQL.SlowThreshold > 0 {
		db.Logger = logger.New(slowQueryWriter{}, logger.Config{
			SlowThreshold:             cfg.MySQL.SlowThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		})
	}

	return db, nil
}

// slowQueryWriter routes gorm's logger through kit/log
type slowQueryWriter struct{}

func (slowQueryWriter) Printf(format string, args ...interface{}) {
	log.Warn(format, args...)
}

func openRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
}

// Close closes the row store and redis
func (r *Repositories) Close() error {
	var errs []error
	if sqlDB, err := r.DB.DB(); err != nil {
		errs = append(errs, err)
	} else if err := sqlDB.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.Redis.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckConnection pings the row store and redis
func (r *Repositories) CheckConnection(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		log.CtxError(ctx, "store ping failed: store=mysql, error=%v", err)
		return fmt.Errorf("ping mysql: %w", err)
	}
	if err := r.Redis.Ping(ctx).Err(); err != nil {
		log.CtxError(ctx, "store ping failed: store=redis, error=%v", err)
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// RoomTables lists the tables of the configured rooms
func RoomTables(rooms []config.RoomConfig) []string {
	tables := make([]string, 0, len(rooms))
	for _, room := range rooms {
		tables = append(tables, room.Table)
	}
	return tables
}
