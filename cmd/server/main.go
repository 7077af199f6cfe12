package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/internal/gateway"
	"github.com/chatsev/realtime/internal/handler"
	"github.com/chatsev/realtime/internal/repository"
	"github.com/chatsev/realtime/internal/router"
	"github.com/chatsev/realtime/internal/service"
	"github.com/chatsev/realtime/internal/unread"
	"github.com/chatsev/realtime/pkg/constant"
	"github.com/chatsev/realtime/pkg/idgen"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s, feed_transport=%s", cfg.Server.Mode, cfg.Feed.Transport)

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	if err := idgen.Init(cfg.Server.NodeId); err != nil {
		log.CtxError(ctx, "failed to init id generator: node_id=%d, error=%v", cfg.Server.NodeId, err)
		panic(err)
	}

	// Initialize repositories
	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to initialize repositories: %v", err)
		panic(err)
	}
	defer repos.Close()

	if err := repos.CheckConnection(ctx); err != nil {
		log.CtxError(ctx, "database connection check failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "database connection established")

	// Change feed
	transport, closeTransport, err := changefeed.Open(ctx, cfg.Feed, repos.Redis)
	if err != nil {
		log.CtxError(ctx, "failed to open change feed: %v", err)
		panic(err)
	}
	defer closeTransport()
	feed := changefeed.NewFeed(transport, changefeed.WithBackoff(cfg.Feed.BackoffBase, cfg.Feed.BackoffMax))

	// Initialize services
	unreadService := service.NewUnreadService(feed, cfg.Unread,
		unread.NewDirectSource(repos.Conversation),
		unread.NewMessengerSource(repos.Messenger),
	)
	defer unreadService.Close()
	presenceService := service.NewPresenceService(repos.Profile, repos.Room, cfg.Presence)
	go presenceService.Run(ctx)

	// Hot reload of intervals and rooms
	config.Watch(func(next *config.Config) {
		repos.Room.SetTables(repository.RoomTables(next.Presence.Rooms))
		presenceService.Reconfigure(next.Presence)
		unreadService.Reconfigure(next.Unread)
		log.Info("runtime settings applied: rooms=%d, room_poll_interval=%s", len(next.Presence.Rooms), next.Presence.RoomPollInterval)
	})

	// Initialize WebSocket server
	wsServer := gateway.NewWsServer(cfg, repos.Redis, unreadService, presenceService)
	wsServer.Run(ctx)

	handlers := &router.Handlers{
		Unread:   handler.NewUnreadHandler(unreadService),
		Presence: handler.NewPresenceHandler(presenceService),
	}

	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
		server.WithExitWaitTime(5*time.Second),
	)
	router.SetupRouter(h, cfg, handlers, wsServer)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")

	wsServer.Shutdown(ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}
	cancel()

	log.CtxInfo(ctx, "server stopped")
}
