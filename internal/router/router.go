package router

import (
	"context"

	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/internal/gateway"
	"github.com/chatsev/realtime/internal/handler"
	"github.com/chatsev/realtime/internal/middleware"
	"github.com/chatsev/realtime/pkg/jwt"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	Unread   *handler.UnreadHandler
	Presence *handler.PresenceHandler
}

// SetupRouter sets up all routes
func SetupRouter(h *server.Hertz, cfg *config.Config, handlers *Handlers, wsServer *gateway.WsServer) {
	h.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]interface{}{
			"status":       "ok",
			"online_users": wsServer.GetOnlineUserCount(),
			"online_conns": wsServer.GetOnlineConnCount(),
		})
	})

	auth := middleware.JWTAuth(jwt.NewVerifier(cfg.JWT.VerifierOptions()))

	h.GET("/unread", auth, handlers.Unread.GetUnread)

	presenceGroup := h.Group("/presence", auth)
	{
		presenceGroup.GET("/:user_id", handlers.Presence.GetPresence)
		presenceGroup.POST("/filter_online", handlers.Presence.FilterOnline)
		presenceGroup.POST("/heartbeat", handlers.Presence.Heartbeat)
	}

	roomGroup := h.Group("/rooms", auth)
	{
		roomGroup.GET("/counts", handlers.Presence.GetRoomCounts)
	}

	// No Origin header means a non-browser client; an empty allow list
	// rejects every cross-origin upgrade
	allowedOrigins := cfg.Server.AllowedOrigins
	upgrader := &websocket.HertzUpgrader{
		CheckOrigin: func(c *app.RequestContext) bool {
			origin := string(c.Request.Header.Peek("Origin"))
			return origin == "" || middleware.OriginAllowed(origin, allowedOrigins, false)
		},
	}

	h.GET("/ws", func(ctx context.Context, c *app.RequestContext) {
		wsServer.HandleHertzConnection(ctx, c, upgrader)
	})
}
