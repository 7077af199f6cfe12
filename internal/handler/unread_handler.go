package handler

import (
	"context"

	"github.com/chatsev/realtime/internal/middleware"
	"github.com/chatsev/realtime/internal/service"
	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/chatsev/realtime/pkg/response"
	"github.com/cloudwego/hertz/pkg/app"
)

// UnreadHandler handles unread counter requests
type UnreadHandler struct {
	unreadService *service.UnreadService
}

// NewUnreadHandler creates a new UnreadHandler
func NewUnreadHandler(unreadService *service.UnreadService) *UnreadHandler {
	return &UnreadHandler{unreadService: unreadService}
}

// UnreadResponse is the body of GET /unread
type UnreadResponse struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

// GetUnread handles GET /unread?kind=direct|messenger&force=1
func (h *UnreadHandler) GetUnread(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.Unauthorized(ctx, c, "")
		return
	}

	kind := c.Query("kind")
	if kind == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	force := c.Query("force") == "1" || c.Query("force") == "true"

	count, err := h.unreadService.GetUnread(ctx, userId, kind, force)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, UnreadResponse{Kind: kind, Count: count})
}
