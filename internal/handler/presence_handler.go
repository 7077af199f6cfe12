package handler

import (
	"context"

	"github.com/chatsev/realtime/internal/middleware"
	"github.com/chatsev/realtime/internal/service"
	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/chatsev/realtime/pkg/response"
	"github.com/cloudwego/hertz/pkg/app"
)

// PresenceHandler handles presence and room count requests
type PresenceHandler struct {
	presenceService *service.PresenceService
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(presenceService *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// FilterOnlineRequest is the body of POST /presence/filter_online
type FilterOnlineRequest struct {
	UserIds []string `json:"user_ids"`
}

// FilterOnlineResponse lists the users that may be shown online
type FilterOnlineResponse struct {
	UserIds []string `json:"user_ids"`
}

// RoomCountsResponse is the body of GET /rooms/counts
type RoomCountsResponse struct {
	Counts map[string]int64 `json:"counts"`
}

// GetPresence handles GET /presence/:user_id
func (h *PresenceHandler) GetPresence(ctx context.Context, c *app.RequestContext) {
	viewerId := middleware.GetUserId(c)
	targetId := c.Param("user_id")
	if targetId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	response.Success(ctx, c, h.presenceService.Resolve(ctx, targetId, viewerId))
}

// FilterOnline handles POST /presence/filter_online
func (h *PresenceHandler) FilterOnline(ctx context.Context, c *app.RequestContext) {
	viewerId := middleware.GetUserId(c)

	var req FilterOnlineRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	ids, err := h.presenceService.FilterOnline(ctx, req.UserIds, viewerId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, FilterOnlineResponse{UserIds: ids})
}

// Heartbeat handles POST /presence/heartbeat
func (h *PresenceHandler) Heartbeat(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.Unauthorized(ctx, c, "")
		return
	}

	if err := h.presenceService.Heartbeat(ctx, userId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// GetRoomCounts handles GET /rooms/counts
func (h *PresenceHandler) GetRoomCounts(ctx context.Context, c *app.RequestContext) {
	counts, err := h.presenceService.RoomCounts(ctx)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, RoomCountsResponse{Counts: counts})
}
