package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/cloudwego/hertz/pkg/protocol"
)

// Health reports server liveness. It needs no token.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req := &protocol.Request{}
	resp := &protocol.Response{}
	req.SetMethod("GET")
	req.SetRequestURI(c.baseURL + "/health")

	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var status HealthStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// GetUnread returns the caller's unread count of kind. force skips the
// server's recount debounce.
func (c *Client) GetUnread(ctx context.Context, kind string, force bool) (int64, error) {
	params := url.Values{"kind": {kind}}
	if force {
		params.Set("force", "1")
	}

	var result UnreadResult
	if err := c.get(ctx, "/unread", params, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// GetPresence resolves userId's presence as seen by the caller
func (c *Client) GetPresence(ctx context.Context, userId string) (*PresenceStatus, error) {
	var status PresenceStatus
	if err := c.get(ctx, "/presence/"+url.PathEscape(userId), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// FilterOnline drops users hidden from the caller
func (c *Client) FilterOnline(ctx context.Context, userIds []string) ([]string, error) {
	var result UserIdList
	if err := c.post(ctx, "/presence/filter_online", &FilterOnlineRequest{UserIds: userIds}, &result); err != nil {
		return nil, err
	}
	return result.UserIds, nil
}

// Heartbeat keeps the caller online
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.post(ctx, "/presence/heartbeat", struct{}{}, nil)
}

// GetRoomCounts returns active users per configured room
func (c *Client) GetRoomCounts(ctx context.Context) (map[string]int64, error) {
	var result Counts
	if err := c.get(ctx, "/rooms/counts", nil, &result); err != nil {
		return nil, err
	}
	return result.Counts, nil
}
