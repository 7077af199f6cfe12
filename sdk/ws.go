package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSHandlers receive server pushes. Nil handlers are skipped.
type WSHandlers struct {
	OnUnread     func(counts map[string]int64)
	OnRoomCounts func(counts map[string]int64)
	OnKick       func(reason string)
	// OnMediaCommand drives the local player. For play commands the returned
	// error is sent back as the ack; nil means playback started.
	OnMediaCommand func(cmd MediaCommand) error
}

// WSClient is a websocket connection to the gateway
type WSClient struct {
	conn     *websocket.Conn
	userId   string
	handlers WSHandlers

	writeMu sync.Mutex
	incr    atomic.Int64

	mu      sync.Mutex
	pending map[string]chan WSResponse
	closed  bool
	err     error
	done    chan struct{}
}

// DialWS connects to the gateway's /ws endpoint. baseURL is the http(s) base
// of the API server.
func DialWS(ctx context.Context, baseURL, token, userId string, platformId int, handlers WSHandlers) (*WSClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{
		"token":       {token},
		"send_id":     {userId},
		"platform_id": {strconv.Itoa(platformId)},
		"sdk_type":    {"go"},
	}.Encode()

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	c := &WSClient{
		conn:     conn,
		userId:   userId,
		handlers: handlers,
		pending:  make(map[string]chan WSResponse),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection ends
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended
func (c *WSClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *WSClient) readLoop() {
	var loopErr error
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.err = loopErr
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			loopErr = err
			return
		}

		var resp WSResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			continue
		}

		if resp.MsgIncr != "" {
			c.mu.Lock()
			ch, ok := c.pending[resp.MsgIncr]
			delete(c.pending, resp.MsgIncr)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}
		c.dispatchPush(resp)
	}
}

func (c *WSClient) dispatchPush(resp WSResponse) {
	switch resp.ReqIdentifier {
	case WSPushUnread:
		var counts Counts
		if c.handlers.OnUnread != nil && json.Unmarshal(resp.Data, &counts) == nil {
			c.handlers.OnUnread(counts.Counts)
		}
	case WSPushRoomCounts:
		var counts Counts
		if c.handlers.OnRoomCounts != nil && json.Unmarshal(resp.Data, &counts) == nil {
			c.handlers.OnRoomCounts(counts.Counts)
		}
	case WSKickOnlineMsg:
		var kick KickNotice
		_ = json.Unmarshal(resp.Data, &kick)
		if c.handlers.OnKick != nil {
			c.handlers.OnKick(kick.Reason)
		}
	case WSPushMediaCommand:
		var cmd MediaCommand
		if json.Unmarshal(resp.Data, &cmd) != nil {
			return
		}
		// outside the read loop so the handler may block on the player
		go c.runMediaCommand(cmd)
	}
}

func (c *WSClient) runMediaCommand(cmd MediaCommand) {
	var err error
	if c.handlers.OnMediaCommand != nil {
		err = c.handlers.OnMediaCommand(cmd)
	}
	if cmd.Action != MediaActionPlay || cmd.RequestId == "" {
		return
	}

	ack := MediaAck{RequestId: cmd.RequestId, Ok: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	_ = c.send(WSMediaAck, ack, "")
}

func (c *WSClient) send(reqIdentifier int32, data interface{}, msgIncr string) error {
	req := WSRequest{ReqIdentifier: reqIdentifier, MsgIncr: msgIncr, SendId: c.userId}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		req.Data = b
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(req)
}

// Request sends a request and waits for its response, decoding the data
// into result when non-nil
func (c *WSClient) Request(ctx context.Context, reqIdentifier int32, data interface{}, result interface{}) error {
	msgIncr := strconv.FormatInt(c.incr.Add(1), 10)
	ch := make(chan WSResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[msgIncr] = ch
	c.mu.Unlock()

	if err := c.send(reqIdentifier, data, msgIncr); err != nil {
		c.mu.Lock()
		delete(c.pending, msgIncr)
		c.mu.Unlock()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnectionLost
		}
		if resp.ErrCode != CodeSuccess {
			return &Error{Code: resp.ErrCode, Msg: resp.ErrMsg}
		}
		if result != nil && len(resp.Data) > 0 {
			return json.Unmarshal(resp.Data, result)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msgIncr)
		c.mu.Unlock()
		return ErrRequestTimeout
	}
}

// GetUnread returns unread counts; an empty kind returns every kind
func (c *WSClient) GetUnread(ctx context.Context, kind string, force bool) (map[string]int64, error) {
	var counts Counts
	req := struct {
		Kind  string `json:"kind,omitempty"`
		Force bool   `json:"force,omitempty"`
	}{kind, force}
	if err := c.Request(ctx, WSGetUnread, req, &counts); err != nil {
		return nil, err
	}
	return counts.Counts, nil
}

// ResolvePresence resolves userId's presence
func (c *WSClient) ResolvePresence(ctx context.Context, userId string) (*PresenceStatus, error) {
	var status PresenceStatus
	if err := c.Request(ctx, WSResolvePresence, map[string]string{"user_id": userId}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// FilterOnline drops users hidden from the caller
func (c *WSClient) FilterOnline(ctx context.Context, userIds []string) ([]string, error) {
	var result UserIdList
	if err := c.Request(ctx, WSFilterOnline, FilterOnlineRequest{UserIds: userIds}, &result); err != nil {
		return nil, err
	}
	return result.UserIds, nil
}

// GetRoomCounts returns active users per room
func (c *WSClient) GetRoomCounts(ctx context.Context) (map[string]int64, error) {
	var counts Counts
	if err := c.Request(ctx, WSGetRoomCounts, nil, &counts); err != nil {
		return nil, err
	}
	return counts.Counts, nil
}

// SetVisible reports tab visibility; becoming visible triggers reconciliation
func (c *WSClient) SetVisible(ctx context.Context, visible bool) error {
	return c.Request(ctx, WSVisibility, map[string]bool{"visible": visible}, nil)
}

// MediaRegister registers a local player
func (c *WSClient) MediaRegister(ctx context.Context, mediaId string) error {
	return c.Request(ctx, WSMediaRegister, MediaRequest{MediaId: mediaId}, nil)
}

// MediaUnregister forgets a local player
func (c *WSClient) MediaUnregister(ctx context.Context, mediaId string) error {
	return c.Request(ctx, WSMediaUnregister, MediaRequest{MediaId: mediaId}, nil)
}

// MediaActivate makes mediaId the single audible player
func (c *WSClient) MediaActivate(ctx context.Context, mediaId string, muted bool) error {
	return c.Request(ctx, WSMediaActivate, MediaRequest{MediaId: mediaId, Muted: muted}, nil)
}

// MediaDeactivate pauses mediaId
func (c *WSClient) MediaDeactivate(ctx context.Context, mediaId string) error {
	return c.Request(ctx, WSMediaDeactivate, MediaRequest{MediaId: mediaId}, nil)
}

// MediaToggleMute sets the mute state of mediaId
func (c *WSClient) MediaToggleMute(ctx context.Context, mediaId string, muted bool) error {
	return c.Request(ctx, WSMediaToggleMute, MediaRequest{MediaId: mediaId, Muted: muted}, nil)
}

// MediaTogglePlay flips mediaId between playing and paused
func (c *WSClient) MediaTogglePlay(ctx context.Context, mediaId string) (bool, error) {
	var result MediaToggleResult
	if err := c.Request(ctx, WSMediaTogglePlay, MediaRequest{MediaId: mediaId}, &result); err != nil {
		return false, err
	}
	return result.Active, nil
}
