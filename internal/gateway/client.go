package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chatsev/realtime/internal/media"
	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/mbeoliero/kit/log"
)

// Client represents a connected WebSocket client
type Client struct {
	mu         sync.Mutex
	conn       ClientConn
	UserId     string
	PlatformId int
	SDKType    string
	Token      string
	ConnId     string
	server     *WsServer
	closed     atomic.Bool
	closedErr  error
	ctx        context.Context
	cancel     context.CancelFunc

	// players of this connection, at most one audible
	media *media.Coordinator

	ackMu sync.Mutex
	acks  map[string]chan MediaAckReq
}

// NewClient creates a new client
func NewClient(conn ClientConn, userId string, platformId int, sdkType, token, connId string, server *WsServer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:       conn,
		UserId:     userId,
		PlatformId: platformId,
		SDKType:    sdkType,
		Token:      token,
		ConnId:     connId,
		server:     server,
		ctx:        ctx,
		cancel:     cancel,
		media:      media.NewCoordinator(),
		acks:       make(map[string]chan MediaAckReq),
	}
}

// Start starts the client message handling
func (c *Client) Start() {
	go c.readLoop()
}

// readLoop continuously reads messages from the connection
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.closedErr = ErrPanic
			log.CtxError(c.ctx, "client read loop panic: user_id=%s, error=%v", c.UserId, r)
		}
		c.close()
	}()

	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			log.CtxDebug(c.ctx, "read message error: user_id=%s, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}

		if c.closed.Load() {
			c.closedErr = ErrConnClosed
			return
		}

		if err := c.handleMessage(message); err != nil {
			log.CtxWarn(c.ctx, "handle message error: user_id=%s, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}
	}
}

// handleMessage handles a single incoming message
func (c *Client) handleMessage(message []byte) error {
	var req WSRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return c.replyError(&req, ErrInvalidProtocol)
	}

	// Validate sender Id matches authenticated user
	if req.SendId != "" && req.SendId != c.UserId {
		return c.replyError(&req, ErrSendIdMismatch)
	}

	log.CtxDebug(c.ctx, "received message: req_identifier=%d, user_id=%s", req.ReqIdentifier, c.UserId)

	var handler func(context.Context, *Client, *WSRequest) ([]byte, error)

	switch req.ReqIdentifier {
	case WSGetUnread:
		handler = c.server.HandleGetUnread
	case WSResolvePresence:
		handler = c.server.HandleResolvePresence
	case WSFilterOnline:
		handler = c.server.HandleFilterOnline
	case WSGetRoomCounts:
		handler = c.server.HandleGetRoomCounts
	case WSVisibility:
		handler = c.server.HandleVisibility
	case WSMediaRegister:
		handler = c.server.HandleMediaRegister
	case WSMediaUnregister:
		handler = c.server.HandleMediaUnregister
	case WSMediaDeactivate:
		handler = c.server.HandleMediaDeactivate
	case WSMediaToggleMute:
		handler = c.server.HandleMediaToggleMute
	case WSMediaAck:
		handler = c.server.HandleMediaAck
	case WSMediaActivate, WSMediaTogglePlay:
		// Play waits for an ack that arrives on this read loop
		go c.handleAsync(&req)
		return nil
	default:
		return c.replyError(&req, ErrInvalidProtocol)
	}

	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()
	resp, err := handler(ctx, c, &req)
	return c.reply(&req, err, resp)
}

func (c *Client) handleAsync(req *WSRequest) {
	var (
		resp []byte
		err  error
	)
	switch req.ReqIdentifier {
	case WSMediaActivate:
		resp, err = c.server.HandleMediaActivate(c.ctx, c, req)
	case WSMediaTogglePlay:
		resp, err = c.server.HandleMediaTogglePlay(c.ctx, c, req)
	}
	if werr := c.reply(req, err, resp); werr != nil {
		log.CtxDebug(c.ctx, "media reply failed: user_id=%s, error=%v", c.UserId, werr)
	}
}

// reply sends a response to the client
func (c *Client) reply(req *WSRequest, err error, data []byte) error {
	resp := WSResponse{
		ReqIdentifier: req.ReqIdentifier,
		MsgIncr:       req.MsgIncr,
		OperationId:   req.OperationId,
		Data:          data,
	}

	if err != nil {
		resp.ErrCode, resp.ErrMsg = errorCode(err)
	}

	return c.writeResponse(resp)
}

// replyError sends an error response
func (c *Client) replyError(req *WSRequest, err error) error {
	resp := WSResponse{
		ReqIdentifier: req.ReqIdentifier,
		MsgIncr:       req.MsgIncr,
		OperationId:   req.OperationId,
	}
	resp.ErrCode, resp.ErrMsg = errorCode(err)
	return c.writeResponse(resp)
}

func errorCode(err error) (int, string) {
	var e *errcode.Error
	if errors.As(err, &e) {
		return e.Code, e.Msg
	}
	return 1, err.Error()
}

// writeResponse writes a response to the connection
func (c *Client) writeResponse(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(data)
}

// push sends a server initiated message
func (c *Client) push(reqIdentifier int32, v interface{}) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return c.pushRaw(reqIdentifier, data)
}

func (c *Client) pushRaw(reqIdentifier int32, data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.writeResponse(WSResponse{ReqIdentifier: reqIdentifier, Data: data})
}

func (c *Client) expectAck(requestId string) <-chan MediaAckReq {
	ch := make(chan MediaAckReq, 1)
	c.ackMu.Lock()
	c.acks[requestId] = ch
	c.ackMu.Unlock()
	return ch
}

func (c *Client) dropAck(requestId string) {
	c.ackMu.Lock()
	delete(c.acks, requestId)
	c.ackMu.Unlock()
}

// resolveAck delivers a client ack to the waiting Play
func (c *Client) resolveAck(ack MediaAckReq) error {
	c.ackMu.Lock()
	ch, ok := c.acks[ack.RequestId]
	delete(c.acks, ack.RequestId)
	c.ackMu.Unlock()

	if !ok {
		return ErrUnknownAck
	}
	ch <- ack
	return nil
}

// KickOnline sends kick message and closes connection
func (c *Client) KickOnline(reason string) error {
	_ = c.push(WSKickOnlineMsg, KickData{Reason: reason})
	return c.Close()
}

// Close closes the client connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}

	c.closed.Store(true)
	c.cancel()
	err := c.conn.Close()
	c.mu.Unlock()

	// outside c.mu: a Play holding the coordinator lock may be writing
	c.media.Close()
	return err
}

// close handles cleanup when connection is closed
func (c *Client) close() {
	c.Close()
	c.server.UnregisterClient(c)
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}
