package gateway

import (
	"context"
	"errors"
	"strconv"

	"github.com/chatsev/realtime/pkg/idgen"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"
	"github.com/mbeoliero/kit/log"
)

var errMissingHandshakeParams = errors.New("missing token or send_id")

// handshake carries the query parameters of a websocket upgrade request
type handshake struct {
	Token      string
	SendId     string
	PlatformId int
	SDKType    string
}

func parseHandshake(c *app.RequestContext) (handshake, error) {
	hs := handshake{
		Token:   c.Query(QueryToken),
		SendId:  c.Query(QuerySendId),
		SDKType: c.Query(QuerySDKType),
	}
	if hs.Token == "" || hs.SendId == "" {
		return hs, errMissingHandshakeParams
	}
	if raw := c.Query(QueryPlatformId); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return hs, errors.New("platform_id must be an integer")
		}
		hs.PlatformId = id
	}
	if hs.SDKType == "" {
		hs.SDKType = SDKTypeGo
	}
	return hs, nil
}

// HandleHertzConnection authenticates and upgrades a websocket request.
// The handler blocks for the lifetime of the connection.
func (s *WsServer) HandleHertzConnection(ctx context.Context, c *app.RequestContext, upgrader *websocket.HertzUpgrader) {
	if s.onlineConnNum.Load() >= s.maxConnNum {
		c.String(consts.StatusServiceUnavailable, "connection limit exceeded")
		return
	}

	hs, err := parseHandshake(c)
	if err != nil {
		c.String(consts.StatusBadRequest, err.Error())
		return
	}

	claims, err := s.verifier.Validate(hs.Token, hs.SendId, hs.PlatformId)
	if err != nil {
		log.CtxDebug(ctx, "handshake rejected: send_id=%s, platform_id=%d, error=%v", hs.SendId, hs.PlatformId, err)
		c.String(consts.StatusUnauthorized, "unauthorized")
		return
	}

	err = upgrader.Upgrade(c, func(conn *websocket.Conn) {
		client := NewClient(NewHertzClientConn(conn, s.connOpts), claims.UserId(), hs.PlatformId, hs.SDKType, hs.Token, idgen.NewConnId(), s)
		s.registerChan <- client
		client.readLoop()
	})
	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: send_id=%s, error=%v", hs.SendId, err)
	}
}
