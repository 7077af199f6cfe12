package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/internal/media"
	"github.com/chatsev/realtime/internal/service"
	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/chatsev/realtime/pkg/jwt"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"
)

// WsServer is the WebSocket server
type WsServer struct {
	cfg            *config.Config
	verifier       *jwt.Verifier
	connOpts       ConnOptions
	userMap        *UserMap
	registerChan   chan *Client
	unregisterChan chan *Client
	pushChan       chan *PushTask
	unreadService  *service.UnreadService
	presence       *service.PresenceService
	onlineUserNum  atomic.Int64
	onlineConnNum  atomic.Int64
	maxConnNum     int64

	// per online user, stops pushing unread changes
	listenMu  sync.Mutex
	listeners map[string]func()
}

// PushTask represents a server push
type PushTask struct {
	ReqIdentifier int32
	Data          []byte
	UserIds       []string // nil means every online user
	ConnId        string   // when set, only this connection receives the push
}

// NewWsServer creates a new WebSocket server
func NewWsServer(cfg *config.Config, rdb *redis.Client, unreadService *service.UnreadService, presenceService *service.PresenceService) *WsServer {
	pushSize := cfg.WebSocket.PushChannelSize
	if pushSize <= 0 {
		pushSize = 1000
	}
	maxConn := cfg.WebSocket.MaxConnNum
	if maxConn <= 0 {
		maxConn = 10000
	}

	return &WsServer{
		cfg:            cfg,
		verifier:       jwt.NewVerifier(cfg.JWT.VerifierOptions()),
		connOpts:       ConnOptionsFromConfig(cfg.WebSocket),
		userMap:        NewUserMap(rdb, onlineTTL(cfg.Presence.HeartbeatWindow)),
		registerChan:   make(chan *Client, 1000),
		unregisterChan: make(chan *Client, 1000),
		pushChan:       make(chan *PushTask, pushSize),
		unreadService:  unreadService,
		presence:       presenceService,
		maxConnNum:     maxConn,
		listeners:      make(map[string]func()),
	}
}

func onlineTTL(window time.Duration) time.Duration {
	if window <= 0 {
		return 60 * time.Second
	}
	return window
}

// Run starts the WebSocket server loops; they stop when ctx is done
func (s *WsServer) Run(ctx context.Context) {
	go s.eventLoop(ctx)

	workerNum := s.cfg.WebSocket.PushWorkerNum
	if workerNum <= 0 {
		workerNum = 10
	}
	for i := 0; i < workerNum; i++ {
		go s.pushLoop(ctx)
	}

	stopRooms := s.presence.SubscribeRooms(s.broadcastRoomCounts)
	go func() {
		<-ctx.Done()
		stopRooms()
	}()

	go s.heartbeatLoop(ctx)
	log.Info("websocket server started: push_workers=%d", workerNum)
}

// eventLoop handles client registration and unregistration
func (s *WsServer) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-s.registerChan:
			s.registerClient(ctx, client)
		case client := <-s.unregisterChan:
			s.unregisterClient(ctx, client)
		}
	}
}

// pushLoop handles async pushes
func (s *WsServer) pushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.pushChan:
			s.processPushTask(ctx, task)
		}
	}
}

// heartbeatLoop keeps connected users online in redis and in their profile
func (s *WsServer) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(onlineTTL(s.cfg.Presence.HeartbeatWindow) / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userId := range s.userMap.GetAllOnlineUserIds() {
				s.userMap.RefreshOnlineStatus(ctx, userId)
				if err := s.presence.Heartbeat(ctx, userId); err != nil {
					log.Debug("presence heartbeat failed: user_id=%s, error=%v", userId, err)
				}
			}
		}
	}
}

// processPushTask delivers a single push task
func (s *WsServer) processPushTask(ctx context.Context, task *PushTask) {
	userIds := task.UserIds
	if userIds == nil {
		userIds = s.userMap.GetAllOnlineUserIds()
	}

	for _, userId := range userIds {
		clients, ok := s.userMap.GetAll(userId)
		if !ok {
			continue
		}

		for _, client := range clients {
			if task.ConnId != "" && client.ConnId != task.ConnId {
				continue
			}

			if err := client.pushRaw(task.ReqIdentifier, task.Data); err != nil {
				log.CtxDebug(ctx, "push to client failed: user_id=%s, conn_id=%s, req_identifier=%d, error=%v",
					userId, client.ConnId, task.ReqIdentifier, err)
			}
		}
	}
}

// registerClient registers a client and opens its user's unread session
func (s *WsServer) registerClient(ctx context.Context, client *Client) {
	existingClients, exists := s.userMap.GetAll(client.UserId)

	sess, err := s.unreadService.Acquire(ctx, client.UserId)
	if err != nil {
		log.CtxError(ctx, "open unread session failed: user_id=%s, conn_id=%s, error=%v", client.UserId, client.ConnId, err)
		_ = client.KickOnline("unread session unavailable")
		return
	}

	if !exists {
		s.onlineUserNum.Add(1)
		userId := client.UserId
		stop := sess.Listen(func(kind string, n int64) {
			s.pushUnread(userId, "", map[string]int64{kind: n})
		})
		s.listenMu.Lock()
		s.listeners[userId] = stop
		s.listenMu.Unlock()
	}

	s.userMap.Register(ctx, client)
	s.onlineConnNum.Add(1)

	if err := s.presence.Heartbeat(ctx, client.UserId); err != nil {
		log.CtxDebug(ctx, "presence heartbeat failed: user_id=%s, error=%v", client.UserId, err)
	}

	// a joining connection of an already loaded session gets the current counts
	counts := make(map[string]int64)
	for _, kind := range s.unreadService.Kinds() {
		if c, ok := sess.Counter(kind); ok && c.Loaded() {
			counts[kind] = c.Count()
		}
	}
	if len(counts) > 0 {
		s.pushUnread(client.UserId, client.ConnId, counts)
	}

	log.CtxInfo(ctx, "client registered: user_id=%s, platform_id=%d, conn_id=%s, existing_conns=%d, online_users=%d, online_conns=%d",
		client.UserId, client.PlatformId, client.ConnId, len(existingClients), s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// unregisterClient unregisters a client and releases its session reference
func (s *WsServer) unregisterClient(ctx context.Context, client *Client) {
	if !s.userMap.Contains(client) {
		return
	}

	isUserOffline := s.userMap.Unregister(ctx, client)
	s.onlineConnNum.Add(-1)

	if isUserOffline {
		s.onlineUserNum.Add(-1)
		s.listenMu.Lock()
		if stop, ok := s.listeners[client.UserId]; ok {
			stop()
			delete(s.listeners, client.UserId)
		}
		s.listenMu.Unlock()
	}
	s.unreadService.Release(client.UserId)

	log.CtxInfo(ctx, "client unregistered: user_id=%s, platform_id=%d, conn_id=%s, user_offline=%v, online_users=%d, online_conns=%d",
		client.UserId, client.PlatformId, client.ConnId, isUserOffline, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// UnregisterClient queues client for unregistration
func (s *WsServer) UnregisterClient(client *Client) {
	select {
	case s.unregisterChan <- client:
	default:
		log.Warn("unregister channel full: user_id=%s", client.UserId)
	}
}

// AsyncPush queues a push task
func (s *WsServer) AsyncPush(task *PushTask) {
	select {
	case s.pushChan <- task:
	default:
		log.Warn("push channel full, push dropped: req_identifier=%d, users=%d", task.ReqIdentifier, len(task.UserIds))
	}
}

func (s *WsServer) pushUnread(userId, connId string, counts map[string]int64) {
	data, err := Encode(UnreadData{Counts: counts})
	if err != nil {
		return
	}
	s.AsyncPush(&PushTask{ReqIdentifier: WSPushUnread, Data: data, UserIds: []string{userId}, ConnId: connId})
}

func (s *WsServer) broadcastRoomCounts(counts map[string]int64) {
	if s.userMap.GetOnlineUserCount() == 0 {
		return
	}
	data, err := Encode(RoomCountsData{Counts: counts})
	if err != nil {
		return
	}
	s.AsyncPush(&PushTask{ReqIdentifier: WSPushRoomCounts, Data: data})
}

// Shutdown kicks every connected client
func (s *WsServer) Shutdown(ctx context.Context) {
	for _, userId := range s.userMap.GetAllOnlineUserIds() {
		clients, _ := s.userMap.GetAll(userId)
		for _, c := range clients {
			_ = c.KickOnline("server shutdown")
		}
	}
	log.CtxInfo(ctx, "websocket server shutdown: online_conns=%d", s.onlineConnNum.Load())
}

// GetOnlineUserCount returns online user count
func (s *WsServer) GetOnlineUserCount() int64 {
	return s.onlineUserNum.Load()
}

// GetOnlineConnCount returns online connection count
func (s *WsServer) GetOnlineConnCount() int64 {
	return s.onlineConnNum.Load()
}

// ========== Request Handlers ==========

// HandleGetUnread returns one or every unread count of the user
func (s *WsServer) HandleGetUnread(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var getReq GetUnreadReq
	if len(req.Data) > 0 {
		if err := Decode(req.Data, &getReq); err != nil {
			return nil, errcode.ErrInvalidParam
		}
	}

	kinds := s.unreadService.Kinds()
	if getReq.Kind != "" {
		kinds = []string{getReq.Kind}
	}

	counts := make(map[string]int64, len(kinds))
	for _, kind := range kinds {
		n, err := s.unreadService.GetUnread(ctx, client.UserId, kind, getReq.Force)
		if err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return Encode(UnreadData{Counts: counts})
}

// HandleResolvePresence resolves one user's presence
func (s *WsServer) HandleResolvePresence(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var resolveReq ResolvePresenceReq
	if err := Decode(req.Data, &resolveReq); err != nil || resolveReq.UserId == "" {
		return nil, errcode.ErrInvalidParam
	}
	return Encode(s.presence.Resolve(ctx, resolveReq.UserId, client.UserId))
}

// HandleFilterOnline removes invisible users from a list
func (s *WsServer) HandleFilterOnline(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var filterReq FilterOnlineReq
	if err := Decode(req.Data, &filterReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	ids, err := s.presence.FilterOnline(ctx, filterReq.UserIds, client.UserId)
	if err != nil {
		return nil, err
	}
	return Encode(FilterOnlineResp{UserIds: ids})
}

// HandleGetRoomCounts returns the shared room counts
func (s *WsServer) HandleGetRoomCounts(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	counts, err := s.presence.RoomCounts(ctx)
	if err != nil {
		return nil, err
	}
	return Encode(RoomCountsData{Counts: counts})
}

// HandleVisibility reconciles counters and refreshes presence when the client becomes visible
func (s *WsServer) HandleVisibility(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var visReq VisibilityReq
	if err := Decode(req.Data, &visReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	if !visReq.Visible {
		return nil, nil
	}

	if sess, ok := s.unreadService.Session(client.UserId); ok {
		sess.Visible()
	}
	if err := s.presence.Heartbeat(ctx, client.UserId); err != nil {
		return nil, err
	}
	return nil, nil
}

func decodeMediaReq(req *WSRequest) (MediaReq, error) {
	var mediaReq MediaReq
	if err := Decode(req.Data, &mediaReq); err != nil || mediaReq.MediaId == "" {
		return mediaReq, errcode.ErrInvalidParam
	}
	return mediaReq, nil
}

func mediaError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, media.ErrNotRegistered):
		return errcode.ErrMediaNotRegistered
	case errors.Is(err, ErrMediaAckTimeout):
		return errcode.ErrMediaAckTimeout
	case errors.Is(err, media.ErrPlaybackRejected):
		return errcode.ErrPlaybackRejected.Wrap(err)
	case errors.Is(err, media.ErrActivationCancelled):
		return errcode.ErrMediaCancelled
	default:
		return err
	}
}

// HandleMediaRegister registers a browser player on the connection
func (s *WsServer) HandleMediaRegister(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	mediaReq, err := decodeMediaReq(req)
	if err != nil {
		return nil, err
	}
	client.media.Register(mediaReq.MediaId, NewRemoteHandle(client, mediaReq.MediaId))
	return nil, nil
}

// HandleMediaUnregister silences and forgets a player
func (s *WsServer) HandleMediaUnregister(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	mediaReq, err := decodeMediaReq(req)
	if err != nil {
		return nil, err
	}
	client.media.Unregister(mediaReq.MediaId)
	return nil, nil
}

// HandleMediaActivate makes a player the single audible one
func (s *WsServer) HandleMediaActivate(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	mediaReq, err := decodeMediaReq(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.ackTimeout())
	defer cancel()
	if err := client.media.Activate(ctx, mediaReq.MediaId, mediaReq.Muted); err != nil {
		return nil, mediaError(err)
	}
	return Encode(MediaToggleResp{MediaId: mediaReq.MediaId, Active: true})
}

// HandleMediaDeactivate pauses a player
func (s *WsServer) HandleMediaDeactivate(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	mediaReq, err := decodeMediaReq(req)
	if err != nil {
		return nil, err
	}
	client.media.Deactivate(mediaReq.MediaId)
	return nil, nil
}

// HandleMediaToggleMute mutes or unmutes a player
func (s *WsServer) HandleMediaToggleMute(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	mediaReq, err := decodeMediaReq(req)
	if err != nil {
		return nil, err
	}
	if err := client.media.ToggleMute(mediaReq.MediaId, mediaReq.Muted); err != nil {
		return nil, mediaError(err)
	}
	return nil, nil
}

// HandleMediaTogglePlay flips a player between playing and paused
func (s *WsServer) HandleMediaTogglePlay(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	mediaReq, err := decodeMediaReq(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.ackTimeout())
	defer cancel()
	active, err := client.media.TogglePlay(ctx, mediaReq.MediaId)
	if err != nil {
		return nil, mediaError(err)
	}
	return Encode(MediaToggleResp{MediaId: mediaReq.MediaId, Active: active})
}

// HandleMediaAck resolves a pending play command
func (s *WsServer) HandleMediaAck(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var ack MediaAckReq
	if err := Decode(req.Data, &ack); err != nil || ack.RequestId == "" {
		return nil, errcode.ErrInvalidParam
	}
	if err := client.resolveAck(ack); err != nil {
		// a late ack after timeout is harmless
		log.CtxDebug(ctx, "media ack ignored: user_id=%s, request_id=%s", client.UserId, ack.RequestId)
	}
	return nil, nil
}

func (s *WsServer) ackTimeout() time.Duration {
	if s.cfg.Media.AckTimeout > 0 {
		return s.cfg.Media.AckTimeout
	}
	return 3 * time.Second
}
