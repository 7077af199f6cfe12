package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/internal/entity"
	"github.com/chatsev/realtime/internal/media"
	"github.com/chatsev/realtime/internal/service"
	"github.com/chatsev/realtime/internal/unread"
	"github.com/chatsev/realtime/pkg/constant"
	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{out: make(chan []byte, 64)}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnClosed
	}
	f.out <- data
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) next(t *testing.T) WSResponse {
	t.Helper()
	select {
	case data := <-f.out:
		var resp WSResponse
		require.NoError(t, json.Unmarshal(data, &resp))
		return resp
	case <-time.After(time.Second):
		t.Fatal("no message written")
		return WSResponse{}
	}
}

type fakeThreads struct{ count int64 }

func (f *fakeThreads) CountUnread(ctx context.Context, viewerId string) (int64, error) {
	return f.count, nil
}

func (f *fakeThreads) ListThreadStates(ctx context.Context, viewerId string) ([]entity.ThreadState, error) {
	return nil, nil
}

func (f *fakeThreads) Revive(ctx context.Context, viewerId, threadId string) error { return nil }

type fakeProfiles struct{}

func (fakeProfiles) GetById(ctx context.Context, id string) (*entity.Profile, error) {
	return &entity.Profile{Id: id, IsInvisible: id == "ghost", OnlineVisibleUntil: entity.NowUnixMilli() + 60_000}, nil
}

func (fakeProfiles) GetInvisibleFlags(ctx context.Context, ids []string) (map[string]bool, error) {
	return map[string]bool{"ghost": true}, nil
}

func (fakeProfiles) TouchOnline(ctx context.Context, id string, visibleUntil, lastSeen int64) error {
	return nil
}

type fakeRoomCounter struct{}

func (fakeRoomCounter) CountActive(ctx context.Context, table, roomId string, sinceMilli int64) (int64, error) {
	return 2, nil
}

func newTestServer(t *testing.T) (*WsServer, *changefeed.MemoryTransport) {
	t.Helper()
	return newTestServerWithCounts(t, 3, 1)
}

func newTestServerWithCounts(t *testing.T, direct, messenger int64) (*WsServer, *changefeed.MemoryTransport) {
	t.Helper()
	cfg := &config.Config{
		Unread: config.UnreadConfig{ReconcileInterval: time.Hour, RecountMinInterval: time.Second},
		Presence: config.PresenceConfig{
			HeartbeatWindow:  time.Minute,
			RoomPollInterval: time.Minute,
			Rooms:            []config.RoomConfig{{Key: "chat", Table: "chat_room_presence", Cutoff: time.Minute}},
		},
		Media: config.MediaConfig{AckTimeout: 200 * time.Millisecond},
	}
	transport := changefeed.NewMemoryTransport()
	unreadService := service.NewUnreadService(changefeed.NewFeed(transport), cfg.Unread,
		unread.NewDirectSource(&fakeThreads{count: direct}), unread.NewMessengerSource(&fakeThreads{count: messenger}))
	t.Cleanup(unreadService.Close)
	presenceService := service.NewPresenceService(fakeProfiles{}, fakeRoomCounter{}, cfg.Presence)
	return NewWsServer(cfg, nil, unreadService, presenceService), transport
}

func request(t *testing.T, id int32, data interface{}) []byte {
	t.Helper()
	req := WSRequest{ReqIdentifier: id, MsgIncr: "1"}
	if data != nil {
		b, err := Encode(data)
		require.NoError(t, err)
		req.Data = b
	}
	out, err := json.Marshal(req)
	require.NoError(t, err)
	return out
}

func TestClient_UnknownRequest(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)

	require.NoError(t, c.handleMessage(request(t, 9999, nil)))
	resp := conn.next(t)
	assert.Equal(t, int32(9999), resp.ReqIdentifier)
	assert.Equal(t, 1, resp.ErrCode)
}

func TestClient_SendIdMismatch(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)

	raw, _ := json.Marshal(WSRequest{ReqIdentifier: WSGetUnread, SendId: "u2"})
	require.NoError(t, c.handleMessage(raw))
	assert.Equal(t, ErrSendIdMismatch.Error(), conn.next(t).ErrMsg)
}

func TestClient_GetUnreadAndPresence(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)

	require.NoError(t, c.handleMessage(request(t, WSGetUnread, nil)))
	resp := conn.next(t)
	require.Equal(t, 0, resp.ErrCode, resp.ErrMsg)
	var counts UnreadData
	require.NoError(t, Decode(resp.Data, &counts))
	assert.Equal(t, map[string]int64{"direct": 3, "messenger": 1}, counts.Counts)

	require.NoError(t, c.handleMessage(request(t, WSGetUnread, GetUnreadReq{Kind: "group"})))
	assert.Equal(t, errcode.ErrUnknownUnreadKind.Code, conn.next(t).ErrCode)

	require.NoError(t, c.handleMessage(request(t, WSFilterOnline, FilterOnlineReq{UserIds: []string{"u2", "ghost", "u1"}})))
	var filtered FilterOnlineResp
	require.NoError(t, Decode(conn.next(t).Data, &filtered))
	assert.Equal(t, []string{"u2", "u1"}, filtered.UserIds)

	require.NoError(t, c.handleMessage(request(t, WSResolvePresence, ResolvePresenceReq{UserId: "ghost"})))
	var st map[string]interface{}
	require.NoError(t, Decode(conn.next(t).Data, &st))
	assert.Equal(t, false, st["is_online"])

	require.NoError(t, c.handleMessage(request(t, WSGetRoomCounts, nil)))
	var rooms RoomCountsData
	require.NoError(t, Decode(conn.next(t).Data, &rooms))
	assert.Equal(t, map[string]int64{"chat": 2}, rooms.Counts)
}

func TestRemoteHandle_PlayWaitsForAck(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)
	h := NewRemoteHandle(c, "m1")

	done := make(chan error, 1)
	go func() { done <- h.Play(context.Background()) }()

	push := conn.next(t)
	require.Equal(t, int32(WSPushMediaCommand), push.ReqIdentifier)
	var cmd MediaCommand
	require.NoError(t, Decode(push.Data, &cmd))
	assert.Equal(t, constant.MediaActionPlay, cmd.Action)
	require.NotEmpty(t, cmd.RequestId)

	require.NoError(t, c.resolveAck(MediaAckReq{RequestId: cmd.RequestId, Ok: true}))
	require.NoError(t, <-done)

	assert.ErrorIs(t, c.resolveAck(MediaAckReq{RequestId: cmd.RequestId, Ok: true}), ErrUnknownAck)
}

func TestRemoteHandle_PlayRejectedAndTimeout(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)
	h := NewRemoteHandle(c, "m1")

	done := make(chan error, 1)
	go func() { done <- h.Play(context.Background()) }()
	var cmd MediaCommand
	require.NoError(t, Decode(conn.next(t).Data, &cmd))
	require.NoError(t, c.resolveAck(MediaAckReq{RequestId: cmd.RequestId, Error: "NotAllowedError"}))
	assert.EqualError(t, <-done, "NotAllowedError")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Play(ctx), ErrMediaAckTimeout)
}

func TestClient_MediaActivateOverWebsocket(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, c.handleMessage(request(t, WSMediaRegister, MediaReq{MediaId: id})))
		require.Equal(t, 0, conn.next(t).ErrCode)
	}

	require.NoError(t, c.handleMessage(request(t, WSMediaActivate, MediaReq{MediaId: "b"})))

	// silence "a", then unmute and play "b"
	var playId string
	var actions []string
	for playId == "" {
		resp := conn.next(t)
		require.Equal(t, int32(WSPushMediaCommand), resp.ReqIdentifier)
		var cmd MediaCommand
		require.NoError(t, Decode(resp.Data, &cmd))
		actions = append(actions, cmd.MediaId+":"+cmd.Action)
		if cmd.Action == constant.MediaActionPlay {
			playId = cmd.RequestId
		}
	}
	assert.Contains(t, actions, "a:pause")
	assert.Contains(t, actions, "a:mute")
	assert.Equal(t, "b:play", actions[len(actions)-1])

	require.NoError(t, c.handleMessage(request(t, WSMediaAck, MediaAckReq{RequestId: playId, Ok: true})))

	var activateResp WSResponse
	for activateResp.ReqIdentifier != WSMediaActivate {
		activateResp = conn.next(t)
	}
	require.Equal(t, 0, activateResp.ErrCode, activateResp.ErrMsg)
	assert.True(t, c.media.IsActive("b"))
}

// nextPlay reads frames until the play command and returns its request id
func nextPlay(t *testing.T, conn *fakeConn) string {
	t.Helper()
	for {
		resp := conn.next(t)
		if resp.ReqIdentifier != WSPushMediaCommand {
			continue
		}
		var cmd MediaCommand
		require.NoError(t, Decode(resp.Data, &cmd))
		if cmd.Action == constant.MediaActionPlay {
			return cmd.RequestId
		}
	}
}

func nextResponse(t *testing.T, conn *fakeConn, id int32) WSResponse {
	t.Helper()
	for {
		if resp := conn.next(t); resp.ReqIdentifier == id {
			return resp
		}
	}
}

func TestClient_RegisterWhilePlayPending(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)

	require.NoError(t, c.handleMessage(request(t, WSMediaRegister, MediaReq{MediaId: "a"})))
	require.Equal(t, 0, nextResponse(t, conn, WSMediaRegister).ErrCode)

	require.NoError(t, c.handleMessage(request(t, WSMediaActivate, MediaReq{MediaId: "a"})))
	playId := nextPlay(t, conn)

	// the read loop keeps serving media requests while the ack is outstanding
	start := time.Now()
	require.NoError(t, c.handleMessage(request(t, WSMediaRegister, MediaReq{MediaId: "b"})))
	require.NoError(t, c.handleMessage(request(t, WSMediaToggleMute, MediaReq{MediaId: "b", Muted: true})))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, nextResponse(t, conn, WSMediaRegister).ErrCode)
	assert.Equal(t, 0, nextResponse(t, conn, WSMediaToggleMute).ErrCode)

	require.NoError(t, c.handleMessage(request(t, WSMediaAck, MediaAckReq{RequestId: playId, Ok: true})))
	resp := nextResponse(t, conn, WSMediaActivate)
	require.Equal(t, 0, resp.ErrCode, resp.ErrMsg)
	assert.True(t, c.media.IsActive("a"))
	assert.Equal(t, 2, c.media.Len())
}

func TestClient_DeactivateWhilePlayPending(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)

	require.NoError(t, c.handleMessage(request(t, WSMediaRegister, MediaReq{MediaId: "a"})))
	require.NoError(t, c.handleMessage(request(t, WSMediaActivate, MediaReq{MediaId: "a"})))
	playId := nextPlay(t, conn)

	require.NoError(t, c.handleMessage(request(t, WSMediaDeactivate, MediaReq{MediaId: "a"})))
	assert.Equal(t, 0, nextResponse(t, conn, WSMediaDeactivate).ErrCode)

	require.NoError(t, c.handleMessage(request(t, WSMediaAck, MediaAckReq{RequestId: playId, Ok: true})))
	resp := nextResponse(t, conn, WSMediaActivate)
	assert.Equal(t, errcode.ErrMediaCancelled.Code, resp.ErrCode)
	assert.False(t, c.media.IsActive("a"))
}

func TestClient_MediaActivateAckTimeout(t *testing.T) {
	s, _ := newTestServer(t)
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)

	require.NoError(t, c.handleMessage(request(t, WSMediaRegister, MediaReq{MediaId: "a"})))
	require.NoError(t, c.handleMessage(request(t, WSMediaActivate, MediaReq{MediaId: "a"})))

	var resp WSResponse
	for resp.ReqIdentifier != WSMediaActivate {
		resp = conn.next(t)
	}
	assert.Equal(t, errcode.ErrMediaAckTimeout.Code, resp.ErrCode)
	assert.False(t, c.media.IsActive("a"))

	require.NoError(t, c.handleMessage(request(t, WSMediaToggleMute, MediaReq{MediaId: "zzz"})))
	for resp = conn.next(t); resp.ReqIdentifier != WSMediaToggleMute; resp = conn.next(t) {
	}
	assert.Equal(t, errcode.ErrMediaNotRegistered.Code, resp.ErrCode)
}

func TestWsServer_RegisterOpensAndReleasesSession(t *testing.T) {
	s, transport := newTestServer(t)
	ctx := context.Background()
	c1 := NewClient(newFakeConn(), "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)
	c2 := NewClient(newFakeConn(), "u1", constant.PlatformIdIOS, SDKTypeGo, "", "c2", s)

	s.registerClient(ctx, c1)
	s.registerClient(ctx, c2)
	assert.Equal(t, int64(1), s.GetOnlineUserCount())
	assert.Equal(t, int64(2), s.GetOnlineConnCount())
	assert.Equal(t, 1, s.unreadService.SessionCount())
	assert.Equal(t, 1, transport.Subscribers("messages"))

	s.unregisterClient(ctx, c1)
	assert.Equal(t, 1, s.unreadService.SessionCount())

	s.unregisterClient(ctx, c2)
	s.unregisterClient(ctx, c2)
	assert.Equal(t, 0, s.unreadService.SessionCount())
	assert.Equal(t, int64(0), s.GetOnlineUserCount())
	assert.Equal(t, int64(0), s.GetOnlineConnCount())
}

func TestWsServer_ZeroCountsPushedOnFirstLoad(t *testing.T) {
	s, _ := newTestServerWithCounts(t, 0, 0)
	ctx := context.Background()
	conn := newFakeConn()
	c := NewClient(conn, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)
	s.registerClient(ctx, c)

	counts := make(map[string]int64)
	deadline := time.After(time.Second)
	for len(counts) < 2 {
		select {
		case task := <-s.pushChan:
			s.processPushTask(ctx, task)
			resp := conn.next(t)
			require.Equal(t, int32(WSPushUnread), resp.ReqIdentifier)
			var data UnreadData
			require.NoError(t, Decode(resp.Data, &data))
			for kind, n := range data.Counts {
				counts[kind] = n
			}
		case <-deadline:
			t.Fatalf("initial unread counts not pushed: %v", counts)
		}
	}
	assert.Equal(t, map[string]int64{"direct": 0, "messenger": 0}, counts)
}

func TestWsServer_ProcessPushTaskTargetsConnection(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	conn1, conn2 := newFakeConn(), newFakeConn()
	c1 := NewClient(conn1, "u1", constant.PlatformIdWeb, SDKTypeJS, "", "c1", s)
	c2 := NewClient(conn2, "u1", constant.PlatformIdIOS, SDKTypeGo, "", "c2", s)
	s.userMap.Register(ctx, c1)
	s.userMap.Register(ctx, c2)

	s.processPushTask(ctx, &PushTask{ReqIdentifier: WSPushUnread, Data: []byte(`{"counts":{"direct":1}}`), UserIds: []string{"u1"}, ConnId: "c2"})
	assert.Equal(t, int32(WSPushUnread), conn2.next(t).ReqIdentifier)
	assert.Len(t, conn1.out, 0)

	s.processPushTask(ctx, &PushTask{ReqIdentifier: WSPushRoomCounts, Data: []byte(`{"counts":{}}`)})
	assert.Equal(t, int32(WSPushRoomCounts), conn1.next(t).ReqIdentifier)
	assert.Equal(t, int32(WSPushRoomCounts), conn2.next(t).ReqIdentifier)
}

func TestMediaErrorMapping(t *testing.T) {
	assert.Nil(t, mediaError(nil))
	assert.Equal(t, errcode.ErrMediaNotRegistered, mediaError(media.ErrNotRegistered))

	var e *errcode.Error
	require.ErrorAs(t, mediaError(errors.Join(media.ErrPlaybackRejected, errors.New("autoplay"))), &e)
	assert.Equal(t, errcode.ErrPlaybackRejected.Code, e.Code)
}
