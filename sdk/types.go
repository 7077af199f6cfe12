package sdk

import "encoding/json"

// Response represents the standard API response
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnreadResult is the answer of GET /unread
type UnreadResult struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

// PresenceStatus is a user's presence as seen by the caller. LastSeen is nil
// when unknown; IsInvisible is only set for the caller's own status.
type PresenceStatus struct {
	IsOnline    bool   `json:"is_online"`
	LastSeen    *int64 `json:"last_seen"`
	IsInvisible *bool  `json:"is_invisible,omitempty"`
}

// FilterOnlineRequest lists candidate user ids
type FilterOnlineRequest struct {
	UserIds []string `json:"user_ids"`
}

// UserIdList is a list of user ids
type UserIdList struct {
	UserIds []string `json:"user_ids"`
}

// Counts maps a kind or room key to a count
type Counts struct {
	Counts map[string]int64 `json:"counts"`
}

// HealthStatus is the answer of GET /health
type HealthStatus struct {
	Status      string `json:"status"`
	OnlineUsers int64  `json:"online_users"`
	OnlineConns int64  `json:"online_conns"`
}

// ===== WebSocket frames =====

// WSRequest is a websocket request frame
type WSRequest struct {
	ReqIdentifier int32  `json:"req_identifier"`
	MsgIncr       string `json:"msg_incr"`
	OperationId   string `json:"operation_id"`
	SendId        string `json:"send_id"`
	Data          []byte `json:"data"`
}

// WSResponse is a websocket response or push frame
type WSResponse struct {
	ReqIdentifier int32  `json:"req_identifier"`
	MsgIncr       string `json:"msg_incr"`
	OperationId   string `json:"operation_id"`
	ErrCode       int    `json:"err_code"`
	ErrMsg        string `json:"err_msg"`
	Data          []byte `json:"data"`
}

// MediaRequest addresses one media element
type MediaRequest struct {
	MediaId string `json:"media_id"`
	Muted   bool   `json:"muted,omitempty"`
}

// MediaToggleResult reports the state after a toggle
type MediaToggleResult struct {
	MediaId string `json:"media_id"`
	Active  bool   `json:"active"`
}

// MediaCommand is pushed by the server to drive a local player
type MediaCommand struct {
	MediaId   string `json:"media_id"`
	Action    string `json:"action"`
	RequestId string `json:"request_id,omitempty"`
}

// MediaAck acknowledges a play command
type MediaAck struct {
	RequestId string `json:"request_id"`
	Ok        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// KickNotice is pushed before the server closes the connection
type KickNotice struct {
	Reason string `json:"reason"`
}
