package gateway

import "encoding/json"

// WSRequest represents a WebSocket request message
type WSRequest struct {
	ReqIdentifier int32  `json:"req_identifier"` // Request type
	MsgIncr       string `json:"msg_incr"`       // Client message counter/trace Id
	OperationId   string `json:"operation_id"`   // Operation Id
	Token         string `json:"token"`          // JWT token (optional, used in handshake)
	SendId        string `json:"send_id"`        // Sender user Id
	Data          []byte `json:"data"`           // Business data
}

// WSResponse represents a WebSocket response message
type WSResponse struct {
	ReqIdentifier int32  `json:"req_identifier"` // Request type (echo back)
	MsgIncr       string `json:"msg_incr"`       // Message counter (echo back)
	OperationId   string `json:"operation_id"`   // Operation Id (echo back)
	ErrCode       int    `json:"err_code"`       // Error code, 0 = success
	ErrMsg        string `json:"err_msg"`        // Error message
	Data          []byte `json:"data"`           // Response data
}

// GetUnreadReq asks for one counter; an empty kind returns every kind
type GetUnreadReq struct {
	Kind  string `json:"kind,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// UnreadData carries counts by kind, in responses and WSPushUnread
type UnreadData struct {
	Counts map[string]int64 `json:"counts"`
}

// ResolvePresenceReq represents resolve presence request data
type ResolvePresenceReq struct {
	UserId string `json:"user_id"`
}

// FilterOnlineReq represents filter online request data
type FilterOnlineReq struct {
	UserIds []string `json:"user_ids"`
}

// FilterOnlineResp represents filter online response data
type FilterOnlineResp struct {
	UserIds []string `json:"user_ids"`
}

// RoomCountsData carries active counts per room, in responses and WSPushRoomCounts
type RoomCountsData struct {
	Counts map[string]int64 `json:"counts"`
}

// VisibilityReq reports the client tab visibility
type VisibilityReq struct {
	Visible bool `json:"visible"`
}

// MediaReq addresses one media element of the connection
type MediaReq struct {
	MediaId string `json:"media_id"`
	Muted   bool   `json:"muted,omitempty"`
}

// MediaToggleResp reports the state after a toggle
type MediaToggleResp struct {
	MediaId string `json:"media_id"`
	Active  bool   `json:"active"`
}

// MediaCommand is pushed with WSPushMediaCommand; play commands carry a
// request id the client acknowledges with WSMediaAck
type MediaCommand struct {
	MediaId   string `json:"media_id"`
	Action    string `json:"action"`
	RequestId string `json:"request_id,omitempty"`
}

// MediaAckReq acknowledges a play command
type MediaAckReq struct {
	RequestId string `json:"request_id"`
	Ok        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// KickData is pushed with WSKickOnlineMsg
type KickData struct {
	Reason string `json:"reason"`
}

// Encode encodes data to JSON bytes
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to struct
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
