package gateway

import "time"

// WebSocket protocol constants
const (
	// Request identifiers
	WSGetUnread       = 1001 // Get unread counts
	WSResolvePresence = 1002 // Resolve one user's presence
	WSFilterOnline    = 1003 // Filter visible online users
	WSGetRoomCounts   = 1004 // Get room active counts
	WSVisibility      = 1005 // Client visibility change
	WSMediaRegister   = 1010
	WSMediaUnregister = 1011
	WSMediaActivate   = 1012
	WSMediaDeactivate = 1013
	WSMediaToggleMute = 1014
	WSMediaTogglePlay = 1015
	WSMediaAck        = 1016 // Client ack of a play command

	// Push identifiers
	WSPushUnread       = 2001 // Unread counter changed
	WSKickOnlineMsg    = 2002 // Kick user offline
	WSPushRoomCounts   = 2003 // Room counts refreshed
	WSPushMediaCommand = 2004 // Media command for the client
	WSDataError        = 3001 // Data error
)

// WebSocket message types
const (
	MessageText   = 1
	MessageBinary = 2
)

// Timeout constants
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next pong message from the peer
	PongWait = 30 * time.Second

	// PingPeriod is period between pings. Must be less than PongWait
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is maximum message size allowed from peer
	MaxMessageSize = 51200

	// requestTimeout bounds one websocket request against the stores
	requestTimeout = 10 * time.Second
)

// Query parameter keys
const (
	QueryToken       = "token"
	QuerySendId      = "send_id"
	QueryPlatformId  = "platform_id"
	QueryOperationId = "operation_id"
	QuerySDKType     = "sdk_type"
)

// SDK types
const (
	SDKTypeGo = "go"
	SDKTypeJS = "js"
)
