package sdk

// Version of this SDK, sent in the User-Agent header
const Version = "0.1.0"

const defaultUserAgent = "chatsev-go-sdk/" + Version

// Unread counter kinds
const (
	UnreadKindDirect    = "direct"
	UnreadKindMessenger = "messenger"
)

// Platform Ids
const (
	PlatformIdUnknown = 0
	PlatformIdIOS     = 1
	PlatformIdAndroid = 2
	PlatformIdWindows = 3
	PlatformIdMacOS   = 4
	PlatformIdWeb     = 5
)

// WebSocket request identifiers
const (
	WSGetUnread       = 1001
	WSResolvePresence = 1002
	WSFilterOnline    = 1003
	WSGetRoomCounts   = 1004
	WSVisibility      = 1005
	WSMediaRegister   = 1010
	WSMediaUnregister = 1011
	WSMediaActivate   = 1012
	WSMediaDeactivate = 1013
	WSMediaToggleMute = 1014
	WSMediaTogglePlay = 1015
	WSMediaAck        = 1016
)

// WebSocket push identifiers
const (
	WSPushUnread       = 2001
	WSKickOnlineMsg    = 2002
	WSPushRoomCounts   = 2003
	WSPushMediaCommand = 2004
)

// Media command actions
const (
	MediaActionPlay   = "play"
	MediaActionPause  = "pause"
	MediaActionMute   = "mute"
	MediaActionUnmute = "unmute"
	MediaActionReset  = "reset"
)
