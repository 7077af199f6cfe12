package sdk

import (
	"errors"
	"fmt"
)

// Error represents an API error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %d, msg: %s", e.Code, e.Msg)
}

// NewError creates a new error
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// IsSuccess checks if the error code indicates success
func (e *Error) IsSuccess() bool {
	return e.Code == 0
}

// Error codes returned by the server
const (
	CodeSuccess = 0

	CodeInvalidParam   = 1001
	CodeInternalServer = 1002
	CodeUnauthorized   = 1003

	CodeTokenInvalid  = 2001
	CodeTokenExpired  = 2002
	CodeTokenMissing  = 2003
	CodeTokenMismatch = 2004

	CodeUnknownUnreadKind = 3001
	CodeRecountFailed     = 3002

	CodePresenceUnavailable = 4001
	CodeRoomCountFailed     = 4002
	CodeTooManyUserIds      = 4003

	CodeMediaNotRegistered = 6001
	CodePlaybackRejected   = 6002
	CodeMediaAckTimeout    = 6003
	CodeMediaCancelled     = 6004
)

// Client side errors
var (
	ErrNotConnected   = errors.New("sdk: websocket not connected")
	ErrRequestTimeout = errors.New("sdk: websocket request timed out")
	ErrConnectionLost = errors.New("sdk: websocket connection lost")
)
