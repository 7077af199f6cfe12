// Package errcode defines the numeric error codes shared by the HTTP API and
// the websocket protocol.
package errcode

import (
	"errors"
	"fmt"
)

// Error represents a business error
type Error struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap returns a copy of e carrying err as its cause
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code:  e.Code,
		Msg:   fmt.Sprintf("%s: %v", e.Msg, err),
		cause: err,
	}
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so wrapped copies still match
// the sentinel they came from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code carried by err, or fallback when err is not an *Error.
func CodeOf(err error, fallback int) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return fallback
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam    = New(1001, "invalid parameter")
	ErrInternalServer  = New(1002, "internal server error")
	ErrUnauthorized    = New(1003, "unauthorized")
	ErrForbidden       = New(1004, "forbidden")
	ErrNotFound        = New(1005, "not found")
	ErrTooManyRequests = New(1006, "too many requests")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrTokenMismatch = New(2004, "token user mismatch")

	// Unread errors (3xxx)
	ErrUnknownUnreadKind = New(3001, "unknown unread kind")
	ErrRecountFailed     = New(3002, "unread recount failed")

	// Presence errors (4xxx)
	ErrPresenceUnavailable = New(4001, "presence unavailable")
	ErrRoomCountFailed     = New(4002, "room count failed")
	ErrTooManyUserIds      = New(4003, "too many user ids")

	// WebSocket errors (5xxx)
	ErrConnOverLimit   = New(5001, "connection over max limit")
	ErrConnClosed      = New(5002, "connection closed")
	ErrInvalidProtocol = New(5003, "invalid protocol")
	ErrPushFailed      = New(5004, "push message failed")

	// Media errors (6xxx)
	ErrMediaNotRegistered = New(6001, "media not registered")
	ErrPlaybackRejected   = New(6002, "playback rejected")
	ErrMediaAckTimeout    = New(6003, "media command not acknowledged")
	ErrMediaCancelled     = New(6004, "media activation cancelled")
)
