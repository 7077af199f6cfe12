package gateway

import "errors"

var (
	ErrConnClosed       = errors.New("gateway: connection closed")
	ErrWriteChannelFull = errors.New("gateway: write channel full")
	ErrInvalidProtocol  = errors.New("gateway: invalid protocol")
	ErrPanic            = errors.New("gateway: read loop panic")

	// ErrSendIdMismatch is returned when a request names another user as sender
	ErrSendIdMismatch = errors.New("gateway: send_id does not match connection user")

	// ErrMediaAckTimeout is returned when a play command is not acknowledged in time
	ErrMediaAckTimeout = errors.New("gateway: media ack timeout")
	// ErrUnknownAck is returned for an ack without a pending play command
	ErrUnknownAck = errors.New("gateway: unknown media ack")
)
