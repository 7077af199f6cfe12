package gateway

import (
	"context"
	"errors"

	"github.com/chatsev/realtime/pkg/constant"
	"github.com/chatsev/realtime/pkg/idgen"
	"github.com/mbeoliero/kit/log"
)

// RemoteHandle is a media.Handle for a player living in the browser. Commands
// are pushed over the client's connection; Play waits for the client's ack.
type RemoteHandle struct {
	client  *Client
	mediaId string
}

// NewRemoteHandle creates a handle for mediaId on client
func NewRemoteHandle(client *Client, mediaId string) *RemoteHandle {
	return &RemoteHandle{client: client, mediaId: mediaId}
}

// Play asks the client to start playback and blocks until it acks or ctx ends
func (h *RemoteHandle) Play(ctx context.Context) error {
	requestId := idgen.NextRequestId()
	ack := h.client.expectAck(requestId)
	defer h.client.dropAck(requestId)

	if err := h.client.push(WSPushMediaCommand, MediaCommand{
		MediaId:   h.mediaId,
		Action:    constant.MediaActionPlay,
		RequestId: requestId,
	}); err != nil {
		return err
	}

	select {
	case res := <-ack:
		if !res.Ok {
			if res.Error == "" {
				res.Error = "play refused"
			}
			return errors.New(res.Error)
		}
		return nil
	case <-ctx.Done():
		return ErrMediaAckTimeout
	}
}

// Pause asks the client to pause
func (h *RemoteHandle) Pause() {
	h.send(constant.MediaActionPause)
}

// SetMuted asks the client to mute or unmute
func (h *RemoteHandle) SetMuted(muted bool) {
	if muted {
		h.send(constant.MediaActionMute)
		return
	}
	h.send(constant.MediaActionUnmute)
}

// Reset asks the client to rewind
func (h *RemoteHandle) Reset() {
	h.send(constant.MediaActionReset)
}

func (h *RemoteHandle) send(action string) {
	if err := h.client.push(WSPushMediaCommand, MediaCommand{MediaId: h.mediaId, Action: action}); err != nil {
		log.Debug("media command dropped: user_id=%s, media_id=%s, action=%s, error=%v", h.client.UserId, h.mediaId, action, err)
	}
}
