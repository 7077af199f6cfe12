package unread

import (
	"context"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/chatsev/realtime/internal/entity"
	"github.com/chatsev/realtime/pkg/constant"
)

// Source is the backing store of one counter kind
type Source interface {
	Kind() string
	// Table is the message table whose events move the counter
	Table() string
	// MessageFilter narrows the message feed to rows relevant to the viewer. A
	// Column without a Value is matched against the viewer's known threads.
	MessageFilter(viewerId string) changefeed.Filter
	// ThreadFilters select thread state rows (watermark, deleted flag) of the viewer
	ThreadFilters(viewerId string) []changefeed.Filter
	Recount(ctx context.Context, viewerId string) (int64, error)
	ThreadStates(ctx context.Context, viewerId string) ([]entity.ThreadState, error)
	Revive(ctx context.Context, viewerId, threadId string) error
	// Attribute maps a raw message row to the fields counting depends on
	Attribute(row map[string]any) (entity.MessageRef, error)
}

// ThreadStore is the query surface a Source runs on
type ThreadStore interface {
	CountUnread(ctx context.Context, viewerId string) (int64, error)
	ListThreadStates(ctx context.Context, viewerId string) ([]entity.ThreadState, error)
	Revive(ctx context.Context, viewerId, threadId string) error
}

type storeSource struct {
	store ThreadStore
}

func (s storeSource) Recount(ctx context.Context, viewerId string) (int64, error) {
	return s.store.CountUnread(ctx, viewerId)
}

func (s storeSource) ThreadStates(ctx context.Context, viewerId string) ([]entity.ThreadState, error) {
	return s.store.ListThreadStates(ctx, viewerId)
}

func (s storeSource) Revive(ctx context.Context, viewerId, threadId string) error {
	return s.store.Revive(ctx, viewerId, threadId)
}

// DirectSource counts direct messages (messages / conversations)
type DirectSource struct {
	storeSource
}

// NewDirectSource creates a DirectSource
func NewDirectSource(store ThreadStore) *DirectSource {
	return &DirectSource{storeSource{store: store}}
}

func (s *DirectSource) Kind() string  { return constant.UnreadKindDirect }
func (s *DirectSource) Table() string { return entity.DirectMessage{}.TableName() }

func (s *DirectSource) MessageFilter(viewerId string) changefeed.Filter {
	return changefeed.Filter{Table: s.Table(), Column: "recipient_id", Value: viewerId}
}

func (s *DirectSource) ThreadFilters(viewerId string) []changefeed.Filter {
	table := entity.Conversation{}.TableName()
	return []changefeed.Filter{
		{Table: table, Column: "user1_id", Value: viewerId},
		{Table: table, Column: "user2_id", Value: viewerId},
	}
}

func (s *DirectSource) Attribute(row map[string]any) (entity.MessageRef, error) {
	m, err := changefeed.DecodeRow[entity.DirectMessage](row)
	if err != nil {
		return entity.MessageRef{}, err
	}
	return entity.MessageRef{
		Id:        m.Id,
		ThreadId:  m.ConversationId,
		SenderId:  m.SenderId,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}, nil
}

// MessengerSource counts messenger messages (messenger_* tables)
type MessengerSource struct {
	storeSource
}

// NewMessengerSource creates a MessengerSource
func NewMessengerSource(store ThreadStore) *MessengerSource {
	return &MessengerSource{storeSource{store: store}}
}

func (s *MessengerSource) Kind() string  { return constant.UnreadKindMessenger }
func (s *MessengerSource) Table() string { return entity.MessengerMessage{}.TableName() }

// MessageFilter narrows by thread since messenger rows carry no recipient
func (s *MessengerSource) MessageFilter(viewerId string) changefeed.Filter {
	return changefeed.Filter{Table: s.Table(), Column: "conversation_id"}
}

func (s *MessengerSource) ThreadFilters(viewerId string) []changefeed.Filter {
	return []changefeed.Filter{
		{Table: entity.MessengerParticipant{}.TableName(), Column: "user_id", Value: viewerId},
	}
}

func (s *MessengerSource) Attribute(row map[string]any) (entity.MessageRef, error) {
	m, err := changefeed.DecodeRow[entity.MessengerMessage](row)
	if err != nil {
		return entity.MessageRef{}, err
	}
	return entity.MessageRef{
		Id:        m.Id,
		ThreadId:  m.ConversationId,
		SenderId:  m.SenderId,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}, nil
}
