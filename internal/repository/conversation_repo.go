package repository

import (
	"context"
	"errors"

	"github.com/chatsev/realtime/internal/entity"
	"gorm.io/gorm"
)

// ConversationRepo is the repository for direct conversations and their messages
type ConversationRepo struct {
	db *gorm.DB
}

// NewConversationRepo creates a new ConversationRepo
func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetById gets a conversation by Id, nil if it does not exist
func (r *ConversationRepo) GetById(ctx context.Context, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// ListThreadStates returns the viewer's state for every direct thread the
// viewer takes part in, including threads the viewer deleted
func (r *ConversationRepo) ListThreadStates(ctx context.Context, viewerId string) ([]entity.ThreadState, error) {
	var convs []*entity.Conversation
	err := r.db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", viewerId, viewerId).
		Find(&convs).Error
	if err != nil {
		return nil, err
	}

	states := make([]entity.ThreadState, 0, len(convs))
	for _, c := range convs {
		states = append(states, entity.ThreadState{
			ThreadId:  c.Id,
			ClearedAt: c.ClearedAtFor(viewerId),
			Deleted:   c.DeletedFor(viewerId),
		})
	}
	return states, nil
}

// CountUnread counts messages addressed to the viewer that are unread, newer
// than the viewer's cleared-at watermark and in threads the viewer kept
func (r *ConversationRepo) CountUnread(ctx context.Context, viewerId string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("messages AS m").
		Joins("JOIN conversations AS c ON c.id = m.conversation_id").
		Where("m.sender_id <> ? AND m.is_read = ?", viewerId, false).
		Where(
			r.db.Where("c.user1_id = ? AND c.user1_deleted = ? AND m.created_at > c.user1_cleared_at", viewerId, false).
				Or("c.user2_id = ? AND c.user2_deleted = ? AND m.created_at > c.user2_cleared_at", viewerId, false),
		).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Revive clears the viewer's deleted flag on a conversation
func (r *ConversationRepo) Revive(ctx context.Context, viewerId, conversationId string) error {
	conv, err := r.GetById(ctx, conversationId)
	if err != nil {
		return err
	}
	if conv == nil || !conv.HasParticipant(viewerId) {
		return gorm.ErrRecordNotFound
	}
	if !conv.DeletedFor(viewerId) {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&entity.Conversation{}).
		Where("id = ?", conversationId).
		Update(conv.DeletedColumnFor(viewerId), false).Error
}
