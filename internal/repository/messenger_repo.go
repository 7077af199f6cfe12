package repository

import (
	"context"

	"github.com/chatsev/realtime/internal/entity"
	"gorm.io/gorm"
)

// MessengerRepo is the repository for messenger threads
type MessengerRepo struct {
	db *gorm.DB
}

// NewMessengerRepo creates a new MessengerRepo
func NewMessengerRepo(db *gorm.DB) *MessengerRepo {
	return &MessengerRepo{db: db}
}

// ListThreadStates returns the viewer's participant state in every messenger thread
func (r *MessengerRepo) ListThreadStates(ctx context.Context, viewerId string) ([]entity.ThreadState, error) {
	var parts []*entity.MessengerParticipant
	err := r.db.WithContext(ctx).Where("user_id = ?", viewerId).Find(&parts).Error
	if err != nil {
		return nil, err
	}

	states := make([]entity.ThreadState, 0, len(parts))
	for _, p := range parts {
		states = append(states, entity.ThreadState{
			ThreadId:  p.ConversationId,
			ClearedAt: p.ClearedAt,
			Deleted:   p.IsDeleted,
		})
	}
	return states, nil
}

// CountUnread counts unread messenger messages from others, newer than the
// viewer's watermark, in threads the viewer has not deleted
func (r *MessengerRepo) CountUnread(ctx context.Context, viewerId string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("messenger_messages AS m").
		Joins("JOIN messenger_participants AS p ON p.conversation_id = m.conversation_id AND p.user_id = ?", viewerId).
		Where("p.is_deleted = ? AND m.created_at > p.cleared_at", false).
		Where("m.sender_id <> ? AND m.is_read = ?", viewerId, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Revive clears the viewer's deleted flag on a messenger thread
func (r *MessengerRepo) Revive(ctx context.Context, viewerId, conversationId string) error {
	res := r.db.WithContext(ctx).
		Model(&entity.MessengerParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationId, viewerId).
		Update("is_deleted", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		err := r.db.WithContext(ctx).Model(&entity.MessengerParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationId, viewerId).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}
