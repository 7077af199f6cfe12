package repository

import (
	"context"
	"errors"

	"github.com/chatsev/realtime/internal/entity"
	"gorm.io/gorm"
)

// ProfileRepo is the repository for profile presence columns
type ProfileRepo struct {
	db *gorm.DB
}

// NewProfileRepo creates a new ProfileRepo
func NewProfileRepo(db *gorm.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetById gets a profile by Id, nil if it does not exist
func (r *ProfileRepo) GetById(ctx context.Context, id string) (*entity.Profile, error) {
	var p entity.Profile
	err := r.db.WithContext(ctx).
		Select("id", "online_visible_until", "last_seen", "is_invisible").
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetInvisibleFlags returns the invisibility flag of each id in one query.
// Ids without a profile are absent from the result.
func (r *ProfileRepo) GetInvisibleFlags(ctx context.Context, ids []string) (map[string]bool, error) {
	flags := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return flags, nil
	}

	var rows []*entity.Profile
	err := r.db.WithContext(ctx).
		Select("id", "is_invisible").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, p := range rows {
		flags[p.Id] = p.IsInvisible
	}
	return flags, nil
}

// TouchOnline extends the online visibility window and records last seen
func (r *ProfileRepo) TouchOnline(ctx context.Context, id string, visibleUntil, lastSeen int64) error {
	return r.db.WithContext(ctx).
		Model(&entity.Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"online_visible_until": visibleUntil,
			"last_seen":            lastSeen,
		}).Error
}
