package repository

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// RoomRepo counts active users in the configured room presence tables
type RoomRepo struct {
	db     *gorm.DB
	mu     sync.RWMutex
	tables map[string]struct{}
}

// NewRoomRepo creates a new RoomRepo limited to the given tables
func NewRoomRepo(db *gorm.DB, tables []string) *RoomRepo {
	r := &RoomRepo{db: db}
	r.SetTables(tables)
	return r
}

// SetTables replaces the table allow list, used on config reload
func (r *RoomRepo) SetTables(tables []string) {
	allowed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		allowed[t] = struct{}{}
	}
	r.mu.Lock()
	r.tables = allowed
	r.mu.Unlock()
}

func (r *RoomRepo) allowed(table string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[table]
	return ok
}

// CountActive counts distinct users in table active at or after sinceMilli.
// An empty roomId counts the whole table.
func (r *RoomRepo) CountActive(ctx context.Context, table, roomId string, sinceMilli int64) (int64, error) {
	if !r.allowed(table) {
		return 0, fmt.Errorf("room table %q is not configured", table)
	}

	q := r.db.WithContext(ctx).Table(table).Where("last_active_at >= ?", sinceMilli)
	if roomId != "" {
		q = q.Where("room_id = ?", roomId)
	}

	var count int64
	if err := q.Distinct("user_id").Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
