package entity

// Profile holds the presence columns of a user profile
type Profile struct {
	Id                 string `json:"id" gorm:"column:id;primaryKey" mapstructure:"id"`
	Username           string `json:"username" gorm:"column:username" mapstructure:"username"`
	OnlineVisibleUntil int64  `json:"online_visible_until" gorm:"column:online_visible_until" mapstructure:"online_visible_until"`
	LastSeen           int64  `json:"last_seen" gorm:"column:last_seen" mapstructure:"last_seen"`
	IsInvisible        bool   `json:"is_invisible" gorm:"column:is_invisible" mapstructure:"is_invisible"`
	UpdatedAt          int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli" mapstructure:"updated_at"`
}

// TableName returns the table name for Profile
func (Profile) TableName() string {
	return "profiles"
}

// IsOnlineAt reports whether the visibility window is still open at nowMilli
func (p *Profile) IsOnlineAt(nowMilli int64) bool {
	return nowMilli < p.OnlineVisibleUntil
}

// RoomPresence is a row in one of the per-room presence tables
type RoomPresence struct {
	UserId       string `json:"user_id" gorm:"column:user_id" mapstructure:"user_id"`
	RoomId       string `json:"room_id" gorm:"column:room_id" mapstructure:"room_id"`
	LastActiveAt int64  `json:"last_active_at" gorm:"column:last_active_at" mapstructure:"last_active_at"`
}
