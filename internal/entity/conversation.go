package entity

// Conversation represents a direct two-party thread. Each participant keeps its
// own cleared-at watermark and deleted flag.
type Conversation struct {
	Id             string `json:"id" gorm:"column:id;primaryKey" mapstructure:"id"`
	User1Id        string `json:"user1_id" gorm:"column:user1_id" mapstructure:"user1_id"`
	User2Id        string `json:"user2_id" gorm:"column:user2_id" mapstructure:"user2_id"`
	User1ClearedAt int64  `json:"user1_cleared_at" gorm:"column:user1_cleared_at" mapstructure:"user1_cleared_at"`
	User2ClearedAt int64  `json:"user2_cleared_at" gorm:"column:user2_cleared_at" mapstructure:"user2_cleared_at"`
	User1Deleted   bool   `json:"user1_deleted" gorm:"column:user1_deleted" mapstructure:"user1_deleted"`
	User2Deleted   bool   `json:"user2_deleted" gorm:"column:user2_deleted" mapstructure:"user2_deleted"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli" mapstructure:"created_at"`
	UpdatedAt      int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli" mapstructure:"updated_at"`
}

// TableName returns the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// HasParticipant reports whether userId is one of the two parties
func (c *Conversation) HasParticipant(userId string) bool {
	return c.User1Id == userId || c.User2Id == userId
}

// ClearedAtFor returns the viewer's cleared-at watermark, 0 if never cleared
func (c *Conversation) ClearedAtFor(viewerId string) int64 {
	switch viewerId {
	case c.User1Id:
		return c.User1ClearedAt
	case c.User2Id:
		return c.User2ClearedAt
	default:
		return 0
	}
}

// DeletedFor reports whether the viewer has hidden this thread
func (c *Conversation) DeletedFor(viewerId string) bool {
	switch viewerId {
	case c.User1Id:
		return c.User1Deleted
	case c.User2Id:
		return c.User2Deleted
	default:
		return false
	}
}

// DeletedColumnFor returns the deleted flag column that belongs to viewerId
func (c *Conversation) DeletedColumnFor(viewerId string) string {
	if viewerId == c.User1Id {
		return "user1_deleted"
	}
	return "user2_deleted"
}

// MessengerConversation represents a messenger thread
type MessengerConversation struct {
	Id        string `json:"id" gorm:"column:id;primaryKey" mapstructure:"id"`
	IsGroup   bool   `json:"is_group" gorm:"column:is_group" mapstructure:"is_group"`
	Title     string `json:"title" gorm:"column:title" mapstructure:"title"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli" mapstructure:"created_at"`
	UpdatedAt int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli" mapstructure:"updated_at"`
}

// TableName returns the table name for MessengerConversation
func (MessengerConversation) TableName() string {
	return "messenger_conversations"
}

// MessengerParticipant holds one viewer's state in a messenger thread
type MessengerParticipant struct {
	Id             int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement" mapstructure:"id"`
	ConversationId string `json:"conversation_id" gorm:"column:conversation_id" mapstructure:"conversation_id"`
	UserId         string `json:"user_id" gorm:"column:user_id" mapstructure:"user_id"`
	ClearedAt      int64  `json:"cleared_at" gorm:"column:cleared_at" mapstructure:"cleared_at"`
	IsDeleted      bool   `json:"is_deleted" gorm:"column:is_deleted" mapstructure:"is_deleted"`
	JoinedAt       int64  `json:"joined_at" gorm:"column:joined_at" mapstructure:"joined_at"`
}

// TableName returns the table name for MessengerParticipant
func (MessengerParticipant) TableName() string {
	return "messenger_participants"
}

// ThreadState is the viewer-scoped view of a thread used by unread counting
type ThreadState struct {
	ThreadId  string `json:"thread_id"`
	ClearedAt int64  `json:"cleared_at"`
	Deleted   bool   `json:"deleted"`
}
