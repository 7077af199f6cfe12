package entity

// DirectMessage represents a message in a direct conversation
type DirectMessage struct {
	Id             string `json:"id" gorm:"column:id;primaryKey" mapstructure:"id"`
	ConversationId string `json:"conversation_id" gorm:"column:conversation_id" mapstructure:"conversation_id"`
	SenderId       string `json:"sender_id" gorm:"column:sender_id" mapstructure:"sender_id"`
	RecipientId    string `json:"recipient_id" gorm:"column:recipient_id" mapstructure:"recipient_id"`
	Content        string `json:"content" gorm:"column:content" mapstructure:"content"`
	IsRead         bool   `json:"is_read" gorm:"column:is_read" mapstructure:"is_read"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at" mapstructure:"created_at"`
	UpdatedAt      int64  `json:"updated_at" gorm:"column:updated_at" mapstructure:"updated_at"`
}

// TableName returns the table name for DirectMessage
func (DirectMessage) TableName() string {
	return "messages"
}

// MessengerMessage represents a message in a messenger thread
type MessengerMessage struct {
	Id             string `json:"id" gorm:"column:id;primaryKey" mapstructure:"id"`
	ConversationId string `json:"conversation_id" gorm:"column:conversation_id" mapstructure:"conversation_id"`
	SenderId       string `json:"sender_id" gorm:"column:sender_id" mapstructure:"sender_id"`
	Content        string `json:"content" gorm:"column:content" mapstructure:"content"`
	IsRead         bool   `json:"is_read" gorm:"column:is_read" mapstructure:"is_read"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at" mapstructure:"created_at"`
	UpdatedAt      int64  `json:"updated_at" gorm:"column:updated_at" mapstructure:"updated_at"`
}

// TableName returns the table name for MessengerMessage
func (MessengerMessage) TableName() string {
	return "messenger_messages"
}

// MessageRef is the table-independent projection of a message that unread
// counting needs
type MessageRef struct {
	Id        string
	ThreadId  string
	SenderId  string
	IsRead    bool
	CreatedAt int64
}
