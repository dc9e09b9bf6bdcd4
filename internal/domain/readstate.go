package domain

import "time"

// ReadCursor is the highest message id a user acknowledged in a chat.
// LastReadMessageID never moves backward.
type ReadCursor struct {
	UserID            UserID    `json:"user_id"`
	ChatID            ChatID    `json:"chat_id"`
	LastReadMessageID MessageID `json:"last_read_message_id"`
	LastReadAt        time.Time `json:"last_read_at"`
}

// ReadResult is what a mark-as-read returns. Advanced reports whether the
// stored cursor moved.
type ReadResult struct {
	ChatID            ChatID    `json:"chat_id"`
	LastReadMessageID MessageID `json:"last_read_message_id"`
	LastReadAt        time.Time `json:"last_read_at"`
	UnreadCount       int64     `json:"unread_count"`
	Advanced          bool      `json:"-"`
}

type ChatReadInfo struct {
	ChatID               ChatID     `json:"chat_id"`
	LastReadMessageID    MessageID  `json:"last_read_message_id"`
	LastReadAt           *time.Time `json:"last_read_at,omitempty"`
	UnreadCount          int64      `json:"unread_count"`
	FirstUnreadMessageID MessageID  `json:"first_unread_message_id,omitempty"`
}

type ChatUnread struct {
	ChatID      ChatID `json:"chat_id"`
	UnreadCount int64  `json:"unread_count"`
}

type AllUnreadCounts struct {
	PerChat     []ChatUnread `json:"per_chat"`
	TotalUnread int64        `json:"total_unread"`
}
