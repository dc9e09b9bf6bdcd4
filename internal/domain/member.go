package domain

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Membership authorizes a user to subscribe to and act within a chat.
// The source of truth lives in the repository; the core only caches it.
type Membership struct {
	UserID   UserID    `json:"user_id"`
	ChatID   ChatID    `json:"chat_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
