// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
)

const (
	MaxUserIDLen = 64
	MaxChatIDLen = 64
)

type UserID string

// ParseUserID trims and validates an authenticated identity.
// An empty identity is an authentication failure, not a bad request.
func ParseUserID(raw string) (UserID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrUnauthenticated
	}
	if len(id) > MaxUserIDLen {
		return "", ErrUnauthenticated
	}
	return UserID(id), nil
}
