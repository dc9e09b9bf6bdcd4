package domain

import (
	"fmt"
	"strings"
)

type (
	ChatID    string
	MessageID int64
)

func ParseChatID(raw string) (ChatID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: chat id is required", ErrInvalidArgument)
	}
	if len(id) > MaxChatIDLen {
		return "", fmt.Errorf("%w: chat id too long", ErrInvalidArgument)
	}
	return ChatID(id), nil
}
