package core

import (
	"strings"

	"github.com/dkeye/Chat/internal/domain"
)

// ConnID identifies one live transport connection.
type ConnID string

// ChannelID names a logical fan-out group.
type ChannelID string

const (
	chatChannelPrefix = "chat:"
	userChannelPrefix = "user:"
)

func ChatChannel(id domain.ChatID) ChannelID { return ChannelID(chatChannelPrefix + string(id)) }
func UserChannel(id domain.UserID) ChannelID { return ChannelID(userChannelPrefix + string(id)) }

// ChatOf reports the chat a channel belongs to, if it is chat-scoped.
func (c ChannelID) ChatOf() (domain.ChatID, bool) {
	s := string(c)
	if !strings.HasPrefix(s, chatChannelPrefix) {
		return "", false
	}
	return domain.ChatID(strings.TrimPrefix(s, chatChannelPrefix)), true
}

// Session binds a connection to the user who owns it.
// This is what a channel stores and fans out to.
type Session interface {
	ID() ConnID
	UserID() domain.UserID
	Signal() SignalConnection
}
