package core

import (
	"context"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

// Repository is the narrow persistence contract the realtime core needs.
// Chats, messages and users are owned elsewhere; the core only reads
// membership and message ordering and writes cursors and last-online stamps.
type Repository interface {
	LoadUserChatIDs(ctx context.Context, user domain.UserID) ([]domain.ChatID, error)
	// LoadMembership returns nil, nil when the user is not a member.
	LoadMembership(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.Membership, error)
	LoadChatMemberIDs(ctx context.Context, chat domain.ChatID) ([]domain.UserID, error)

	// LoadNewestMessageID returns 0 for an empty chat.
	LoadNewestMessageID(ctx context.Context, chat domain.ChatID) (domain.MessageID, error)
	CountMessagesAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (int64, error)
	// FirstMessageAfter returns 0 when no message follows after.
	FirstMessageAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (domain.MessageID, error)

	// LoadReadCursor returns nil, nil when the user never read the chat.
	LoadReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.ReadCursor, error)
	// PersistReadCursor stores max(existing, messageID) and returns the stored
	// cursor. LastReadAt only changes when the id advances.
	PersistReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID, messageID domain.MessageID, at time.Time) (domain.ReadCursor, error)
	PersistLastOnline(ctx context.Context, user domain.UserID, at time.Time) error
}
