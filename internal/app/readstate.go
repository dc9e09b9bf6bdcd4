package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const unreadWorkers = 8

func pairKey(user domain.UserID, chat domain.ChatID) string {
	return string(user) + "\x00" + string(chat)
}

// ReadStateService owns the read cursor protocol. The cursor of a pair only
// moves forward and the unread count is always derived from it.
type ReadStateService struct {
	repo  core.Repository
	cache *MembershipCache
	locks KeyedMutex
	now   func() time.Time
}

func NewReadStateService(repo core.Repository, cache *MembershipCache) *ReadStateService {
	return &ReadStateService{repo: repo, cache: cache, now: time.Now}
}

// Authorize resolves the membership of (user, chat) through the cache.
func (s *ReadStateService) Authorize(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.Membership, error) {
	if user == "" {
		return nil, domain.ErrUnauthenticated
	}
	if chat == "" {
		return nil, fmt.Errorf("%w: empty chat id", domain.ErrInvalidArgument)
	}
	m, err := s.cache.GetMembership(ctx, user, chat, func(ctx context.Context) (*domain.Membership, error) {
		return s.repo.LoadMembership(ctx, user, chat)
	})
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	if m == nil {
		return nil, domain.ErrForbidden
	}
	return m, nil
}

// MarkRead advances the cursor of (user, chat) to upTo, or to the newest
// message when upTo is nil. Targets beyond the newest message are clamped.
func (s *ReadStateService) MarkRead(ctx context.Context, user domain.UserID, chat domain.ChatID, upTo *domain.MessageID) (domain.ReadResult, error) {
	if upTo != nil && *upTo < 0 {
		return domain.ReadResult{}, fmt.Errorf("%w: negative message id", domain.ErrInvalidArgument)
	}
	if _, err := s.Authorize(ctx, user, chat); err != nil {
		return domain.ReadResult{}, err
	}

	unlock := s.locks.Lock(pairKey(user, chat))
	defer unlock()
	if err := ctx.Err(); err != nil {
		return domain.ReadResult{}, err
	}

	newest, err := s.repo.LoadNewestMessageID(ctx, chat)
	if err != nil {
		return domain.ReadResult{}, fmt.Errorf("load newest message: %w", err)
	}
	target := newest
	if upTo != nil && *upTo < newest {
		target = *upTo
	}

	prev, err := s.repo.LoadReadCursor(ctx, user, chat)
	if err != nil {
		return domain.ReadResult{}, fmt.Errorf("load read cursor: %w", err)
	}

	var stored domain.ReadCursor
	if prev != nil && target <= prev.LastReadMessageID {
		stored = *prev
	} else {
		stored, err = s.repo.PersistReadCursor(ctx, user, chat, target, s.now().UTC())
		if err != nil {
			return domain.ReadResult{}, fmt.Errorf("persist read cursor: %w", err)
		}
	}

	advanced := stored.LastReadMessageID > 0
	if prev != nil {
		advanced = stored.LastReadMessageID > prev.LastReadMessageID
	}

	unread, err := s.repo.CountMessagesAfter(ctx, chat, stored.LastReadMessageID)
	if err != nil {
		return domain.ReadResult{}, fmt.Errorf("count unread: %w", err)
	}

	if advanced {
		log.Debug().
			Str("module", "app.readstate").
			Str("user", string(user)).
			Str("chat", string(chat)).
			Int64("cursor", int64(stored.LastReadMessageID)).
			Int64("unread", unread).
			Msg("cursor advanced")
	}
	return domain.ReadResult{
		ChatID:            chat,
		LastReadMessageID: stored.LastReadMessageID,
		LastReadAt:        stored.LastReadAt,
		UnreadCount:       unread,
		Advanced:          advanced,
	}, nil
}

func (s *ReadStateService) MarkMessageRead(ctx context.Context, user domain.UserID, chat domain.ChatID, message domain.MessageID) (domain.ReadResult, error) {
	return s.MarkRead(ctx, user, chat, &message)
}

func (s *ReadStateService) GetChatReadInfo(ctx context.Context, user domain.UserID, chat domain.ChatID) (domain.ChatReadInfo, error) {
	if _, err := s.Authorize(ctx, user, chat); err != nil {
		return domain.ChatReadInfo{}, err
	}
	return s.readInfo(ctx, user, chat)
}

func (s *ReadStateService) readInfo(ctx context.Context, user domain.UserID, chat domain.ChatID) (domain.ChatReadInfo, error) {
	info := domain.ChatReadInfo{ChatID: chat}
	cursor, err := s.repo.LoadReadCursor(ctx, user, chat)
	if err != nil {
		return info, fmt.Errorf("load read cursor: %w", err)
	}
	if cursor != nil {
		at := cursor.LastReadAt
		info.LastReadMessageID = cursor.LastReadMessageID
		info.LastReadAt = &at
	}
	info.UnreadCount, err = s.repo.CountMessagesAfter(ctx, chat, info.LastReadMessageID)
	if err != nil {
		return info, fmt.Errorf("count unread: %w", err)
	}
	if info.UnreadCount > 0 {
		info.FirstUnreadMessageID, err = s.repo.FirstMessageAfter(ctx, chat, info.LastReadMessageID)
		if err != nil {
			return info, fmt.Errorf("first unread: %w", err)
		}
	}
	return info, nil
}

// GetAllUnreadCounts reports unread counts over the user's current chats.
// PerChat keeps the order of the membership list.
func (s *ReadStateService) GetAllUnreadCounts(ctx context.Context, user domain.UserID) (domain.AllUnreadCounts, error) {
	if user == "" {
		return domain.AllUnreadCounts{}, domain.ErrUnauthenticated
	}
	chats, err := s.UserChatIDs(ctx, user)
	if err != nil {
		return domain.AllUnreadCounts{}, err
	}

	per := make([]domain.ChatUnread, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unreadWorkers)
	for i, chat := range chats {
		g.Go(func() error {
			info, err := s.readInfo(gctx, user, chat)
			if err != nil {
				return fmt.Errorf("chat %s: %w", chat, err)
			}
			per[i] = domain.ChatUnread{ChatID: chat, UnreadCount: info.UnreadCount}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.AllUnreadCounts{}, err
	}

	out := domain.AllUnreadCounts{PerChat: per}
	for _, c := range per {
		out.TotalUnread += c.UnreadCount
	}
	return out, nil
}

// UserChatIDs returns the user's chats through the membership cache.
func (s *ReadStateService) UserChatIDs(ctx context.Context, user domain.UserID) ([]domain.ChatID, error) {
	chats, err := s.cache.GetUserChatIDs(ctx, user, func(ctx context.Context) ([]domain.ChatID, error) {
		return s.repo.LoadUserChatIDs(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("load user chats: %w", err)
	}
	return chats, nil
}

// CursorOf returns the stored cursor, nil when the user never read the chat.
func (s *ReadStateService) CursorOf(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.ReadCursor, error) {
	return s.repo.LoadReadCursor(ctx, user, chat)
}
