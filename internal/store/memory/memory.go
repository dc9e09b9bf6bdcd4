// Package memory is a mutex-guarded Repository for tests and development.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

type cursorKey struct {
	user domain.UserID
	chat domain.ChatID
}

type Store struct {
	mu         sync.RWMutex
	members    map[domain.ChatID]map[domain.UserID]domain.Membership
	messages   map[domain.ChatID][]domain.MessageID // ascending
	cursors    map[cursorKey]domain.ReadCursor
	lastOnline map[domain.UserID]time.Time
}

var _ core.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		members:    make(map[domain.ChatID]map[domain.UserID]domain.Membership),
		messages:   make(map[domain.ChatID][]domain.MessageID),
		cursors:    make(map[cursorKey]domain.ReadCursor),
		lastOnline: make(map[domain.UserID]time.Time),
	}
}

// AddMember seeds or updates a membership.
func (s *Store) AddMember(chat domain.ChatID, user domain.UserID, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[chat]
	if !ok {
		m = make(map[domain.UserID]domain.Membership)
		s.members[chat] = m
	}
	m[user] = domain.Membership{UserID: user, ChatID: chat, Role: role, JoinedAt: time.Now().UTC()}
}

func (s *Store) RemoveMember(chat domain.ChatID, user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[chat], user)
	if len(s.members[chat]) == 0 {
		delete(s.members, chat)
	}
}

// AppendMessages adds message ids to a chat, keeping them sorted and unique.
func (s *Store) AppendMessages(chat domain.ChatID, ids ...domain.MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(s.messages[chat], ids...)
	slices.Sort(all)
	s.messages[chat] = slices.Compact(all)
}

// SeedRange appends ids 1..n to chat.
func (s *Store) SeedRange(chat domain.ChatID, n int) {
	ids := make([]domain.MessageID, n)
	for i := range ids {
		ids[i] = domain.MessageID(i + 1)
	}
	s.AppendMessages(chat, ids...)
}

func (s *Store) LastOnline(user domain.UserID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.lastOnline[user]
	return at, ok
}

func (s *Store) LoadUserChatIDs(ctx context.Context, user domain.UserID) ([]domain.ChatID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ChatID
	for chat, m := range s.members {
		if _, ok := m[user]; ok {
			out = append(out, chat)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) LoadMembership(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[chat][user]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) LoadChatMemberIDs(ctx context.Context, chat domain.ChatID) ([]domain.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserID, 0, len(s.members[chat]))
	for user := range s.members[chat] {
		out = append(out, user)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) LoadNewestMessageID(ctx context.Context, chat domain.ChatID) (domain.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.messages[chat]
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[len(ids)-1], nil
}

func (s *Store) CountMessagesAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.messages[chat]
	i, _ := slices.BinarySearch(ids, after+1)
	return int64(len(ids) - i), nil
}

func (s *Store) FirstMessageAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (domain.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.messages[chat]
	i, _ := slices.BinarySearch(ids, after+1)
	if i == len(ids) {
		return 0, nil
	}
	return ids[i], nil
}

func (s *Store) LoadReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.ReadCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[cursorKey{user, chat}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) PersistReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID, id domain.MessageID, at time.Time) (domain.ReadCursor, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReadCursor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey{user, chat}
	c, ok := s.cursors[key]
	if !ok || id > c.LastReadMessageID {
		c = domain.ReadCursor{UserID: user, ChatID: chat, LastReadMessageID: id, LastReadAt: at}
		s.cursors[key] = c
	}
	return c, nil
}

func (s *Store) PersistLastOnline(ctx context.Context, user domain.UserID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOnline[user] = at
	return nil
}
