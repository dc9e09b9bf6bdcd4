package app

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const cacheShards = 16

// CacheConfig holds the absolute and sliding lifetimes of cache entries.
// An access within the sliding window extends the deadline, never past the
// absolute cap measured from the load.
type CacheConfig struct {
	ChatListTTL       time.Duration
	ChatListSliding   time.Duration
	MembershipTTL     time.Duration
	MembershipSliding time.Duration
	SweepEvery        time.Duration
	Clock             func() time.Time
}

func (c *CacheConfig) norm() {
	if c.ChatListTTL <= 0 {
		c.ChatListTTL = 5 * time.Minute
	}
	if c.ChatListSliding <= 0 {
		c.ChatListSliding = 2 * time.Minute
	}
	if c.MembershipTTL <= 0 {
		c.MembershipTTL = 10 * time.Minute
	}
	if c.MembershipSliding <= 0 {
		c.MembershipSliding = 3 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type (
	ChatIDsLoader    func(ctx context.Context) ([]domain.ChatID, error)
	MembershipLoader func(ctx context.Context) (*domain.Membership, error)
)

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
	hardLimit time.Time
}

func newEntry[T any](v T, now time.Time, ttl, sliding time.Duration) *cacheEntry[T] {
	e := &cacheEntry[T]{value: v, hardLimit: now.Add(ttl)}
	e.touch(now, sliding)
	return e
}

func (e *cacheEntry[T]) touch(now time.Time, sliding time.Duration) {
	next := now.Add(sliding)
	if next.After(e.hardLimit) {
		next = e.hardLimit
	}
	e.expiresAt = next
}

func (e *cacheEntry[T]) expired(now time.Time) bool { return !now.Before(e.expiresAt) }

type memberKey struct {
	user domain.UserID
	chat domain.ChatID
}

type cacheShard struct {
	mu      sync.Mutex
	chats   map[domain.UserID]*cacheEntry[[]domain.ChatID]
	members map[memberKey]*cacheEntry[*domain.Membership]
	// byChat lists the users of this shard that have any entry mentioning a chat.
	byChat map[domain.ChatID]map[domain.UserID]struct{}
	// epoch changes on every invalidation; loads that started before it are not stored.
	epoch uint64
}

// MembershipCache is a time-bounded projection of chat membership.
// Absence is cached too. Invalidation is exact for keys recorded in the
// chat index; anything else is bounded by TTL.
type MembershipCache struct {
	conf   CacheConfig
	shards [cacheShards]*cacheShard
	group  singleflight.Group
}

func NewMembershipCache(conf CacheConfig) *MembershipCache {
	conf.norm()
	c := &MembershipCache{conf: conf}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			chats:   make(map[domain.UserID]*cacheEntry[[]domain.ChatID]),
			members: make(map[memberKey]*cacheEntry[*domain.Membership]),
			byChat:  make(map[domain.ChatID]map[domain.UserID]struct{}),
		}
	}
	return c
}

func (c *MembershipCache) shard(user domain.UserID) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return c.shards[h.Sum32()%cacheShards]
}

// GetUserChatIDs returns the cached chat list of user or loads it.
// A failed load is returned as is and nothing is cached.
func (c *MembershipCache) GetUserChatIDs(ctx context.Context, user domain.UserID, load ChatIDsLoader) ([]domain.ChatID, error) {
	s := c.shard(user)
	now := c.conf.Clock()

	s.mu.Lock()
	if e, ok := s.chats[user]; ok {
		if !e.expired(now) {
			e.touch(now, c.conf.ChatListSliding)
			out := slices.Clone(e.value)
			s.mu.Unlock()
			return out, nil
		}
		s.dropChats(user)
	}
	epoch := s.epoch
	s.mu.Unlock()

	v, err, _ := c.group.Do("chats\x00"+string(user), func() (any, error) {
		ids, err := load(ctx)
		if err != nil {
			return nil, err
		}
		ids = slices.Clone(ids)
		s.mu.Lock()
		if s.epoch == epoch {
			s.chats[user] = newEntry(ids, c.conf.Clock(), c.conf.ChatListTTL, c.conf.ChatListSliding)
			for _, chat := range ids {
				s.index(chat, user)
			}
		}
		s.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.membership_cache").Str("user", string(user)).Msg("load chat ids")
		return nil, err
	}
	return slices.Clone(v.([]domain.ChatID)), nil
}

// GetMembership returns the cached membership of (user, chat) or loads it.
// A nil membership with a nil error means "not a member" and is cached.
func (c *MembershipCache) GetMembership(ctx context.Context, user domain.UserID, chat domain.ChatID, load MembershipLoader) (*domain.Membership, error) {
	s := c.shard(user)
	key := memberKey{user: user, chat: chat}
	now := c.conf.Clock()

	s.mu.Lock()
	if e, ok := s.members[key]; ok {
		if !e.expired(now) {
			e.touch(now, c.conf.MembershipSliding)
			out := cloneMembership(e.value)
			s.mu.Unlock()
			return out, nil
		}
		s.dropMember(key)
	}
	epoch := s.epoch
	s.mu.Unlock()

	v, err, _ := c.group.Do("member\x00"+string(user)+"\x00"+string(chat), func() (any, error) {
		m, err := load(ctx)
		if err != nil {
			return nil, err
		}
		m = cloneMembership(m)
		s.mu.Lock()
		if s.epoch == epoch {
			s.members[key] = newEntry(m, c.conf.Clock(), c.conf.MembershipTTL, c.conf.MembershipSliding)
			s.index(chat, user)
		}
		s.mu.Unlock()
		return m, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.membership_cache").Str("user", string(user)).Str("chat", string(chat)).Msg("load membership")
		return nil, err
	}
	return cloneMembership(v.(*domain.Membership)), nil
}

func (c *MembershipCache) InvalidateUserChats(user domain.UserID) {
	s := c.shard(user)
	s.mu.Lock()
	s.dropChats(user)
	s.epoch++
	s.mu.Unlock()
	c.group.Forget("chats\x00" + string(user))
}

// InvalidateMembership drops (user, chat) and the user's chat list, which
// the membership change alters too.
func (c *MembershipCache) InvalidateMembership(user domain.UserID, chat domain.ChatID) {
	s := c.shard(user)
	s.mu.Lock()
	s.dropMember(memberKey{user: user, chat: chat})
	s.dropChats(user)
	s.epoch++
	s.mu.Unlock()
	c.group.Forget("chats\x00" + string(user))
	c.group.Forget("member\x00" + string(user) + "\x00" + string(chat))
	log.Debug().Str("module", "app.membership_cache").Str("user", string(user)).Str("chat", string(chat)).Msg("invalidated membership")
}

// InvalidateChat drops every indexed entry that mentions chat.
func (c *MembershipCache) InvalidateChat(chat domain.ChatID) {
	dropped := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for user := range s.byChat[chat] {
			s.dropMember(memberKey{user: user, chat: chat})
			if e, ok := s.chats[user]; ok && slices.Contains(e.value, chat) {
				s.dropChats(user)
			}
			dropped++
		}
		delete(s.byChat, chat)
		s.epoch++
		s.mu.Unlock()
	}
	log.Debug().Str("module", "app.membership_cache").Str("chat", string(chat)).Int("users", dropped).Msg("invalidated chat")
}

// Sweep removes expired entries and returns how many were removed.
func (c *MembershipCache) Sweep() int {
	now := c.conf.Clock()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for user, e := range s.chats {
			if e.expired(now) {
				s.dropChats(user)
				removed++
			}
		}
		for key, e := range s.members {
			if e.expired(now) {
				s.dropMember(key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps on a ticker until ctx is done.
func (c *MembershipCache) Run(ctx context.Context) {
	t := time.NewTicker(c.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Str("module", "app.membership_cache").Int("removed", n).Msg("sweep")
			}
		}
	}
}

// Len reports the number of cached entries of both kinds.
func (c *MembershipCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.chats) + len(s.members)
		s.mu.Unlock()
	}
	return n
}

// callers hold s.mu for the helpers below.

func (s *cacheShard) index(chat domain.ChatID, user domain.UserID) {
	users, ok := s.byChat[chat]
	if !ok {
		users = make(map[domain.UserID]struct{})
		s.byChat[chat] = users
	}
	users[user] = struct{}{}
}

func (s *cacheShard) unindex(chat domain.ChatID, user domain.UserID) {
	if _, ok := s.members[memberKey{user: user, chat: chat}]; ok {
		return
	}
	if e, ok := s.chats[user]; ok && slices.Contains(e.value, chat) {
		return
	}
	users := s.byChat[chat]
	delete(users, user)
	if len(users) == 0 {
		delete(s.byChat, chat)
	}
}

func (s *cacheShard) dropChats(user domain.UserID) {
	e, ok := s.chats[user]
	if !ok {
		return
	}
	delete(s.chats, user)
	for _, chat := range e.value {
		s.unindex(chat, user)
	}
}

func (s *cacheShard) dropMember(key memberKey) {
	if _, ok := s.members[key]; !ok {
		return
	}
	delete(s.members, key)
	s.unindex(key.chat, key.user)
}

func cloneMembership(m *domain.Membership) *domain.Membership {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}
