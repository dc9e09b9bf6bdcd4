package app

import (
	"hash/fnv"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

const presenceShards = 32

type presenceShard struct {
	mu    sync.RWMutex
	users map[domain.UserID]map[core.ConnID]struct{}
}

// PresenceRegistry tracks which connections each user holds.
// A user is online iff its set is non-empty; empty sets are removed.
// Users are spread over shards so unrelated users rarely share a lock.
type PresenceRegistry struct {
	shards [presenceShards]*presenceShard
}

func NewPresenceRegistry() *PresenceRegistry {
	p := &PresenceRegistry{}
	for i := range p.shards {
		p.shards[i] = &presenceShard{users: make(map[domain.UserID]map[core.ConnID]struct{})}
	}
	return p
}

func (p *PresenceRegistry) shard(user domain.UserID) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return p.shards[h.Sum32()%presenceShards]
}

// Attach adds conn to user's set and reports an offline->online transition.
func (p *PresenceRegistry) Attach(user domain.UserID, conn core.ConnID) bool {
	s := p.shard(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[user]
	if !ok {
		conns = make(map[core.ConnID]struct{}, 1)
		s.users[user] = conns
	}
	if _, dup := conns[conn]; dup {
		return false
	}
	conns[conn] = struct{}{}
	first := len(conns) == 1
	log.Debug().Str("module", "app.presence").Str("user", string(user)).Str("conn", string(conn)).Int("conns", len(conns)).Msg("attach")
	return first
}

// Detach removes conn and reports an online->offline transition.
// Detaching an unknown conn is a no-op and never reports a transition.
func (p *PresenceRegistry) Detach(user domain.UserID, conn core.ConnID) bool {
	s := p.shard(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[user]
	if !ok {
		return false
	}
	if _, ok := conns[conn]; !ok {
		return false
	}
	delete(conns, conn)
	if len(conns) > 0 {
		return false
	}
	delete(s.users, user)
	log.Debug().Str("module", "app.presence").Str("user", string(user)).Msg("last connection detached")
	return true
}

func (p *PresenceRegistry) IsOnline(user domain.UserID) bool {
	s := p.shard(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[user]) > 0
}

// ConnIDs returns a snapshot of user's live connections.
func (p *PresenceRegistry) ConnIDs(user domain.UserID) []core.ConnID {
	s := p.shard(user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ConnID, 0, len(s.users[user]))
	for id := range s.users[user] {
		out = append(out, id)
	}
	return out
}

// OnlineUsers is a snapshot; it may be stale as soon as it returns.
func (p *PresenceRegistry) OnlineUsers() []domain.UserID {
	var out []domain.UserID
	for _, s := range p.shards {
		s.mu.RLock()
		for u := range s.users {
			out = append(out, u)
		}
		s.mu.RUnlock()
	}
	return out
}

// FilterOnline keeps the online users of ids, preserving order and dropping duplicates.
func (p *PresenceRegistry) FilterOnline(ids []domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(ids))
	seen := make(map[domain.UserID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if p.IsOnline(id) {
			out = append(out, id)
		}
	}
	return out
}

// Len counts users with a live entry.
func (p *PresenceRegistry) Len() int {
	n := 0
	for _, s := range p.shards {
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}

// Close drops every entry.
func (p *PresenceRegistry) Close() {
	for _, s := range p.shards {
		s.mu.Lock()
		s.users = make(map[domain.UserID]map[core.ConnID]struct{})
		s.mu.Unlock()
	}
	log.Info().Str("module", "app.presence").Msg("presence registry closed")
}
