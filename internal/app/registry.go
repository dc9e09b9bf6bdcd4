package app

import (
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session  core.Session
	Channels map[core.ChannelID]struct{}
}

// Registry maps live connections to their session and the channels they
// are subscribed to.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.ConnID]*sessionEntry)}
}

func (r *Registry) Bind(sess core.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID()] = &sessionEntry{
		Session:  sess,
		Channels: make(map[core.ChannelID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("conn", string(sess.ID())).Str("user", string(sess.UserID())).Msg("bound session")
}

// Unbind removes the connection and returns what it was subscribed to.
// Only the first call for a connection reports ok.
func (r *Registry) Unbind(conn core.ConnID) (core.Session, []core.ChannelID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[conn]
	if !ok {
		return nil, nil, false
	}
	delete(r.sessions, conn)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("unbind session")
	return e.Session, slices.Collect(maps.Keys(e.Channels)), true
}

func (r *Registry) Get(conn core.ConnID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[conn]; ok {
		return e.Session, true
	}
	return nil, false
}

// AddChannel records a subscription; false when the connection is gone.
func (r *Registry) AddChannel(conn core.ConnID, ch core.ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[conn]
	if !ok {
		return false
	}
	e.Channels[ch] = struct{}{}
	return true
}

func (r *Registry) RemoveChannel(conn core.ConnID, ch core.ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[conn]
	if !ok {
		return false
	}
	if _, had := e.Channels[ch]; !had {
		return false
	}
	delete(e.Channels, ch)
	return true
}

func (r *Registry) ChannelsOf(conn core.ConnID) []core.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[conn]
	if !ok {
		return nil
	}
	return slices.Collect(maps.Keys(e.Channels))
}

func (r *Registry) Subscribed(conn core.ConnID, ch core.ChannelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[conn]
	if !ok {
		return false
	}
	_, sub := e.Channels[ch]
	return sub
}

// All returns a snapshot of every live session.
func (r *Registry) All() []core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.Session)
	}
	return out
}

// SessionsOf returns the live sessions of one user.
func (r *Registry) SessionsOf(user domain.UserID) []core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.Session
	for _, e := range r.sessions {
		if e.Session.UserID() == user {
			out = append(out, e.Session)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
