package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// channelImpl is a threadsafe in-memory subscriber set.
// It never closes adapter-owned resources.
type channelImpl struct {
	id     ChannelID
	mu     sync.RWMutex
	byConn map[ConnID]Session
}

func NewChannelService(id ChannelID) ChannelService {
	return &channelImpl{
		id:     id,
		byConn: make(map[ConnID]Session),
	}
}

func (c *channelImpl) ID() ChannelID { return c.id }

func (c *channelImpl) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byConn)
}

func (c *channelImpl) Subscribe(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byConn[s.ID()] = s
	log.Debug().Str("module", "core.channel").Str("channel", string(c.id)).Str("conn", string(s.ID())).Str("user", string(s.UserID())).Msg("subscribed")
}

func (c *channelImpl) Unsubscribe(id ConnID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byConn, id)
	log.Debug().Str("module", "core.channel").Str("channel", string(c.id)).Str("conn", string(id)).Msg("unsubscribed")
	return len(c.byConn) == 0
}

// Subscribers returns a snapshot; sends happen outside the lock.
func (c *channelImpl) Subscribers() []Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Session, 0, len(c.byConn))
	for _, s := range c.byConn {
		out = append(out, s)
	}
	return out
}
