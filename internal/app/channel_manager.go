package app

import (
	"sync"

	"github.com/dkeye/Chat/internal/core"
)

// ChannelHub owns the logical channels. A channel exists while it has at
// least one subscriber.
type ChannelHub struct {
	mu       sync.RWMutex
	channels map[core.ChannelID]core.ChannelService
}

func NewChannelHub() *ChannelHub {
	return &ChannelHub{channels: make(map[core.ChannelID]core.ChannelService)}
}

var _ core.ChannelFactory = (*ChannelHub)(nil)

func (h *ChannelHub) Subscribe(id core.ChannelID, s core.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[id]
	if !ok {
		ch = core.NewChannelService(id)
		h.channels[id] = ch
	}
	ch.Subscribe(s)
}

func (h *ChannelHub) Unsubscribe(id core.ChannelID, conn core.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[id]
	if !ok {
		return
	}
	if ch.Unsubscribe(conn) {
		delete(h.channels, id)
	}
}

func (h *ChannelHub) Get(id core.ChannelID) (core.ChannelService, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[id]
	return ch, ok
}

// Subscribers returns a snapshot of one channel, nil when it does not exist.
func (h *ChannelHub) Subscribers(id core.ChannelID) []core.Session {
	ch, ok := h.Get(id)
	if !ok {
		return nil
	}
	return ch.Subscribers()
}

func (h *ChannelHub) List() []core.ChannelInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.ChannelInfo, 0, len(h.channels))
	for id, ch := range h.channels {
		out = append(out, core.ChannelInfo{ID: id, Subscribers: ch.SubscriberCount()})
	}
	return out
}

func (h *ChannelHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
