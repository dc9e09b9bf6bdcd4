package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/google/uuid"
)

// PresenceScope selects who hears about online/offline transitions.
type PresenceScope string

const (
	// ScopeSharedChats notifies users who share a chat with the subject.
	ScopeSharedChats PresenceScope = "shared_chats"
	// ScopeAll notifies every connected session.
	ScopeAll PresenceScope = "all"
)

func ParsePresenceScope(raw string) (PresenceScope, error) {
	switch PresenceScope(raw) {
	case "", ScopeSharedChats:
		return ScopeSharedChats, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("%w: presence scope %q", domain.ErrInvalidArgument, raw)
	}
}

// Bus relays deliveries to other nodes. Implementations must not call back
// into the Orchestrator for deliveries they published themselves.
type Bus interface {
	Publish(ctx context.Context, d core.Delivery) error
}

// Orchestrator is the realtime gateway: it tracks live connections, keeps
// their channel subscriptions in line with chat membership and fans out
// presence and read-state events.
type Orchestrator struct {
	Registry *app.Registry
	Hub      *app.ChannelHub
	Presence *app.PresenceRegistry
	Cache    *app.MembershipCache
	Reads    *app.ReadStateService
	Repo     core.Repository
	Policy   app.Policy
	Scope    PresenceScope
	// Bus is nil on a single node.
	Bus Bus

	NewConnID func() core.ConnID
	Now       func() time.Time

	transitions app.KeyedMutex
}

func (o *Orchestrator) connID() core.ConnID {
	if o.NewConnID != nil {
		return o.NewConnID()
	}
	return core.ConnID(uuid.NewString())
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) session(conn core.ConnID) (core.Session, error) {
	s, ok := o.Registry.Get(conn)
	if !ok {
		return nil, fmt.Errorf("%w: unknown connection", domain.ErrUnauthenticated)
	}
	return s, nil
}

// Stats is a point-in-time view of the gateway.
type Stats struct {
	OnlineUsers int                `json:"online_users"`
	Connections int                `json:"connections"`
	Channels    []core.ChannelInfo `json:"channels"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		OnlineUsers: o.Presence.Len(),
		Connections: o.Registry.Len(),
		Channels:    o.Hub.List(),
	}
}
