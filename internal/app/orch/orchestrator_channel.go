package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// OnConnect registers a new connection of user and subscribes it to the
// user channel and to one channel per chat the user belongs to.
func (o *Orchestrator) OnConnect(ctx context.Context, user domain.UserID, signal core.SignalConnection) (core.ConnID, error) {
	if user == "" {
		return "", domain.ErrUnauthenticated
	}
	conn := o.connID()
	sess := core.NewSession(conn, user, signal)
	o.Registry.Bind(sess)
	first := o.Presence.Attach(user, conn)

	o.subscribe(sess, core.UserChannel(user))

	chats, err := o.Reads.UserChatIDs(ctx, user)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("conn", string(conn)).Str("user", string(user)).Msg("load chats on connect")
	}
	for _, chat := range chats {
		if !o.subscribe(sess, core.ChatChannel(chat)) {
			log.Warn().Str("module", "app.orch").Str("conn", string(conn)).Str("chat", string(chat)).Msg("subscribe skipped")
		}
	}

	log.Info().
		Str("module", "app.orch").
		Str("conn", string(conn)).
		Str("user", string(user)).
		Int("chats", len(chats)).
		Bool("first", first).
		Msg("connected")

	if first {
		o.announce(ctx, user, core.UserOnline{UserID: user}, chats, true)
	}
	return conn, nil
}

// OnDisconnect tears a connection down. Calls after the first are no-ops.
func (o *Orchestrator) OnDisconnect(ctx context.Context, conn core.ConnID) {
	sess, channels, ok := o.Registry.Unbind(conn)
	if !ok {
		return
	}
	for _, ch := range channels {
		o.Hub.Unsubscribe(ch, conn)
	}
	user := sess.UserID()
	last := o.Presence.Detach(user, conn)

	log.Info().Str("module", "app.orch").Str("conn", string(conn)).Str("user", string(user)).Bool("last", last).Msg("disconnected")
	if !last {
		return
	}
	if o.Presence.IsOnline(user) {
		log.Debug().Str("module", "app.orch").Str("user", string(user)).Msg("reconnected before offline")
		return
	}

	at := o.now()
	if err := o.Repo.PersistLastOnline(ctx, user, at); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("user", string(user)).Msg("persist last online")
	}
	var chats []domain.ChatID
	for _, ch := range channels {
		if chat, ok := ch.ChatOf(); ok {
			chats = append(chats, chat)
		}
	}
	o.announce(ctx, user, core.UserOffline{UserID: user, LastOnline: at}, chats, false)
}

// announce publishes a presence transition unless the user's presence has
// flipped since. Transitions of one user are published one at a time, so
// the last event peers see always matches the registry.
func (o *Orchestrator) announce(ctx context.Context, user domain.UserID, ev core.Event, chats []domain.ChatID, online bool) {
	unlock := o.transitions.Lock(string(user))
	defer unlock()
	if o.Presence.IsOnline(user) != online {
		log.Debug().Str("module", "app.orch").Str("user", string(user)).Str("event", string(ev.Type())).Msg("stale presence transition dropped")
		return
	}
	o.publishPresence(ctx, user, ev, chats)
}

// Kick closes the transport of conn and disconnects it.
func (o *Orchestrator) Kick(ctx context.Context, conn core.ConnID) {
	sess, ok := o.Registry.Get(conn)
	if !ok {
		return
	}
	sess.Signal().Close()
	o.OnDisconnect(ctx, conn)
	log.Warn().Str("module", "app.orch").Str("conn", string(conn)).Msg("kicked")
}

func (o *Orchestrator) JoinChatChannel(ctx context.Context, conn core.ConnID, chat domain.ChatID) error {
	sess, err := o.session(conn)
	if err != nil {
		return err
	}
	if _, err := o.Reads.Authorize(ctx, sess.UserID(), chat); err != nil {
		return err
	}
	if !o.subscribe(sess, core.ChatChannel(chat)) {
		return core.ErrConnClosed
	}
	return nil
}

func (o *Orchestrator) LeaveChatChannel(ctx context.Context, conn core.ConnID, chat domain.ChatID) error {
	sess, err := o.session(conn)
	if err != nil {
		return err
	}
	if _, err := o.Reads.Authorize(ctx, sess.UserID(), chat); err != nil {
		return err
	}
	o.unsubscribe(conn, core.ChatChannel(chat))
	return nil
}

// NotifyMembershipChanged applies a membership write made elsewhere: the
// cache forgets the pair and every live connection of the user follows.
// A change the repository does not confirm is rejected with ErrForbidden.
func (o *Orchestrator) NotifyMembershipChanged(ctx context.Context, user domain.UserID, chat domain.ChatID, joined bool) error {
	if user == "" {
		return domain.ErrUnauthenticated
	}
	if chat == "" {
		return fmt.Errorf("%w: empty chat id", domain.ErrInvalidArgument)
	}
	o.Cache.InvalidateMembership(user, chat)
	_, err := o.Reads.Authorize(ctx, user, chat)
	switch {
	case joined && err != nil:
		return err
	case !joined && err == nil:
		return fmt.Errorf("%w: %s is still a member of %s", domain.ErrForbidden, user, chat)
	case !joined && !errors.Is(err, domain.ErrForbidden):
		return err
	}

	ch := core.ChatChannel(chat)
	sessions := o.Registry.SessionsOf(user)
	for _, sess := range sessions {
		if joined {
			o.subscribe(sess, ch)
		} else {
			o.unsubscribe(sess.ID(), ch)
		}
	}
	log.Info().
		Str("module", "app.orch").
		Str("user", string(user)).
		Str("chat", string(chat)).
		Bool("joined", joined).
		Int("sessions", len(sessions)).
		Msg("membership changed")
	return nil
}

// Shutdown closes every live session and clears presence. Last-online
// stamps are persisted; no offline events are sent.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	users := make(map[domain.UserID]struct{})
	for _, sess := range o.Registry.All() {
		_, channels, ok := o.Registry.Unbind(sess.ID())
		if !ok {
			continue
		}
		for _, ch := range channels {
			o.Hub.Unsubscribe(ch, sess.ID())
		}
		sess.Signal().Close()
		users[sess.UserID()] = struct{}{}
	}
	at := o.now()
	for user := range users {
		if err := o.Repo.PersistLastOnline(ctx, user, at); err != nil {
			log.Error().Err(err).Str("module", "app.orch").Str("user", string(user)).Msg("persist last online on shutdown")
		}
	}
	o.Presence.Close()
	log.Info().Str("module", "app.orch").Int("users", len(users)).Msg("shutdown")
}

// subscribe adds sess to ch in the hub and the registry. It reports false
// when the connection was unbound meanwhile, leaving no subscription behind.
func (o *Orchestrator) subscribe(sess core.Session, ch core.ChannelID) bool {
	o.Hub.Subscribe(ch, sess)
	if !o.Registry.AddChannel(sess.ID(), ch) {
		o.Hub.Unsubscribe(ch, sess.ID())
		return false
	}
	return true
}

func (o *Orchestrator) unsubscribe(conn core.ConnID, ch core.ChannelID) {
	if o.Registry.RemoveChannel(conn, ch) {
		o.Hub.Unsubscribe(ch, conn)
	}
}
