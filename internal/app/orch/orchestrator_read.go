package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) MarkAsRead(ctx context.Context, conn core.ConnID, chat domain.ChatID, upTo *domain.MessageID) (domain.ReadResult, error) {
	sess, err := o.session(conn)
	if err != nil {
		return domain.ReadResult{}, err
	}
	res, err := o.Reads.MarkRead(ctx, sess.UserID(), chat, upTo)
	if err != nil {
		return domain.ReadResult{}, err
	}
	o.publishRead(ctx, sess, res)
	return res, nil
}

func (o *Orchestrator) MarkMessageAsRead(ctx context.Context, conn core.ConnID, chat domain.ChatID, message domain.MessageID) (domain.ReadResult, error) {
	return o.MarkAsRead(ctx, conn, chat, &message)
}

// publishRead tells the actor's other connections about the new unread
// count and, when the cursor moved, tells the rest of the chat.
func (o *Orchestrator) publishRead(ctx context.Context, actor core.Session, res domain.ReadResult) {
	user := actor.UserID()
	o.publish(ctx, core.Delivery{
		Event:    core.UnreadCountUpdated{ChatID: res.ChatID, UnreadCount: res.UnreadCount},
		Channels: []core.ChannelID{core.UserChannel(user)},
		SkipConn: actor.ID(),
	})
	if !res.Advanced {
		return
	}
	out := o.publish(ctx, core.Delivery{
		Event: core.MessageRead{
			ChatID:            res.ChatID,
			UserID:            user,
			LastReadMessageID: res.LastReadMessageID,
			LastReadAt:        res.LastReadAt,
		},
		Channels: []core.ChannelID{core.ChatChannel(res.ChatID)},
		SkipUser: user,
	})
	log.Debug().
		Str("module", "app.orch").
		Str("user", string(user)).
		Str("chat", string(res.ChatID)).
		Int64("cursor", int64(res.LastReadMessageID)).
		Int("send_to", out.SendTo).
		Msg("message read")
}

func (o *Orchestrator) GetReadInfo(ctx context.Context, conn core.ConnID, chat domain.ChatID) (*domain.ChatReadInfo, error) {
	sess, err := o.session(conn)
	if err != nil {
		return nil, err
	}
	return o.ReadInfoFor(ctx, sess.UserID(), chat)
}

// ReadInfoFor is GetReadInfo for callers that hold a user id rather than a
// connection.
func (o *Orchestrator) ReadInfoFor(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.ChatReadInfo, error) {
	info, err := o.Reads.GetChatReadInfo(ctx, user, chat)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (o *Orchestrator) GetUnreadCounts(ctx context.Context, conn core.ConnID) (domain.AllUnreadCounts, error) {
	sess, err := o.session(conn)
	if err != nil {
		return domain.AllUnreadCounts{}, err
	}
	return o.Reads.GetAllUnreadCounts(ctx, sess.UserID())
}

func (o *Orchestrator) UnreadCountsFor(ctx context.Context, user domain.UserID) (domain.AllUnreadCounts, error) {
	return o.Reads.GetAllUnreadCounts(ctx, user)
}

// Typing relays a typing notice to the chat. Delivery is best effort.
func (o *Orchestrator) Typing(ctx context.Context, conn core.ConnID, chat domain.ChatID) error {
	sess, err := o.session(conn)
	if err != nil {
		return err
	}
	user := sess.UserID()
	if _, err := o.Reads.Authorize(ctx, user, chat); err != nil {
		return err
	}
	o.publish(ctx, core.Delivery{
		Event:    core.UserTyping{ChatID: chat, UserID: user},
		Channels: []core.ChannelID{core.ChatChannel(chat)},
		SkipUser: user,
	})
	return nil
}

func (o *Orchestrator) GetOnlineMembers(ctx context.Context, conn core.ConnID, chat domain.ChatID) ([]domain.UserID, error) {
	sess, err := o.session(conn)
	if err != nil {
		return nil, err
	}
	return o.OnlineMembersFor(ctx, sess.UserID(), chat)
}

// OnlineMembersFor lists the members of chat that are online on this node.
func (o *Orchestrator) OnlineMembersFor(ctx context.Context, user domain.UserID, chat domain.ChatID) ([]domain.UserID, error) {
	if _, err := o.Reads.Authorize(ctx, user, chat); err != nil {
		return nil, err
	}
	members, err := o.Repo.LoadChatMemberIDs(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("load chat members: %w", err)
	}
	return o.Presence.FilterOnline(members), nil
}
