package signal

import (
	"context"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

type chatResult struct {
	ChatID domain.ChatID `json:"chat_id"`
}

type onlineResult struct {
	ChatID  domain.ChatID   `json:"chat_id"`
	UserIDs []domain.UserID `json:"user_ids"`
}

func (ctl *SignalWSController) handleJoinChat(ctx context.Context, conn core.ConnID, c *WsSignalConn, req request) {
	chat, err := req.chat()
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	if err := ctl.Orch.JoinChatChannel(ctx, conn, chat); err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(conn)).Str("chat", string(chat)).Msg("join chat")
	ctl.replyAck(c, req.RequestID, chatResult{ChatID: chat})
}

func (ctl *SignalWSController) handleLeaveChat(ctx context.Context, conn core.ConnID, c *WsSignalConn, req request) {
	chat, err := req.chat()
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	if err := ctl.Orch.LeaveChatChannel(ctx, conn, chat); err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(conn)).Str("chat", string(chat)).Msg("leave chat")
	ctl.replyAck(c, req.RequestID, chatResult{ChatID: chat})
}

// handleTyping acks rate-limited notices without relaying them.
func (ctl *SignalWSController) handleTyping(ctx context.Context, conn core.ConnID, user domain.UserID, c *WsSignalConn, req request) {
	chat, err := req.chat()
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	if !ctl.typing.Allow(string(user) + "\x00" + string(chat)) {
		log.Debug().Str("module", "signal").Str("user", string(user)).Str("chat", string(chat)).Msg("typing throttled")
		ctl.replyAck(c, req.RequestID, nil)
		return
	}
	if err := ctl.Orch.Typing(ctx, conn, chat); err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	ctl.replyAck(c, req.RequestID, nil)
}

func (ctl *SignalWSController) handleOnlineUsers(ctx context.Context, conn core.ConnID, c *WsSignalConn, req request) {
	chat, err := req.chat()
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	users, err := ctl.Orch.GetOnlineMembers(ctx, conn, chat)
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	if users == nil {
		users = []domain.UserID{}
	}
	ctl.replyAck(c, req.RequestID, onlineResult{ChatID: chat, UserIDs: users})
}
