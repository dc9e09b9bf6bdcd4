package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

func (ctl *SignalWSController) handleMarkRead(ctx context.Context, conn core.ConnID, c *WsSignalConn, req request) {
	chat, err := req.chat()
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	var upTo *domain.MessageID
	if req.MessageID != nil {
		id := domain.MessageID(*req.MessageID)
		upTo = &id
	}
	res, err := ctl.Orch.MarkAsRead(ctx, conn, chat, upTo)
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	ctl.replyAck(c, req.RequestID, res)
}

func (ctl *SignalWSController) handleMarkMessageRead(ctx context.Context, conn core.ConnID, c *WsSignalConn, req request) {
	chat, err := req.chat()
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	if req.MessageID == nil {
		ctl.replyError(c, req.RequestID, fmt.Errorf("%w: message_id is required", domain.ErrInvalidArgument))
		return
	}
	res, err := ctl.Orch.MarkMessageAsRead(ctx, conn, chat, domain.MessageID(*req.MessageID))
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	ctl.replyAck(c, req.RequestID, res)
}

func (ctl *SignalWSController) handleReadInfo(ctx context.Context, conn core.ConnID, c *WsSignalConn, req request) {
	chat, err := req.chat()
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	info, err := ctl.Orch.GetReadInfo(ctx, conn, chat)
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	ctl.replyAck(c, req.RequestID, info)
}

func (ctl *SignalWSController) handleUnreadCounts(ctx context.Context, conn core.ConnID, c *WsSignalConn, req request) {
	all, err := ctl.Orch.GetUnreadCounts(ctx, conn)
	if err != nil {
		ctl.replyError(c, req.RequestID, err)
		return
	}
	if all.PerChat == nil {
		all.PerChat = []domain.ChatUnread{}
	}
	ctl.replyAck(c, req.RequestID, all)
}
