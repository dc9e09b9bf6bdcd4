package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// request is the envelope of every client frame. Only the fields an
// operation needs are read.
type request struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	MessageID *int64 `json:"message_id,omitempty"`
}

func (r request) chat() (domain.ChatID, error) { return domain.ParseChatID(r.ChatID) }

func (ctl *SignalWSController) writePump(ctx context.Context, conn core.ConnID, c *WsSignalConn) {
	ping := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ping.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(conn)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(conn)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(conn)).Msg("writePump write error")
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, conn core.ConnID, user domain.UserID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(conn)).Msg("readPump closing")
		c.Close()
		ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), conn)
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(conn)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, conn, user, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, conn core.ConnID, user domain.UserID, c *WsSignalConn, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn)).Msg("bad json")
		ctl.replyError(c, "", fmt.Errorf("%w: malformed frame", domain.ErrInvalidArgument))
		return
	}

	switch req.Type {
	case "join_chat":
		ctl.handleJoinChat(ctx, conn, c, req)
	case "leave_chat":
		ctl.handleLeaveChat(ctx, conn, c, req)
	case "typing":
		ctl.handleTyping(ctx, conn, user, c, req)
	case "get_online_users":
		ctl.handleOnlineUsers(ctx, conn, c, req)
	case "mark_read":
		ctl.handleMarkRead(ctx, conn, c, req)
	case "mark_message_read":
		ctl.handleMarkMessageRead(ctx, conn, c, req)
	case "get_read_info":
		ctl.handleReadInfo(ctx, conn, c, req)
	case "get_unread_counts":
		ctl.handleUnreadCounts(ctx, conn, c, req)
	case "ping":
		ctl.handlePing(c, req)
	default:
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		ctl.replyError(c, req.RequestID, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidArgument, req.Type))
	}
}

func (ctl *SignalWSController) reply(c *WsSignalConn, ev core.Event) {
	f, err := core.EncodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply encode")
		return
	}
	if err := c.TrySend(f); err != nil && !errors.Is(err, core.ErrConnClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(ev.Type())).Msg("reply dropped")
	}
}

func (ctl *SignalWSController) replyAck(c *WsSignalConn, requestID string, result any) {
	ctl.reply(c, core.Ack{RequestID: requestID, Result: result})
}

// replyError hides internal error details from the client.
func (ctl *SignalWSController) replyError(c *WsSignalConn, requestID string, err error) {
	code := domain.Code(err)
	msg := err.Error()
	if code == "internal" {
		log.Error().Err(err).Str("module", "signal").Str("request_id", requestID).Msg("request failed")
		msg = "internal error"
	}
	ctl.reply(c, core.Error{RequestID: requestID, Code: code, Message: msg})
}
