package http

import (
	"fmt"
	"net/http"

	"github.com/dkeye/Chat/internal/adapters/auth"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handlers are the REST mirrors of the realtime read operations.
type Handlers struct {
	Orch *orch.Orchestrator
}

type MembershipRequest struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
	Joined bool   `json:"joined"`
}

type OnlineResponse struct {
	ChatID  domain.ChatID   `json:"chat_id"`
	UserIDs []domain.UserID `json:"user_ids"`
}

func (h *Handlers) ReadInfo(c *gin.Context) {
	chat, err := domain.ParseChatID(c.Param("chatID"))
	if err != nil {
		writeError(c, err)
		return
	}
	info, err := h.Orch.ReadInfoFor(c.Request.Context(), auth.UserFrom(c), chat)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) Unread(c *gin.Context) {
	all, err := h.Orch.UnreadCountsFor(c.Request.Context(), auth.UserFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if all.PerChat == nil {
		all.PerChat = []domain.ChatUnread{}
	}
	c.JSON(http.StatusOK, all)
}

func (h *Handlers) Online(c *gin.Context) {
	chat, err := domain.ParseChatID(c.Param("chatID"))
	if err != nil {
		writeError(c, err)
		return
	}
	users, err := h.Orch.OnlineMembersFor(c.Request.Context(), auth.UserFrom(c), chat)
	if err != nil {
		writeError(c, err)
		return
	}
	if users == nil {
		users = []domain.UserID{}
	}
	c.JSON(http.StatusOK, OnlineResponse{ChatID: chat, UserIDs: users})
}

// Membership lets the CRUD service report a join or leave.
func (h *Handlers) Membership(c *gin.Context) {
	var req MembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_argument", "error": "missing or invalid body"})
		return
	}
	user, err := domain.ParseUserID(req.UserID)
	if err != nil {
		writeError(c, fmt.Errorf("%w: user_id", domain.ErrInvalidArgument))
		return
	}
	chat, err := domain.ParseChatID(req.ChatID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Orch.NotifyMembershipChanged(c.Request.Context(), user, chat, req.Joined); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Stats())
}

func Up(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func writeError(c *gin.Context, err error) {
	code := domain.Code(err)
	status := http.StatusInternalServerError
	msg := "internal error"
	switch code {
	case "unauthenticated":
		status, msg = http.StatusUnauthorized, err.Error()
	case "forbidden":
		status, msg = http.StatusForbidden, err.Error()
	case "not_found":
		status, msg = http.StatusNotFound, err.Error()
	case "invalid_argument":
		status, msg = http.StatusBadRequest, err.Error()
	default:
		log.Error().Err(err).Str("module", "transport.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"code": code, "error": msg})
}
