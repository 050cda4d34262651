package handlers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
)

type HistoryHandler struct {
	log      *logger.Logger
	db       *gorm.DB
	messages repos.MessageRepo
	sessions repos.SessionRepo
}

func NewHistoryHandler(log *logger.Logger, db *gorm.DB, messages repos.MessageRepo, sessions repos.SessionRepo) *HistoryHandler {
	return &HistoryHandler{
		log:      log.With("handler", "HistoryHandler"),
		db:       db,
		messages: messages,
		sessions: sessions,
	}
}

func (h *HistoryHandler) Get(c *gin.Context) {
	userID := c.Param("user_id")
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	msgs, total, err := h.messages.HistoryByUser(c.Request.Context(), nil, userID, offset, limit)
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("load history: %w", err)))
		return
	}

	RespondOK(c, gin.H{
		"user_id":  userID,
		"messages": msgs,
	}, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type deleteHistoryRequest struct {
	Role             string `json:"role" binding:"required"`
	RequestingUserID string `json:"requesting_user_id" binding:"required"`
}

// Delete removes all of a user's messages and sessions. Admins may delete
// anyone's; everyone else only their own.
func (h *HistoryHandler) Delete(c *gin.Context) {
	userID := c.Param("user_id")

	var req deleteHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	if req.Role != "admin" && req.RequestingUserID != userID {
		RespondError(c, apierr.Forbidden(fmt.Errorf("cannot delete another user's history")))
		return
	}

	var deletedMessages, deletedSessions int64
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		if deletedMessages, err = h.messages.DeleteByUser(c.Request.Context(), tx, userID); err != nil {
			return err
		}
		deletedSessions, err = h.sessions.DeleteByUser(c.Request.Context(), tx, userID)
		return err
	})
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("delete history: %w", err)))
		return
	}

	h.log.Info("History deleted", "user_id", userID, "requested_by", req.RequestingUserID)
	RespondOK(c, gin.H{
		"user_id":          userID,
		"deleted_messages": deletedMessages,
		"deleted_sessions": deletedSessions,
	}, nil)
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return def
	}
	return i
}
