package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
)

type SessionsHandler struct {
	log      *logger.Logger
	sessions repos.SessionRepo
}

func NewSessionsHandler(log *logger.Logger, sessions repos.SessionRepo) *SessionsHandler {
	return &SessionsHandler{
		log:      log.With("handler", "SessionsHandler"),
		sessions: sessions,
	}
}

func (h *SessionsHandler) ListByUser(c *gin.Context) {
	userID := c.Param("user_id")

	list, err := h.sessions.ListByUser(c.Request.Context(), nil, userID)
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("list sessions: %w", err)))
		return
	}

	RespondOK(c, gin.H{
		"user_id":  userID,
		"sessions": list,
	}, nil)
}
