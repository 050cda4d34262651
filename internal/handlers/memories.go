package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
)

type MemoriesHandler struct {
	log      *logger.Logger
	facts    repos.FactRepo
	maxFacts int
}

func NewMemoriesHandler(log *logger.Logger, facts repos.FactRepo, maxFacts int) *MemoriesHandler {
	if maxFacts <= 0 {
		maxFacts = 50
	}
	return &MemoriesHandler{
		log:      log.With("handler", "MemoriesHandler"),
		facts:    facts,
		maxFacts: maxFacts,
	}
}

func (h *MemoriesHandler) Get(c *gin.Context) {
	userID := c.Param("user_id")

	list, err := h.facts.ListByUser(c.Request.Context(), nil, userID)
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("load facts: %w", err)))
		return
	}

	facts := make([]gin.H, 0, len(list))
	for _, f := range list {
		facts = append(facts, gin.H{
			"fact_type":  f.FactType,
			"content":    f.Content,
			"created_at": f.CreatedAt,
		})
	}

	RespondOK(c, gin.H{
		"user_id":     userID,
		"total_facts": len(facts),
		"max_facts":   h.maxFacts,
		"facts":       facts,
	}, nil)
}
