package handlers

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
)

type SourcesHandler struct {
	log       *logger.Logger
	knowledge repos.KnowledgeRepo
}

func NewSourcesHandler(log *logger.Logger, knowledge repos.KnowledgeRepo) *SourcesHandler {
	return &SourcesHandler{
		log:       log.With("handler", "SourcesHandler"),
		knowledge: knowledge,
	}
}

func (h *SourcesHandler) List(c *gin.Context) {
	filter := repos.ChunkFilter{
		DocumentID: c.Query("document_id"),
		PageNumber: intQuery(c, "page_number", 0),
	}
	if ct := c.Query("content_type"); ct != "" {
		filter.ContentTypes = []string{ct}
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	chunks, total, err := h.knowledge.List(c.Request.Context(), nil, filter, offset, limit)
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("list chunks: %w", err)))
		return
	}

	RespondOK(c, gin.H{"sources": chunks}, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *SourcesHandler) Get(c *gin.Context) {
	nodeID, err := uuid.Parse(c.Param("node_id"))
	if err != nil {
		RespondError(c, apierr.Validation(fmt.Errorf("invalid node_id: %w", err)))
		return
	}

	chunk, err := h.knowledge.GetByID(c.Request.Context(), nil, nodeID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondError(c, apierr.NotFound(fmt.Errorf("chunk %s not found", nodeID)))
		return
	}
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("load chunk: %w", err)))
		return
	}

	RespondOK(c, chunk, nil)
}
