package handlers

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/gcp"
	"github.com/vimaru-ai/seatutor-backend/internal/ingestion"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
)

const maxUploadBytes = 200 << 20

type KnowledgeHandler struct {
	log       *logger.Logger
	pipeline  ingestion.Pipeline
	knowledge repos.KnowledgeRepo
	bucket    gcp.BucketService
}

func NewKnowledgeHandler(log *logger.Logger, pipeline ingestion.Pipeline, knowledge repos.KnowledgeRepo, bucket gcp.BucketService) *KnowledgeHandler {
	return &KnowledgeHandler{
		log:       log.With("handler", "KnowledgeHandler"),
		pipeline:  pipeline,
		knowledge: knowledge,
		bucket:    bucket,
	}
}

// IngestMultimodal accepts a PDF upload and starts a background ingestion
// job. The response is the job's initial snapshot; progress is polled via
// the jobs endpoint.
func (h *KnowledgeHandler) IngestMultimodal(c *gin.Context) {
	if role := c.PostForm("role"); role != "admin" {
		RespondError(c, apierr.Forbidden(fmt.Errorf("ingestion requires admin role")))
		return
	}

	documentID := strings.TrimSpace(c.PostForm("document_id"))
	if documentID == "" {
		RespondError(c, apierr.Validation(fmt.Errorf("document_id required")))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, apierr.Validation(fmt.Errorf("file required: %w", err)))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		RespondError(c, apierr.Validation(fmt.Errorf("file exceeds %d bytes", maxUploadBytes)))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, apierr.Validation(fmt.Errorf("open upload: %w", err)))
		return
	}
	defer f.Close()
	pdfBytes, err := io.ReadAll(f)
	if err != nil {
		RespondError(c, apierr.Internal(fmt.Errorf("read upload: %w", err)))
		return
	}

	opts := ingestion.Options{}
	if v := c.PostForm("max_pages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxPages = n
		}
	}
	if v := c.PostForm("resume"); v != "" {
		opts.Resume, _ = strconv.ParseBool(v)
	}

	snap, err := h.pipeline.Start(c.Request.Context(), pdfBytes, documentID, opts)
	if err != nil {
		RespondError(c, err)
		return
	}

	h.log.Info("Ingestion job started",
		"job_id", snap.JobID,
		"document_id", documentID,
		"total_pages", snap.TotalPages,
		"resume", opts.Resume,
	)
	RespondOK(c, snap, nil)
}

func (h *KnowledgeHandler) Job(c *gin.Context) {
	jobID := c.Param("job_id")
	snap, ok := h.pipeline.Job(jobID)
	if !ok {
		RespondError(c, apierr.NotFound(fmt.Errorf("job %s not found", jobID)))
		return
	}
	RespondOK(c, snap, nil)
}

func (h *KnowledgeHandler) List(c *gin.Context) {
	docs, err := h.knowledge.ListDocuments(c.Request.Context(), nil)
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("list documents: %w", err)))
		return
	}
	RespondOK(c, gin.H{"documents": docs}, nil)
}

// Stats degrades instead of failing: a broken DB returns zeros plus a
// warning so dashboards keep rendering.
func (h *KnowledgeHandler) Stats(c *gin.Context) {
	stats, err := h.knowledge.Stats(c.Request.Context(), nil)
	if err != nil {
		h.log.Warn("Stats degraded", "error", err)
		RespondOK(c, gin.H{
			"total_chunks":    0,
			"total_documents": 0,
			"by_content_type": gin.H{},
			"warning":         "persistence degraded; counts unavailable",
		}, nil)
		return
	}
	RespondOK(c, stats, nil)
}

// DeleteDocument removes a document's chunks, then its page images best
// effort.
func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	if role := c.Query("role"); role != "admin" {
		RespondError(c, apierr.Forbidden(fmt.Errorf("document deletion requires admin role")))
		return
	}
	documentID := c.Param("document_id")

	deleted, err := h.knowledge.DeleteByDocument(c.Request.Context(), nil, documentID)
	if err != nil {
		RespondError(c, apierr.Unavailable(fmt.Errorf("delete document: %w", err)))
		return
	}
	if err := h.bucket.DeletePrefix(c.Request.Context(), fmt.Sprintf("documents/%s/", documentID)); err != nil {
		h.log.Warn("Page image cleanup failed", "document_id", documentID, "error", err)
	}

	h.log.Info("Document deleted", "document_id", documentID, "chunks", deleted)
	RespondOK(c, gin.H{
		"document_id":    documentID,
		"deleted_chunks": deleted,
	}, nil)
}
