package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/orchestrator"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/retriever"
	"github.com/vimaru-ai/seatutor-backend/internal/streaming"
)

type ChatRequest struct {
	UserID    string  `json:"user_id" binding:"required"`
	Message   string  `json:"message" binding:"required"`
	Role      string  `json:"role"`
	UserName  *string `json:"user_name,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
}

type ChatHandler struct {
	log  *logger.Logger
	orch orchestrator.Orchestrator
}

func NewChatHandler(log *logger.Logger, orch orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), orch: orch}
}

func (h *ChatHandler) parse(c *gin.Context) (orchestrator.TurnInput, error) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return orchestrator.TurnInput{}, apierr.Validation(fmt.Errorf("invalid request body: %w", err))
	}
	switch req.Role {
	case "", orchestrator.RoleStudent, orchestrator.RoleTeacher, orchestrator.RoleAdmin:
	default:
		return orchestrator.TurnInput{}, apierr.Validation(fmt.Errorf("unknown role %q", req.Role))
	}

	// Sessions are client-owned; a missing id starts a fresh one.
	sessionID := uuid.New()
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			return orchestrator.TurnInput{}, apierr.Validation(fmt.Errorf("invalid session_id: %w", err))
		}
		sessionID = parsed
	}

	return orchestrator.TurnInput{
		SessionID: sessionID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Role:      req.Role,
		Message:   req.Message,
	}, nil
}

func (h *ChatHandler) Chat(c *gin.Context) {
	in, err := h.parse(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	result, err := h.orch.HandleTurn(c.Request.Context(), in)
	if err != nil {
		RespondError(c, err)
		return
	}

	sources := result.Citations
	if sources == nil {
		sources = []retriever.Citation{}
	}

	RespondOK(c, gin.H{
		"session_id":          result.SessionID,
		"answer":              result.Answer,
		"thinking":            result.Thinking,
		"blocked":             result.Blocked,
		"sources":             sources,
		"evidence_images":     result.EvidenceImages,
		"suggested_questions": result.SuggestedQuestions,
	}, gin.H{
		"agent_type":        agentType(result),
		"intent":            result.Intent,
		"intent_confidence": result.IntentConfidence,
		"processing_time":   result.LatencyMS,
		"tools_used":        result.ToolsUsed,
		"thinking_source":   result.ThinkingSource,
	})
}

func (h *ChatHandler) ChatStream(c *gin.Context) {
	in, err := h.parse(c)
	if err != nil {
		RespondError(c, err)
		return
	}

	mux := streaming.NewMultiplexer(0)
	splitter := streaming.NewSplitter(mux)

	go func() {
		defer mux.Close()

		result, err := h.orch.HandleTurnStream(c.Request.Context(), in, splitter.Feed)
		if err != nil {
			h.log.Warn("Streamed turn failed", "session_id", in.SessionID, "error", err)
			mux.Publish(streaming.Event{Type: streaming.EventError, Data: publicError(err)})
			return
		}
		splitter.Flush()

		// Blocked turns never stream deltas; emit the refusal as one answer.
		if result.Blocked {
			mux.Publish(streaming.Event{Type: streaming.EventAnswer, Data: result.Answer})
		}

		sources := result.Citations
		if sources == nil {
			sources = []retriever.Citation{}
		}
		mux.Publish(streaming.Event{Type: streaming.EventSources, Data: gin.H{
			"sources":             sources,
			"evidence_images":     result.EvidenceImages,
			"suggested_questions": result.SuggestedQuestions,
		}})
		mux.Publish(streaming.Event{Type: streaming.EventMetadata, Data: gin.H{
			"agent_type":         agentType(result),
			"intent":             result.Intent,
			"processing_time_ms": result.LatencyMS,
			"tools_used":         toolList(result.ToolsUsed),
		}})
		mux.Publish(streaming.Event{Type: streaming.EventDone, Data: gin.H{"session_id": result.SessionID}})
	}()

	streaming.WriteSSE(c, mux)
}

func agentType(result *orchestrator.TurnResult) string {
	switch result.Intent {
	case "KNOWLEDGE":
		return "knowledge"
	case "TEACHING":
		return "teaching"
	default:
		return "general"
	}
}

// toolList expands the stream metadata's tool trace into named objects, the
// shape streaming clients consume.
func toolList(names []string) []gin.H {
	out := make([]gin.H, 0, len(names))
	for _, n := range names {
		out = append(out, gin.H{"name": n})
	}
	return out
}

func publicError(err error) gin.H {
	if ae, ok := apierr.AsError(err); ok {
		return gin.H{"code": ae.Code, "message": publicMessage(ae)}
	}
	return gin.H{"code": "internal_error", "message": "unexpected error"}
}
