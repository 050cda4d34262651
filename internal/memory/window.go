package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// Window loads the conversation history used to build the next prompt.
// Blocked messages never appear here; that exclusion lives in the repo query.
type Window interface {
	Recent(ctx context.Context, sessionID uuid.UUID) ([]*types.ChatMessage, error)
	Facts(ctx context.Context, userID string) ([]*types.UserFact, error)
}

type window struct {
	log      *logger.Logger
	messages repos.MessageRepo
	facts    repos.FactRepo
	limit    int
}

func NewWindow(log *logger.Logger, messages repos.MessageRepo, facts repos.FactRepo, limit int) Window {
	if limit <= 0 {
		limit = 50
	}
	return &window{
		log:      log.With("service", "MemoryWindow"),
		messages: messages,
		facts:    facts,
		limit:    limit,
	}
}

func (w *window) Recent(ctx context.Context, sessionID uuid.UUID) ([]*types.ChatMessage, error) {
	return w.messages.LoadRecent(ctx, nil, sessionID, w.limit)
}

func (w *window) Facts(ctx context.Context, userID string) ([]*types.UserFact, error) {
	return w.facts.ListByUser(ctx, nil, userID)
}
