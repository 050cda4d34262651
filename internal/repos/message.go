package repos

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// AssistantMetadata is the shape persisted on assistant messages. The
// agent_type is read back on the next turn as a follow-up routing hint.
type AssistantMetadata struct {
	AgentType   string   `json:"agent_type,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	ToolsUsed   []string `json:"tools_used,omitempty"`
	SourceCount int      `json:"source_count,omitempty"`
	LatencyMS   int64    `json:"latency_ms,omitempty"`
}

type MessageRepo interface {
	Append(ctx context.Context, tx *gorm.DB, msgs ...*types.ChatMessage) error
	LoadRecent(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error)
	HistoryByUser(ctx context.Context, tx *gorm.DB, userID string, offset, limit int) ([]*types.ChatMessage, int64, error)
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
	LastAssistantMetadata(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*AssistantMetadata, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *messageRepo) Append(ctx context.Context, tx *gorm.DB, msgs ...*types.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Create(msgs).Error
}

// LoadRecent returns the newest messages in chronological order, excluding
// blocked turns so moderation rejects never leak back into prompts.
func (r *messageRepo) LoadRecent(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []*types.ChatMessage
	err := r.conn(tx).WithContext(ctx).
		Where("session_id = ? AND is_blocked = false", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// HistoryByUser pages through a user's messages across sessions. Blocked
// turns stay persisted for audit but never appear in the history view.
func (r *messageRepo) HistoryByUser(ctx context.Context, tx *gorm.DB, userID string, offset, limit int) ([]*types.ChatMessage, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	base := r.conn(tx).WithContext(ctx).
		Model(&types.ChatMessage{}).
		Joins("JOIN chat_sessions ON chat_sessions.session_id = chat_messages.session_id").
		Where("chat_sessions.user_id = ? AND chat_messages.is_blocked = false", userID)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []*types.ChatMessage
	err := base.
		Order("chat_messages.created_at DESC, chat_messages.id DESC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *messageRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Where(`session_id IN (SELECT session_id FROM chat_sessions WHERE user_id = ?)`, userID).
		Delete(&types.ChatMessage{})
	return res.RowsAffected, res.Error
}

func (r *messageRepo) LastAssistantMetadata(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*AssistantMetadata, error) {
	var msg types.ChatMessage
	err := r.conn(tx).WithContext(ctx).
		Where("session_id = ? AND role = ? AND is_blocked = false", sessionID, types.RoleAssistant).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(msg.Metadata) == 0 {
		return nil, nil
	}
	var meta AssistantMetadata
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		r.log.Warn("Unparseable assistant metadata", "session_id", sessionID, "error", err)
		return nil, nil
	}
	return &meta, nil
}
