package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

type SessionSummary struct {
	SessionID    uuid.UUID `json:"session_id"`
	UserID       string    `json:"user_id"`
	UserName     *string   `json:"user_name,omitempty"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    string    `json:"created_at"`
	LastActivity string    `json:"last_activity"`
}

type SessionRepo interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, userID string, userName *string) (*types.ChatSession, error)
	Get(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.ChatSession, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]SessionSummary, error)
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// GetOrCreate upserts by session_id. The client owns session identity, so a
// turn for an unseen session creates the row in place.
func (r *sessionRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, userID string, userName *string) (*types.ChatSession, error) {
	session := &types.ChatSession{
		SessionID: sessionID,
		UserID:    userID,
		UserName:  userName,
	}
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoNothing: true,
		}).
		Create(session).Error
	if err != nil {
		return nil, err
	}

	var got types.ChatSession
	if err := r.conn(tx).WithContext(ctx).Where("session_id = ?", sessionID).First(&got).Error; err != nil {
		return nil, err
	}
	if userName != nil && (got.UserName == nil || *got.UserName != *userName) {
		if err := r.conn(tx).WithContext(ctx).
			Model(&types.ChatSession{}).
			Where("session_id = ?", sessionID).
			Update("user_name", userName).Error; err != nil {
			return nil, err
		}
		got.UserName = userName
	}
	return &got, nil
}

func (r *sessionRepo) Get(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.ChatSession, error) {
	var session types.ChatSession
	err := r.conn(tx).WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]SessionSummary, error) {
	var rows []SessionSummary
	err := r.conn(tx).WithContext(ctx).
		Model(&types.ChatSession{}).
		Select(`chat_sessions.session_id,
			chat_sessions.user_id,
			chat_sessions.user_name,
			count(chat_messages.id) AS message_count,
			to_char(chat_sessions.created_at, 'YYYY-MM-DD"T"HH24:MI:SS"Z"') AS created_at,
			to_char(coalesce(max(chat_messages.created_at), chat_sessions.created_at), 'YYYY-MM-DD"T"HH24:MI:SS"Z"') AS last_activity`).
		Joins(`LEFT JOIN chat_messages ON chat_messages.session_id = chat_sessions.session_id`).
		Where("chat_sessions.user_id = ?", userID).
		Group("chat_sessions.session_id").
		Order("max(chat_messages.created_at) DESC NULLS LAST").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *sessionRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.ChatSession{})
	return res.RowsAffected, res.Error
}
