package repos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

type FactRepo interface {
	ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.UserFact, error)
	ListByType(ctx context.Context, tx *gorm.DB, userID, factType string) ([]*types.UserFact, error)
	Insert(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error
	UpsertSingleton(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error
	ExistsContent(ctx context.Context, tx *gorm.DB, userID, factType, content string) (bool, error)
	DeleteByID(ctx context.Context, tx *gorm.DB, userID string, id uuid.UUID) (int64, error)
	DeleteByType(ctx context.Context, tx *gorm.DB, userID, factType string) (int64, error)
	DeleteAll(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
	CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
	EvictOverCap(ctx context.Context, tx *gorm.DB, userID string, cap int) (int64, error)
}

type factRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFactRepo(db *gorm.DB, baseLog *logger.Logger) FactRepo {
	return &factRepo{db: db, log: baseLog.With("repo", "FactRepo")}
}

func (r *factRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *factRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.UserFact, error) {
	var facts []*types.UserFact
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&facts).Error
	if err != nil {
		return nil, err
	}
	return facts, nil
}

func (r *factRepo) ListByType(ctx context.Context, tx *gorm.DB, userID, factType string) ([]*types.UserFact, error) {
	var facts []*types.UserFact
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND fact_type = ?", userID, factType).
		Order("updated_at DESC").
		Find(&facts).Error
	if err != nil {
		return nil, err
	}
	return facts, nil
}

func (r *factRepo) Insert(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error {
	return r.conn(tx).WithContext(ctx).Create(fact).Error
}

// UpsertSingleton relies on the partial unique index over singleton fact
// types, so concurrent writers collapse to one row per (user, type).
func (r *factRepo) UpsertSingleton(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error {
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "fact_type"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("fact_type IN ('user_identity')"),
			}},
			DoUpdates: clause.Assignments(map[string]any{
				"content":    fact.Content,
				"updated_at": gorm.Expr("now()"),
			}),
		}).
		Create(fact).Error
}

// ExistsContent does the duplicate check with case-insensitive, trimmed
// comparison so "Focus on COLREG" and "focus on colreg" count as one fact.
func (r *factRepo) ExistsContent(ctx context.Context, tx *gorm.DB, userID, factType, content string) (bool, error) {
	var n int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.UserFact{}).
		Where("user_id = ? AND fact_type = ? AND lower(trim(content)) = ?",
			userID, factType, strings.ToLower(strings.TrimSpace(content))).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteByID scopes the delete to the owning user so a stale id can never
// touch someone else's facts.
func (r *factRepo) DeleteByID(ctx context.Context, tx *gorm.DB, userID string, id uuid.UUID) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&types.UserFact{})
	return res.RowsAffected, res.Error
}

func (r *factRepo) DeleteByType(ctx context.Context, tx *gorm.DB, userID, factType string) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND fact_type = ?", userID, factType).
		Delete(&types.UserFact{})
	return res.RowsAffected, res.Error
}

func (r *factRepo) DeleteAll(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.UserFact{})
	return res.RowsAffected, res.Error
}

func (r *factRepo) CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	var n int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.UserFact{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}

// EvictOverCap drops the oldest facts past the per-user cap. Singleton types
// never get evicted but still count toward the cap, so the total row count
// stays within it.
func (r *factRepo) EvictOverCap(ctx context.Context, tx *gorm.DB, userID string, cap int) (int64, error) {
	if cap <= 0 {
		return 0, nil
	}
	res := r.conn(tx).WithContext(ctx).Exec(`
		DELETE FROM user_facts
		WHERE id IN (
			SELECT id FROM user_facts
			WHERE user_id = ? AND fact_type NOT IN ('user_identity')
			ORDER BY updated_at DESC
			OFFSET greatest(? - (
				SELECT count(*) FROM user_facts
				WHERE user_id = ? AND fact_type IN ('user_identity')
			), 0)
		)`, userID, cap, userID)
	return res.RowsAffected, res.Error
}
