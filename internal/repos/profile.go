package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

type ProfileRepo interface {
	Get(ctx context.Context, tx *gorm.DB, userID string) (*types.LearningProfile, error)
	Upsert(ctx context.Context, tx *gorm.DB, profile *types.LearningProfile) error
	IncrementCounters(ctx context.Context, tx *gorm.DB, userID string, sessions, messages int) error
	Delete(ctx context.Context, tx *gorm.DB, userID string) error
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return &profileRepo{db: db, log: baseLog.With("repo", "ProfileRepo")}
}

func (r *profileRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Get returns a default beginner profile when none exists yet; callers never
// see ErrRecordNotFound for profiles.
func (r *profileRepo) Get(ctx context.Context, tx *gorm.DB, userID string) (*types.LearningProfile, error) {
	var profile types.LearningProfile
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.LearningProfile{UserID: userID, Level: "beginner"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepo) Upsert(ctx context.Context, tx *gorm.DB, profile *types.LearningProfile) error {
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(profile).Error
}

// IncrementCounters bumps the aggregate counters atomically in SQL, creating
// the row first if the user has no profile yet.
func (r *profileRepo) IncrementCounters(ctx context.Context, tx *gorm.DB, userID string, sessions, messages int) error {
	conn := r.conn(tx).WithContext(ctx)
	err := conn.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&types.LearningProfile{UserID: userID, Level: "beginner"}).Error
	if err != nil {
		return err
	}
	return conn.Model(&types.LearningProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_sessions": gorm.Expr("total_sessions + ?", sessions),
			"total_messages": gorm.Expr("total_messages + ?", messages),
			"updated_at":     gorm.Expr("now()"),
		}).Error
}

func (r *profileRepo) Delete(ctx context.Context, tx *gorm.DB, userID string) error {
	return r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.LearningProfile{}).Error
}
