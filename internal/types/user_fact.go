package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	FactTypeUserIdentity    = "user_identity"
	FactTypeLearningStyle   = "learning_style"
	FactTypeTopicPreference = "topic_preference"
	FactTypeGoal            = "goal"
)

// SingletonFactTypes lists fact types with at most one row per user,
// enforced by a partial unique index on (user_id, fact_type).
var SingletonFactTypes = map[string]bool{
	FactTypeUserIdentity: true,
}

// UserFact is one short natural-language statement about a user, kept in a
// capped per-user list with LRU eviction for list-valued types.
type UserFact struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    string    `gorm:"column:user_id;not null;index:idx_user_facts_user_type,priority:1" json:"user_id"`
	FactType  string    `gorm:"column:fact_type;not null;index:idx_user_facts_user_type,priority:2" json:"fact_type"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (UserFact) TableName() string { return "user_facts" }
