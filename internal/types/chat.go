package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatSession struct {
	SessionID uuid.UUID `gorm:"type:uuid;column:session_id;primaryKey" json:"session_id"`
	UserID    string    `gorm:"column:user_id;not null;index" json:"user_id"`
	UserName  *string   `gorm:"column:user_name" json:"user_name,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

type ChatMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;column:session_id;not null;index" json:"session_id"`
	Session   *ChatSession `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:SessionID" json:"-"`

	Role    string `gorm:"column:role;not null;index" json:"role"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`

	// Blocked messages stay persisted for audit but are excluded from the
	// history window used to build the next prompt.
	IsBlocked   bool    `gorm:"column:is_blocked;not null;default:false;index" json:"is_blocked"`
	BlockReason *string `gorm:"column:block_reason" json:"block_reason,omitempty"`

	// Assistant messages carry agent_type and tool usage here; the follow-up
	// intent hint for the next turn is derived from it.
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }
