package types

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ProfileAttributes is the free-form attributes column modelled as known
// subfields plus a fallback map, so callers can evolve the shape safely.
type ProfileAttributes struct {
	PreferredLanguage string  `json:"preferred_language,omitempty"`
	PronounStyle      string  `json:"pronoun_style,omitempty"`
	LastAgentType     string  `json:"last_agent_type,omitempty"`
	Extra             map[string]any `json:"-"`
}

func (a ProfileAttributes) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range a.Extra {
		out[k] = v
	}
	if a.PreferredLanguage != "" {
		out["preferred_language"] = a.PreferredLanguage
	}
	if a.PronounStyle != "" {
		out["pronoun_style"] = a.PronounStyle
	}
	if a.LastAgentType != "" {
		out["last_agent_type"] = a.LastAgentType
	}
	return json.Marshal(out)
}

func (a *ProfileAttributes) UnmarshalJSON(raw []byte) error {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if v, ok := m["preferred_language"].(string); ok {
		a.PreferredLanguage = v
		delete(m, "preferred_language")
	}
	if v, ok := m["pronoun_style"].(string); ok {
		a.PronounStyle = v
		delete(m, "pronoun_style")
	}
	if v, ok := m["last_agent_type"].(string); ok {
		a.LastAgentType = v
		delete(m, "last_agent_type")
	}
	a.Extra = m
	return nil
}

type LearningProfile struct {
	UserID        string  `gorm:"column:user_id;primaryKey" json:"user_id"`
	Level         string  `gorm:"column:level;not null;default:'beginner'" json:"level"`
	LearningStyle *string `gorm:"column:learning_style" json:"learning_style,omitempty"`

	WeakTopics        datatypes.JSON `gorm:"type:jsonb;column:weak_topics" json:"weak_topics,omitempty"`
	StrongTopics      datatypes.JSON `gorm:"type:jsonb;column:strong_topics" json:"strong_topics,omitempty"`
	WeakAreas         datatypes.JSON `gorm:"type:jsonb;column:weak_areas" json:"weak_areas,omitempty"`
	StrongAreas       datatypes.JSON `gorm:"type:jsonb;column:strong_areas" json:"strong_areas,omitempty"`
	CompletedTopics   datatypes.JSON `gorm:"type:jsonb;column:completed_topics" json:"completed_topics,omitempty"`
	AssessmentHistory datatypes.JSON `gorm:"type:jsonb;column:assessment_history" json:"assessment_history,omitempty"`

	TotalSessions int `gorm:"column:total_sessions;not null;default:0" json:"total_sessions"`
	TotalMessages int `gorm:"column:total_messages;not null;default:0" json:"total_messages"`

	Attributes datatypes.JSON `gorm:"type:jsonb;column:attributes" json:"attributes,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (LearningProfile) TableName() string { return "learning_profile" }

func (p *LearningProfile) ParsedAttributes() ProfileAttributes {
	var a ProfileAttributes
	if p == nil || len(p.Attributes) == 0 {
		return a
	}
	_ = json.Unmarshal(p.Attributes, &a)
	return a
}

func (p *LearningProfile) SetAttributes(a ProfileAttributes) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	p.Attributes = datatypes.JSON(raw)
	return nil
}
