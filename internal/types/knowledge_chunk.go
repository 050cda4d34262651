package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ContentTypeText             = "text"
	ContentTypeHeading          = "heading"
	ContentTypeTable            = "table"
	ContentTypeFormula          = "formula"
	ContentTypeDiagramReference = "diagram_reference"
)

const (
	ChunkSourceDirect = "direct"
	ChunkSourceVision = "vision"
)

// BoundingBox marks a region of the page image covered by a chunk.
// Coordinates are normalized to 0–100 in both axes, origin top-left.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// KnowledgeChunk is one semantically coherent unit of a document page,
// persisted together with its dense embedding and visual evidence. The
// lexical_vector tsvector column is maintained by a database trigger and is
// intentionally absent from the model.
type KnowledgeChunk struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID      string         `gorm:"column:document_id;not null;index:idx_knowledge_doc_page_chunk,unique,priority:1" json:"document_id"`
	PageNumber      int            `gorm:"column:page_number;not null;index:idx_knowledge_doc_page_chunk,unique,priority:2" json:"page_number"`
	ChunkIndex      int            `gorm:"column:chunk_index;not null;index:idx_knowledge_doc_page_chunk,unique,priority:3" json:"chunk_index"`
	Content         string         `gorm:"column:content;type:text;not null" json:"content"`
	ContentType     string         `gorm:"column:content_type;not null;default:'text';index" json:"content_type"`
	ConfidenceScore float64        `gorm:"column:confidence_score;not null;default:1.0" json:"confidence_score"`
	Source          string         `gorm:"column:source;not null;default:'direct'" json:"source"`
	Embedding       Vector         `gorm:"column:embedding" json:"-"`
	ImageURL        string         `gorm:"column:image_url" json:"image_url,omitempty"`
	BoundingBoxes   datatypes.JSON `gorm:"type:jsonb;column:bounding_boxes" json:"bounding_boxes,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeChunk) TableName() string { return "knowledge_embeddings" }

func (c *KnowledgeChunk) Boxes() []BoundingBox {
	if c == nil || len(c.BoundingBoxes) == 0 {
		return nil
	}
	var boxes []BoundingBox
	if err := json.Unmarshal(c.BoundingBoxes, &boxes); err != nil {
		return nil
	}
	return boxes
}

func (c *KnowledgeChunk) SetBoxes(boxes []BoundingBox) error {
	if len(boxes) == 0 {
		c.BoundingBoxes = nil
		return nil
	}
	raw, err := json.Marshal(boxes)
	if err != nil {
		return err
	}
	c.BoundingBoxes = datatypes.JSON(raw)
	return nil
}
