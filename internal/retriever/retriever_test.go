package retriever

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

func hit(doc string, page, chunkIdx int, content, contentType string, fused float64) repos.ScoredChunk {
	return repos.ScoredChunk{
		Chunk: &types.KnowledgeChunk{
			ID:          uuid.New(),
			DocumentID:  doc,
			PageNumber:  page,
			ChunkIndex:  chunkIdx,
			Content:     content,
			ContentType: contentType,
			ImageURL:    "https://cdn.example.com/" + doc + "/page.png",
		},
		FusedScore: fused,
	}
}

func TestConfig_DenseWeightRange(t *testing.T) {
	if got := (Config{DenseWeight: 0}).withDefaults().DenseWeight; got != 0 {
		t.Fatalf("zero weight = %v, want 0 (lexical-only stays configurable)", got)
	}
	if got := (Config{DenseWeight: 1}).withDefaults().DenseWeight; got != 1 {
		t.Fatalf("full dense weight = %v, want 1", got)
	}
	if got := (Config{DenseWeight: -1}).withDefaults().DenseWeight; got != 0.6 {
		t.Fatalf("negative weight = %v, want the 0.6 default", got)
	}
	if got := (Config{DenseWeight: 1.5}).withDefaults().DenseWeight; got != 0.6 {
		t.Fatalf("out-of-range weight = %v, want the 0.6 default", got)
	}
}

func TestAssembleCitations_MergesSamePage(t *testing.T) {
	hits := []repos.ScoredChunk{
		hit("colregs", 12, 2, "vessels shall keep clear", "text", 0.8),
		hit("colregs", 12, 0, "Rule 15 Crossing situation", "heading", 0.9),
		hit("colregs", 12, 1, "When two power-driven vessels are crossing", "text", 0.7),
	}

	got := AssembleCitations(hits)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 merged citation", len(got))
	}
	c := got[0]
	want := "Rule 15 Crossing situation When two power-driven vessels are crossing vessels shall keep clear"
	if c.ContentSnippet != want {
		t.Fatalf("snippet = %q, want %q", c.ContentSnippet, want)
	}
	if c.Title != "Rule 15 Crossing situation" {
		t.Fatalf("title = %q", c.Title)
	}
	if c.RelevanceScore != 0.9 {
		t.Fatalf("relevance = %v, want max member score 0.9", c.RelevanceScore)
	}
}

func TestAssembleCitations_GapMarker(t *testing.T) {
	hits := []repos.ScoredChunk{
		hit("colregs", 5, 0, "first part", "text", 0.6),
		hit("colregs", 5, 3, "later part", "text", 0.5),
	}

	got := AssembleCitations(hits)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ContentSnippet != "first part … later part" {
		t.Fatalf("snippet = %q", got[0].ContentSnippet)
	}
}

func TestAssembleCitations_Deterministic(t *testing.T) {
	hits := []repos.ScoredChunk{
		hit("solas", 10, 0, "life-saving appliances", "text", 0.7),
		hit("colregs", 3, 0, "lookout by sight and hearing", "text", 0.7),
		hit("colregs", 8, 0, "safe speed", "text", 0.9),
	}

	first := AssembleCitations(hits)
	second := AssembleCitations(hits)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same hits produced different citations")
	}

	// Highest relevance first; ties by (document_id, page_number).
	if first[0].DocumentID != "colregs" || first[0].PageNumber != 8 {
		t.Fatalf("first citation = %s p%d, want colregs p8", first[0].DocumentID, first[0].PageNumber)
	}
	if first[1].DocumentID != "colregs" || first[1].PageNumber != 3 {
		t.Fatalf("second citation = %s p%d, want colregs p3", first[1].DocumentID, first[1].PageNumber)
	}
	if first[2].DocumentID != "solas" {
		t.Fatalf("third citation = %s, want solas", first[2].DocumentID)
	}
}

func TestAssembleCitations_Empty(t *testing.T) {
	got := AssembleCitations(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil slice, got %v", got)
	}
}

func TestCollectEvidenceImages_DedupAndCap(t *testing.T) {
	citations := []Citation{
		{DocumentID: "a", PageNumber: 1, ImageURL: "u1"},
		{DocumentID: "a", PageNumber: 1, ImageURL: "u1"},
		{DocumentID: "a", PageNumber: 2, ImageURL: "u2"},
		{DocumentID: "b", PageNumber: 1, ImageURL: "u3"},
		{DocumentID: "b", PageNumber: 2, ImageURL: ""},
	}

	got := collectEvidenceImages(citations, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (capped)", len(got))
	}
	if got[0].ImageURL != "u1" || got[1].ImageURL != "u2" {
		t.Fatalf("unexpected order: %+v", got)
	}
}
