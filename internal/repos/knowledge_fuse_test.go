package repos

import (
	"testing"

	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

func scored(id uuid.UUID, page, chunkIdx int, dense, lex float64) ScoredChunk {
	return ScoredChunk{
		Chunk: &types.KnowledgeChunk{
			ID:          id,
			DocumentID:  "colregs-1972",
			PageNumber:  page,
			ChunkIndex:  chunkIdx,
			ContentType: "text",
		},
		DenseScore: dense,
		LexScore:   lex,
	}
}

func TestFuseCandidates_SortedByFusedThenPosition(t *testing.T) {
	a := scored(uuid.New(), 3, 0, 0.9, 0)
	b := scored(uuid.New(), 1, 2, 0.5, 2.0)
	c := scored(uuid.New(), 1, 1, 0.5, 2.0)

	got := FuseCandidates([]ScoredChunk{a, b, c}, []ScoredChunk{b, c}, 0.5, 10, ChunkFilter{}, 0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].FusedScore > got[i-1].FusedScore {
			t.Fatalf("not sorted by fused score at %d: %v > %v", i, got[i].FusedScore, got[i-1].FusedScore)
		}
	}
	// b and c tie on fused score; chunk_index breaks the tie ascending.
	if got[0].Chunk.ChunkIndex != 1 || got[1].Chunk.ChunkIndex != 2 {
		t.Fatalf("tie not broken by (page, chunk_index): got indices %d, %d",
			got[0].Chunk.ChunkIndex, got[1].Chunk.ChunkIndex)
	}
}

func TestFuseCandidates_AlphaOneIsDenseOnly(t *testing.T) {
	d1 := scored(uuid.New(), 1, 0, 0.9, 0)
	d2 := scored(uuid.New(), 2, 0, 0.7, 0)
	lexOnly := scored(uuid.New(), 3, 0, 0, 5.0)

	got := FuseCandidates([]ScoredChunk{d1, d2}, []ScoredChunk{lexOnly}, 1.0, 2, ChunkFilter{}, 0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Chunk.ID != d1.Chunk.ID || got[1].Chunk.ID != d2.Chunk.ID {
		t.Fatalf("alpha=1 must return exactly the dense top-k in dense order")
	}
}

func TestFuseCandidates_AlphaZeroIsLexicalOnly(t *testing.T) {
	denseOnly := scored(uuid.New(), 1, 0, 0.99, 0)
	l1 := scored(uuid.New(), 2, 0, 0, 4.0)
	l2 := scored(uuid.New(), 3, 0, 0, 2.0)

	got := FuseCandidates([]ScoredChunk{denseOnly}, []ScoredChunk{l1, l2}, 0.0, 2, ChunkFilter{}, 0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Chunk.ID != l1.Chunk.ID || got[1].Chunk.ID != l2.Chunk.ID {
		t.Fatalf("alpha=0 must return exactly the lexical top-k")
	}
	if got[0].FusedScore != 1.0 {
		t.Fatalf("top lexical score must normalize to 1.0, got %v", got[0].FusedScore)
	}
}

func TestFuseCandidates_FiltersApplyAfterFusion(t *testing.T) {
	keep := scored(uuid.New(), 2, 0, 0.4, 1.0)
	drop := scored(uuid.New(), 9, 0, 0.95, 3.0)
	drop.Chunk.DocumentID = "solas-1974"

	got := FuseCandidates(
		[]ScoredChunk{keep, drop},
		[]ScoredChunk{keep, drop},
		0.6, 10,
		ChunkFilter{DocumentID: "colregs-1972"},
		0,
	)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Chunk.ID != keep.Chunk.ID {
		t.Fatalf("filter kept the wrong chunk")
	}
}

func TestFuseCandidates_MinScoreFloor(t *testing.T) {
	weak := scored(uuid.New(), 1, 0, 0.1, 0)
	strong := scored(uuid.New(), 2, 0, 0.9, 0)

	got := FuseCandidates([]ScoredChunk{weak, strong}, nil, 1.0, 10, ChunkFilter{}, 0.5)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Chunk.ID != strong.Chunk.ID {
		t.Fatalf("min score floor kept the wrong chunk")
	}
}

func TestFuseCandidates_DenseScoreClamped(t *testing.T) {
	hot := scored(uuid.New(), 1, 0, 1.7, 0)

	got := FuseCandidates([]ScoredChunk{hot}, nil, 1.0, 1, ChunkFilter{}, 0)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].FusedScore != 1.0 {
		t.Fatalf("fused = %v, want clamped to 1.0", got[0].FusedScore)
	}
}
