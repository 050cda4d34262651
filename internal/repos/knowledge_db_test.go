package repos

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/repos/testutil"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// unitVector builds a 1536-dim unit vector whose cosine similarity with
// unitVector(1.0) equals x.
func unitVector(x float64) types.Vector {
	v := make(types.Vector, 1536)
	v[0] = float32(x)
	v[1] = float32(math.Sqrt(1 - x*x))
	return v
}

// Hybrid search fans out concurrent queries, so these rows are committed with
// a unique document id and removed afterwards instead of living in a tx.
func TestHybridSearch_WeightExtremes(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewKnowledgeRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	docID := "hybrid-doc-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = repo.DeleteByDocument(ctx, nil, docID)
	})

	chunks := []*types.KnowledgeChunk{
		{
			DocumentID: docID, PageNumber: 1, ChunkIndex: 0,
			Content:     "đèn hành trình của tàu máy đang hành trình",
			ContentType: types.ContentTypeText, ConfidenceScore: 1,
			Source: types.ChunkSourceDirect, Embedding: unitVector(0.99),
		},
		{
			DocumentID: docID, PageNumber: 2, ChunkIndex: 0,
			Content:     "tín hiệu âm thanh khi tầm nhìn hạn chế",
			ContentType: types.ContentTypeText, ConfidenceScore: 1,
			Source: types.ChunkSourceDirect, Embedding: unitVector(0.9),
		},
		{
			DocumentID: docID, PageNumber: 3, ChunkIndex: 0,
			Content:     "quy tắc nhường đường: quy tắc cắt hướng và quy tắc vượt",
			ContentType: types.ContentTypeText, ConfidenceScore: 1,
			Source: types.ChunkSourceDirect, Embedding: unitVector(0.2),
		},
	}
	if err := repo.Create(ctx, nil, chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}

	query := unitVector(1.0)
	pagesOf := func(hits []ScoredChunk) []int {
		out := make([]int, 0, len(hits))
		for _, h := range hits {
			out = append(out, h.Chunk.PageNumber)
		}
		return out
	}

	dense, err := repo.HybridSearch(ctx, nil, "quy tắc", query, 3, HybridSearchOptions{
		DenseWeight:       1.0,
		DenseCandidates:   50,
		LexicalCandidates: 50,
		Filter:            ChunkFilter{DocumentID: docID},
	})
	if err != nil {
		t.Fatalf("dense-only search: %v", err)
	}
	if got := pagesOf(dense); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("weight 1.0 must rank by embedding similarity, got pages %v", got)
	}

	lexical, err := repo.HybridSearch(ctx, nil, "quy tắc", query, 3, HybridSearchOptions{
		DenseWeight:       0.0,
		DenseCandidates:   50,
		LexicalCandidates: 50,
		Filter:            ChunkFilter{DocumentID: docID},
	})
	if err != nil {
		t.Fatalf("lexical-only search: %v", err)
	}
	if got := pagesOf(lexical); len(got) == 0 || got[0] != 3 {
		t.Fatalf("weight 0.0 must rank the lexical match first, got pages %v", got)
	}
	if lexical[0].FusedScore != lexical[0].LexScore {
		t.Fatalf("weight 0.0 fused score must equal the lexical score, got %+v", lexical[0])
	}
}
