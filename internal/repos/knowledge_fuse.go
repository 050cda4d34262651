package repos

import (
	"sort"

	"github.com/google/uuid"
)

// FuseCandidates merges the dense and lexical candidate lists into a single
// ranking: fused = alpha*dense + (1-alpha)*lexNorm, where lexNorm is the raw
// ts_rank_cd score divided by the best lexical score in the batch. Dense
// similarity is clamped to [0,1]. Filters and the score floor apply after
// fusion so a chunk strong on one signal can still surface.
func FuseCandidates(dense, lex []ScoredChunk, alpha float64, k int, filter ChunkFilter, minScore float64) []ScoredChunk {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	var lexTop float64
	for _, c := range lex {
		if c.LexScore > lexTop {
			lexTop = c.LexScore
		}
	}

	merged := map[uuid.UUID]*ScoredChunk{}
	order := make([]uuid.UUID, 0, len(dense)+len(lex))

	for i := range dense {
		c := dense[i]
		if c.DenseScore < 0 {
			c.DenseScore = 0
		}
		if c.DenseScore > 1 {
			c.DenseScore = 1
		}
		merged[c.Chunk.ID] = &c
		order = append(order, c.Chunk.ID)
	}
	for i := range lex {
		c := lex[i]
		norm := 0.0
		if lexTop > 0 {
			norm = c.LexScore / lexTop
		}
		if got, ok := merged[c.Chunk.ID]; ok {
			got.LexScore = norm
			continue
		}
		c.LexScore = norm
		merged[c.Chunk.ID] = &c
		order = append(order, c.Chunk.ID)
	}

	out := make([]ScoredChunk, 0, len(order))
	for _, id := range order {
		c := merged[id]
		c.FusedScore = alpha*c.DenseScore + (1-alpha)*c.LexScore
		if c.FusedScore < minScore {
			continue
		}
		if !chunkMatches(c, filter) {
			continue
		}
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].Chunk.PageNumber != out[j].Chunk.PageNumber {
			return out[i].Chunk.PageNumber < out[j].Chunk.PageNumber
		}
		return out[i].Chunk.ChunkIndex < out[j].Chunk.ChunkIndex
	})

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func chunkMatches(c *ScoredChunk, f ChunkFilter) bool {
	if f.DocumentID != "" && c.Chunk.DocumentID != f.DocumentID {
		return false
	}
	if f.PageNumber > 0 && c.Chunk.PageNumber != f.PageNumber {
		return false
	}
	if f.PageMin > 0 && c.Chunk.PageNumber < f.PageMin {
		return false
	}
	if f.PageMax > 0 && c.Chunk.PageNumber > f.PageMax {
		return false
	}
	if len(f.ContentTypes) > 0 {
		ok := false
		for _, t := range f.ContentTypes {
			if c.Chunk.ContentType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
