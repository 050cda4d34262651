package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// Citation is one page-level evidence group returned to the user: the merged
// snippet, the page image, and the highlight rectangles.
type Citation struct {
	NodeID         string              `json:"node_id"`
	DocumentID     string              `json:"document_id"`
	PageNumber     int                 `json:"page_number"`
	ContentSnippet string              `json:"content_snippet"`
	ImageURL       string              `json:"image_url,omitempty"`
	BoundingBoxes  []types.BoundingBox `json:"bounding_boxes,omitempty"`
	RelevanceScore float64             `json:"relevance_score"`
	Title          string              `json:"title,omitempty"`
}

type EvidenceImage struct {
	DocumentID string `json:"document_id"`
	PageNumber int    `json:"page_number"`
	ImageURL   string `json:"image_url"`
}

type SearchResult struct {
	Hits           []repos.ScoredChunk `json:"-"`
	Citations      []Citation          `json:"citations"`
	EvidenceImages []EvidenceImage     `json:"evidence_images"`
}

// SearchOptions narrows a query; zero values disable each constraint.
type SearchOptions struct {
	K            int
	DocumentID   string
	ContentTypes []string
	MinScore     float64
}

type Retriever interface {
	Search(ctx context.Context, queryText string, opts SearchOptions) (*SearchResult, error)
}

type Config struct {
	// DenseWeight is the dense/lexical fusion weight in [0,1]. Zero selects
	// pure lexical ranking; negative or out-of-range values take the 0.6
	// default.
	DenseWeight       float64
	TopK              int
	DenseCandidates   int
	LexicalCandidates int
	EvidenceImageCap  int
}

func (c Config) withDefaults() Config {
	if c.DenseWeight < 0 || c.DenseWeight > 1 {
		c.DenseWeight = 0.6
	}
	if c.TopK <= 0 {
		c.TopK = 8
	}
	if c.EvidenceImageCap <= 0 {
		c.EvidenceImageCap = 5
	}
	return c
}

type retriever struct {
	log       *logger.Logger
	oai       openai.Client
	knowledge repos.KnowledgeRepo
	cfg       Config
}

func New(log *logger.Logger, oai openai.Client, knowledge repos.KnowledgeRepo, cfg Config) Retriever {
	return &retriever{
		log:       log.With("service", "Retriever"),
		oai:       oai,
		knowledge: knowledge,
		cfg:       cfg.withDefaults(),
	}
}

func (r *retriever) Search(ctx context.Context, queryText string, opts SearchOptions) (*SearchResult, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, apierr.Validation(fmt.Errorf("query text required"))
	}

	k := opts.K
	if k <= 0 {
		k = r.cfg.TopK
	}

	embedding, err := r.embedQuery(ctx, queryText)
	if err != nil {
		return nil, apierr.Upstream(fmt.Errorf("embed query: %w", err))
	}

	hits, err := r.knowledge.HybridSearch(ctx, nil, queryText, embedding, k, repos.HybridSearchOptions{
		DenseWeight:       r.cfg.DenseWeight,
		DenseCandidates:   r.cfg.DenseCandidates,
		LexicalCandidates: r.cfg.LexicalCandidates,
		MinScore:          opts.MinScore,
		Filter: repos.ChunkFilter{
			DocumentID:   opts.DocumentID,
			ContentTypes: opts.ContentTypes,
		},
	})
	if err != nil {
		return nil, apierr.Unavailable(fmt.Errorf("hybrid search: %w", err))
	}

	citations := AssembleCitations(hits)
	return &SearchResult{
		Hits:           hits,
		Citations:      citations,
		EvidenceImages: collectEvidenceImages(citations, r.cfg.EvidenceImageCap),
	}, nil
}

func (r *retriever) embedQuery(ctx context.Context, queryText string) (types.Vector, error) {
	vecs, err := r.oai.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return types.Vector(vecs[0]), nil
}

// AssembleCitations groups hits by (document, page) and merges each group
// into one citation: member texts joined in chunk-index order (" … " marks
// a gap between non-adjacent chunks), boxes concatenated in the same order,
// relevance is the best member score. Output order is relevance descending
// with (document_id, page_number) breaking ties, so the result is
// deterministic for a given hit list.
func AssembleCitations(hits []repos.ScoredChunk) []Citation {
	if len(hits) == 0 {
		return []Citation{}
	}

	type pageKey struct {
		doc  string
		page int
	}

	groups := map[pageKey][]repos.ScoredChunk{}
	order := []pageKey{}
	for _, h := range hits {
		key := pageKey{doc: h.Chunk.DocumentID, page: h.Chunk.PageNumber}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], h)
	}

	citations := make([]Citation, 0, len(order))
	for _, key := range order {
		members := groups[key]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Chunk.ChunkIndex < members[j].Chunk.ChunkIndex
		})

		var snippet strings.Builder
		var boxes []types.BoundingBox
		var title string
		best := members[0].FusedScore

		for i, m := range members {
			if i > 0 {
				if m.Chunk.ChunkIndex == members[i-1].Chunk.ChunkIndex+1 {
					snippet.WriteString(" ")
				} else {
					snippet.WriteString(" … ")
				}
			}
			snippet.WriteString(strings.TrimSpace(m.Chunk.Content))
			boxes = append(boxes, m.Chunk.Boxes()...)
			if m.FusedScore > best {
				best = m.FusedScore
			}
			if title == "" && m.Chunk.ContentType == types.ContentTypeHeading {
				title = strings.TrimSpace(m.Chunk.Content)
			}
		}

		citations = append(citations, Citation{
			NodeID:         members[0].Chunk.ID.String(),
			DocumentID:     key.doc,
			PageNumber:     key.page,
			ContentSnippet: snippet.String(),
			ImageURL:       members[0].Chunk.ImageURL,
			BoundingBoxes:  boxes,
			RelevanceScore: best,
			Title:          title,
		})
	}

	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].RelevanceScore != citations[j].RelevanceScore {
			return citations[i].RelevanceScore > citations[j].RelevanceScore
		}
		if citations[i].DocumentID != citations[j].DocumentID {
			return citations[i].DocumentID < citations[j].DocumentID
		}
		return citations[i].PageNumber < citations[j].PageNumber
	})
	return citations
}

func collectEvidenceImages(citations []Citation, limit int) []EvidenceImage {
	out := []EvidenceImage{}
	seen := map[string]bool{}
	for _, c := range citations {
		if c.ImageURL == "" {
			continue
		}
		key := fmt.Sprintf("%s|%d|%s", c.DocumentID, c.PageNumber, c.ImageURL)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, EvidenceImage{
			DocumentID: c.DocumentID,
			PageNumber: c.PageNumber,
			ImageURL:   c.ImageURL,
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}
