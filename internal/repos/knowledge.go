package repos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// ChunkFilter narrows listings and search results. Zero values mean "no
// constraint". Filters are applied after score fusion, per the retrieval
// contract.
type ChunkFilter struct {
	DocumentID   string
	PageNumber   int
	PageMin      int
	PageMax      int
	ContentTypes []string
}

type ScoredChunk struct {
	Chunk      *types.KnowledgeChunk
	DenseScore float64
	LexScore   float64
	FusedScore float64
}

type HybridSearchOptions struct {
	DenseWeight       float64
	DenseCandidates   int
	LexicalCandidates int
	MinScore          float64
	Filter            ChunkFilter
}

type DocumentSummary struct {
	DocumentID  string `json:"document_id"`
	ChunkCount  int64  `json:"chunk_count"`
	PageCount   int64  `json:"page_count"`
	LastUpdated string `json:"last_updated"`
}

type KnowledgeStats struct {
	TotalChunks    int64            `json:"total_chunks"`
	TotalDocuments int64            `json:"total_documents"`
	ByContentType  map[string]int64 `json:"by_content_type"`
}

type KnowledgeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.KnowledgeChunk) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeChunk, error)
	List(ctx context.Context, tx *gorm.DB, filter ChunkFilter, offset, limit int) ([]*types.KnowledgeChunk, int64, error)
	ExistsForPage(ctx context.Context, tx *gorm.DB, documentID string, page int) (bool, error)
	DeleteByDocumentPage(ctx context.Context, tx *gorm.DB, documentID string, page int) error
	DeleteByDocument(ctx context.Context, tx *gorm.DB, documentID string) (int64, error)
	ListDocuments(ctx context.Context, tx *gorm.DB) ([]DocumentSummary, error)
	Stats(ctx context.Context, tx *gorm.DB) (*KnowledgeStats, error)
	HybridSearch(ctx context.Context, tx *gorm.DB, queryText string, queryEmbedding types.Vector, k int, opts HybridSearchOptions) ([]ScoredChunk, error)
}

type knowledgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeRepo {
	return &knowledgeRepo{db: db, log: baseLog.With("repo", "KnowledgeRepo")}
}

func (r *knowledgeRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *knowledgeRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	// Keep batches small because Content is large.
	const batchSize = 100
	return r.conn(tx).WithContext(ctx).CreateInBatches(chunks, batchSize).Error
}

func (r *knowledgeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeChunk, error) {
	var chunk types.KnowledgeChunk
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&chunk).Error
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

func applyChunkFilter(q *gorm.DB, f ChunkFilter) *gorm.DB {
	if f.DocumentID != "" {
		q = q.Where("document_id = ?", f.DocumentID)
	}
	if f.PageNumber > 0 {
		q = q.Where("page_number = ?", f.PageNumber)
	}
	if f.PageMin > 0 {
		q = q.Where("page_number >= ?", f.PageMin)
	}
	if f.PageMax > 0 {
		q = q.Where("page_number <= ?", f.PageMax)
	}
	if len(f.ContentTypes) > 0 {
		q = q.Where("content_type IN ?", f.ContentTypes)
	}
	return q
}

func (r *knowledgeRepo) List(ctx context.Context, tx *gorm.DB, filter ChunkFilter, offset, limit int) ([]*types.KnowledgeChunk, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	base := applyChunkFilter(r.conn(tx).WithContext(ctx).Model(&types.KnowledgeChunk{}), filter)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var chunks []*types.KnowledgeChunk
	err := base.
		Order("document_id, page_number ASC, chunk_index ASC").
		Offset(offset).
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, 0, err
	}
	return chunks, total, nil
}

func (r *knowledgeRepo) ExistsForPage(ctx context.Context, tx *gorm.DB, documentID string, page int) (bool, error) {
	var n int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.KnowledgeChunk{}).
		Where("document_id = ? AND page_number = ?", documentID, page).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *knowledgeRepo) DeleteByDocumentPage(ctx context.Context, tx *gorm.DB, documentID string, page int) error {
	return r.conn(tx).WithContext(ctx).
		Where("document_id = ? AND page_number = ?", documentID, page).
		Delete(&types.KnowledgeChunk{}).Error
}

func (r *knowledgeRepo) DeleteByDocument(ctx context.Context, tx *gorm.DB, documentID string) (int64, error) {
	res := r.conn(tx).WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&types.KnowledgeChunk{})
	return res.RowsAffected, res.Error
}

func (r *knowledgeRepo) ListDocuments(ctx context.Context, tx *gorm.DB) ([]DocumentSummary, error) {
	var rows []DocumentSummary
	err := r.conn(tx).WithContext(ctx).
		Model(&types.KnowledgeChunk{}).
		Select(`document_id,
			count(*) AS chunk_count,
			count(DISTINCT page_number) AS page_count,
			to_char(max(updated_at), 'YYYY-MM-DD"T"HH24:MI:SS"Z"') AS last_updated`).
		Group("document_id").
		Order("document_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *knowledgeRepo) Stats(ctx context.Context, tx *gorm.DB) (*KnowledgeStats, error) {
	stats := &KnowledgeStats{ByContentType: map[string]int64{}}
	conn := r.conn(tx).WithContext(ctx)

	if err := conn.Model(&types.KnowledgeChunk{}).Count(&stats.TotalChunks).Error; err != nil {
		return nil, err
	}
	if err := conn.Model(&types.KnowledgeChunk{}).
		Distinct("document_id").
		Count(&stats.TotalDocuments).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		ContentType string
		N           int64
	}
	if err := conn.Model(&types.KnowledgeChunk{}).
		Select("content_type, count(*) AS n").
		Group("content_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByContentType[row.ContentType] = row.N
	}
	return stats, nil
}

type chunkRow struct {
	types.KnowledgeChunk `gorm:"embedded"`
	DenseScore           float64 `gorm:"column:dense_score"`
	LexScore             float64 `gorm:"column:lex_score"`
}

// HybridSearch runs the dense and lexical candidate queries concurrently and
// fuses them in-process. Backend failures propagate; callers must be able to
// distinguish "no hits" from "database down".
func (r *knowledgeRepo) HybridSearch(ctx context.Context, tx *gorm.DB, queryText string, queryEmbedding types.Vector, k int, opts HybridSearchOptions) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 8
	}
	denseCap := opts.DenseCandidates
	if denseCap <= 0 {
		denseCap = 4 * k
	}
	lexCap := opts.LexicalCandidates
	if lexCap <= 0 {
		lexCap = 4 * k
	}

	conn := r.conn(tx)

	var denseRows, lexRows []chunkRow
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if len(queryEmbedding) == 0 {
			return nil
		}
		err := conn.WithContext(gctx).Raw(`
			SELECT *, (1 - (embedding <=> ?::vector)) AS dense_score, 0.0 AS lex_score
			FROM knowledge_embeddings
			WHERE embedding IS NOT NULL
			ORDER BY embedding <=> ?::vector
			LIMIT ?`, queryEmbedding, queryEmbedding, denseCap).
			Scan(&denseRows).Error
		if err != nil {
			return fmt.Errorf("dense candidates: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if queryText == "" {
			return nil
		}
		err := conn.WithContext(gctx).Raw(`
			SELECT *, 0.0 AS dense_score, ts_rank_cd(lexical_vector, plainto_tsquery('simple', ?)) AS lex_score
			FROM knowledge_embeddings
			WHERE lexical_vector @@ plainto_tsquery('simple', ?)
			ORDER BY lex_score DESC
			LIMIT ?`, queryText, queryText, lexCap).
			Scan(&lexRows).Error
		if err != nil {
			return fmt.Errorf("lexical candidates: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dense := make([]ScoredChunk, 0, len(denseRows))
	for i := range denseRows {
		c := denseRows[i].KnowledgeChunk
		dense = append(dense, ScoredChunk{Chunk: &c, DenseScore: denseRows[i].DenseScore})
	}
	lex := make([]ScoredChunk, 0, len(lexRows))
	for i := range lexRows {
		c := lexRows[i].KnowledgeChunk
		lex = append(lex, ScoredChunk{Chunk: &c, LexScore: lexRows[i].LexScore})
	}

	return FuseCandidates(dense, lex, opts.DenseWeight, k, opts.Filter, opts.MinScore), nil
}
