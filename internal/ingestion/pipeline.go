package ingestion

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/gcp"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/platform/localmedia"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// Options tunes one ingestion run; zero values take the configured defaults.
type Options struct {
	MaxPages int
	Resume   bool
}

type PipelineConfig struct {
	PageConcurrency        int
	VisionDPI              int
	TextUsabilityThreshold float64
	ChunkSizeMax           int
	ChunkSizeMin           int
	DirectPageTimeout      time.Duration
	VisionPageTimeout      time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.PageConcurrency <= 0 {
		c.PageConcurrency = 4
	}
	if c.VisionDPI <= 0 {
		c.VisionDPI = 200
	}
	if c.TextUsabilityThreshold <= 0 {
		c.TextUsabilityThreshold = 0.5
	}
	if c.ChunkSizeMax <= 0 {
		c.ChunkSizeMax = 1000
	}
	if c.ChunkSizeMin <= 0 {
		c.ChunkSizeMin = 120
	}
	if c.DirectPageTimeout <= 0 {
		c.DirectPageTimeout = 60 * time.Second
	}
	if c.VisionPageTimeout <= 0 {
		c.VisionPageTimeout = 180 * time.Second
	}
	return c
}

// Pipeline ingests PDF documents into the knowledge store: per page it
// classifies direct vs vision extraction, chunks, embeds, and persists.
type Pipeline interface {
	Start(ctx context.Context, pdfBytes []byte, documentID string, opts Options) (JobSnapshot, error)
	Job(jobID string) (JobSnapshot, bool)
}

type pipeline struct {
	log       *logger.Logger
	db        *gorm.DB
	tools     localmedia.Tools
	bucket    gcp.BucketService
	vision    gcp.Vision
	oai       openai.Client
	knowledge repos.KnowledgeRepo
	jobs      *JobStore
	cfg       PipelineConfig
}

func NewPipeline(
	log *logger.Logger,
	db *gorm.DB,
	tools localmedia.Tools,
	bucket gcp.BucketService,
	vision gcp.Vision,
	oai openai.Client,
	knowledge repos.KnowledgeRepo,
	jobs *JobStore,
	cfg PipelineConfig,
) Pipeline {
	return &pipeline{
		log:       log.With("service", "IngestionPipeline"),
		db:        db,
		tools:     tools,
		bucket:    bucket,
		vision:    vision,
		oai:       oai,
		knowledge: knowledge,
		jobs:      jobs,
		cfg:       cfg.withDefaults(),
	}
}

func (p *pipeline) Job(jobID string) (JobSnapshot, bool) {
	return p.jobs.Get(jobID)
}

// Start validates the PDF, creates the job, and processes pages in the
// background. The returned snapshot carries the job id for status polling.
func (p *pipeline) Start(ctx context.Context, pdfBytes []byte, documentID string, opts Options) (JobSnapshot, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return JobSnapshot{}, fmt.Errorf("document_id required")
	}
	if len(pdfBytes) == 0 {
		return JobSnapshot{}, fmt.Errorf("empty file")
	}

	doc, err := openPDF(pdfBytes)
	if err != nil {
		return JobSnapshot{}, err
	}

	total := doc.pageCount()
	if total <= 0 {
		return JobSnapshot{}, fmt.Errorf("pdf has no pages")
	}
	if opts.MaxPages > 0 && opts.MaxPages < total {
		total = opts.MaxPages
	}

	pdfPath, cleanupPDF, err := p.tools.WriteTempFile(ctx, pdfBytes, ".pdf")
	if err != nil {
		return JobSnapshot{}, err
	}

	j := p.jobs.create(documentID, total)

	go func() {
		defer cleanupPDF()
		// The run outlives the upload request on purpose.
		runCtx := context.Background()
		if err := p.run(runCtx, j, doc, pdfPath, documentID, total, opts.Resume); err != nil {
			p.log.Error("Ingestion run failed", "document_id", documentID, "error", err)
			j.finish(err.Error())
			return
		}
		j.finish("")
	}()

	return j.snapshot(), nil
}

func (p *pipeline) run(ctx context.Context, j *job, doc *pdfDocument, pdfPath, documentID string, total int, resume bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PageConcurrency)

	for page := 1; page <= total; page++ {
		page := page
		g.Go(func() error {
			status, err := p.processPage(gctx, doc, pdfPath, documentID, page, resume)
			if err != nil {
				p.log.Warn("Page ingestion failed",
					"document_id", documentID,
					"page", page,
					"error", err,
				)
				j.setPage(page, PageStatusFailed)
				// A failed page never aborts the document.
				return nil
			}
			j.setPage(page, status)
			return nil
		})
	}
	return g.Wait()
}

func (p *pipeline) processPage(ctx context.Context, doc *pdfDocument, pdfPath, documentID string, page int, resume bool) (string, error) {
	if resume {
		exists, err := p.knowledge.ExistsForPage(ctx, nil, documentID, page)
		if err != nil {
			return "", fmt.Errorf("resume check: %w", err)
		}
		if exists {
			return PageStatusSkipped, nil
		}
	}

	pageCtx, cancel := context.WithTimeout(ctx, p.cfg.VisionPageTimeout)
	defer cancel()

	// Visual evidence policy: every page image is uploaded, direct or not.
	imageURL, imageBytes, err := p.uploadPageImage(pageCtx, pdfPath, documentID, page)
	if err != nil {
		return "", fmt.Errorf("page image: %w", err)
	}

	status := PageStatusDirect
	directCtx, directCancel := context.WithTimeout(pageCtx, p.cfg.DirectPageTimeout)
	runs, assessErr := p.directRuns(directCtx, doc, page)
	directCancel()

	if assessErr != nil || runs == nil {
		status = PageStatusVision
		runs, err = p.visionRuns(pageCtx, imageBytes)
		if err != nil {
			return "", fmt.Errorf("vision extraction: %w", err)
		}
	}
	if len(runs) == 0 {
		// Blank page: nothing to persist, still a success.
		return status, nil
	}

	built := BuildChunks(runs, ChunkerOptions{SizeMax: p.cfg.ChunkSizeMax, SizeMin: p.cfg.ChunkSizeMin})
	if len(built) == 0 {
		return status, nil
	}

	embeddings, err := p.embedChunks(pageCtx, built)
	if err != nil {
		return "", fmt.Errorf("embed: %w", err)
	}

	source := types.ChunkSourceDirect
	if status == PageStatusVision {
		source = types.ChunkSourceVision
	}

	records := make([]*types.KnowledgeChunk, 0, len(built))
	for i, c := range built {
		rec := &types.KnowledgeChunk{
			DocumentID:      documentID,
			PageNumber:      page,
			ChunkIndex:      i,
			Content:         c.Content,
			ContentType:     c.ContentType,
			ConfidenceScore: c.Confidence,
			Source:          source,
			Embedding:       embeddings[i],
			ImageURL:        imageURL,
		}
		if err := rec.SetBoxes(c.Boxes); err != nil {
			return "", fmt.Errorf("encode boxes: %w", err)
		}
		records = append(records, rec)
	}

	// One transaction per page; re-ingest without resume replaces the page.
	err = p.db.WithContext(pageCtx).Transaction(func(tx *gorm.DB) error {
		if err := p.knowledge.DeleteByDocumentPage(pageCtx, tx, documentID, page); err != nil {
			return err
		}
		return p.knowledge.Create(pageCtx, tx, records)
	})
	if err != nil {
		return "", fmt.Errorf("persist page: %w", err)
	}

	return status, nil
}

// directRuns attempts direct extraction; a nil slice with nil error means
// the page failed the usability check and needs the vision path.
func (p *pipeline) directRuns(ctx context.Context, doc *pdfDocument, page int) ([]TextRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runs, err := doc.extractPageRuns(page)
	if err != nil {
		return nil, err
	}
	assessment := AssessPage(runs, p.cfg.TextUsabilityThreshold)
	if !assessment.Usable {
		return nil, nil
	}
	return runs, nil
}

func (p *pipeline) visionRuns(ctx context.Context, imageBytes []byte) ([]TextRun, error) {
	if p.vision == nil {
		return p.modelVisionRuns(ctx, imageBytes)
	}
	res, err := p.vision.OCRImageBytes(ctx, imageBytes, "image/png")
	if err != nil {
		return nil, err
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return nil, nil
	}

	conf := res.Confidence
	if conf <= 0 {
		conf = 0.85
	}

	if len(res.Blocks) == 0 {
		return []TextRun{{
			Text:       res.Text,
			Box:        types.BoundingBox{X0: 0, Y0: 0, X1: 100, Y1: 100},
			Confidence: conf,
		}}, nil
	}

	runs := make([]TextRun, 0, len(res.Blocks))
	for _, b := range res.Blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		bc := b.Confidence
		if bc <= 0 {
			bc = conf
		}
		runs = append(runs, TextRun{
			Text:       text,
			Box:        types.BoundingBox{X0: b.X0, Y0: b.Y0, X1: b.X1, Y1: b.Y1},
			Confidence: bc,
		})
	}
	return runs, nil
}

// modelVisionRuns transcribes the page with the multimodal chat model when no
// dedicated OCR backend is configured. The transcript arrives as one
// full-page run; block geometry needs the OCR API.
func (p *pipeline) modelVisionRuns(ctx context.Context, imageBytes []byte) ([]TextRun, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageBytes)
	text, err := p.oai.GenerateTextWithImages(ctx,
		"You transcribe scanned pages of maritime regulation documents.",
		"Transcribe all text on this page exactly as printed, preserving line breaks. Reply with the transcription only.",
		[]openai.ImageInput{{ImageURL: dataURL, Detail: "high"}})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []TextRun{{
		Text:       text,
		Box:        types.BoundingBox{X0: 0, Y0: 0, X1: 100, Y1: 100},
		Confidence: 0.75,
	}}, nil
}

func (p *pipeline) uploadPageImage(ctx context.Context, pdfPath, documentID string, page int) (string, []byte, error) {
	outDir := filepath.Join(filepath.Dir(pdfPath), fmt.Sprintf("%s-pages", filepath.Base(pdfPath)))
	imgPath, err := p.tools.RenderPDFPage(ctx, pdfPath, outDir, page, localmedia.PDFRenderOptions{
		DPI:    p.cfg.VisionDPI,
		Format: "png",
	})
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = os.Remove(imgPath) }()

	imgBytes, err := os.ReadFile(imgPath)
	if err != nil {
		return "", nil, err
	}

	key := fmt.Sprintf("documents/%s/pages/page_%04d.png", documentID, page)
	url, err := p.bucket.UploadBytes(ctx, key, imgBytes)
	if err != nil {
		return "", nil, err
	}
	return url, imgBytes, nil
}

// embedChunks batch-embeds all chunk texts; if the batch fails, each chunk
// retries individually (3 attempts, 250 ms base backoff).
func (p *pipeline) embedChunks(ctx context.Context, chunks []Chunk) ([]types.Vector, error) {
	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Content
	}

	vecs, err := p.oai.Embed(ctx, inputs)
	if err == nil && len(vecs) == len(chunks) {
		out := make([]types.Vector, len(vecs))
		for i := range vecs {
			out[i] = types.Vector(vecs[i])
		}
		return out, nil
	}
	p.log.Warn("Batch embed failed; retrying per chunk", "error", err)

	out := make([]types.Vector, len(chunks))
	for i, input := range inputs {
		vec, err := p.embedOne(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (p *pipeline) embedOne(ctx context.Context, input string) (types.Vector, error) {
	backoff := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		vecs, err := p.oai.Embed(ctx, []string{input})
		if err == nil && len(vecs) == 1 {
			return types.Vector(vecs[0]), nil
		}
		if err == nil {
			err = fmt.Errorf("expected 1 embedding, got %d", len(vecs))
		}
		lastErr = err
	}
	return nil, lastErr
}
