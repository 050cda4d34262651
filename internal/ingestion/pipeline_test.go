package ingestion

import (
	"context"
	"strings"
	"testing"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

type transcribingModel struct {
	openai.Client
	text   string
	err    error
	images []openai.ImageInput
}

func (m *transcribingModel) GenerateTextWithImages(ctx context.Context, system, user string, images []openai.ImageInput) (string, error) {
	m.images = images
	return m.text, m.err
}

func fallbackPipeline(t *testing.T, model *transcribingModel) *pipeline {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &pipeline{log: log, oai: model, cfg: PipelineConfig{}.withDefaults()}
}

func TestVisionRuns_ModelFallbackWithoutOCRBackend(t *testing.T) {
	model := &transcribingModel{text: "QUY TẮC 15\nTàu nhường đường phải hành động sớm."}
	p := fallbackPipeline(t, model)

	runs, err := p.visionRuns(context.Background(), []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("visionRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want one full-page run", len(runs))
	}
	run := runs[0]
	if run.Text != model.text {
		t.Fatalf("text = %q", run.Text)
	}
	if run.Box.X0 != 0 || run.Box.Y0 != 0 || run.Box.X1 != 100 || run.Box.Y1 != 100 {
		t.Fatalf("fallback run must span the whole page, got %+v", run.Box)
	}
	if run.Confidence <= 0 || run.Confidence >= 1 {
		t.Fatalf("confidence = %v", run.Confidence)
	}

	if len(model.images) != 1 || !strings.HasPrefix(model.images[0].ImageURL, "data:image/png;base64,") {
		t.Fatalf("page image must reach the model as a png data url, got %+v", model.images)
	}
}

func TestVisionRuns_ModelFallbackBlankPage(t *testing.T) {
	p := fallbackPipeline(t, &transcribingModel{text: "   \n"})

	runs, err := p.visionRuns(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("visionRuns: %v", err)
	}
	if runs != nil {
		t.Fatalf("blank transcript must yield no runs, got %+v", runs)
	}
}
