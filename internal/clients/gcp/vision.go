package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

// Vision wraps DOCUMENT_TEXT_DETECTION for the ingestion fallback path.
type Vision interface {
	OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*OCRResult, error)
	Close() error
}

type OCRResult struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Blocks     []OCRBlock `json:"blocks,omitempty"`
}

// OCRBlock carries the block text with its bounding box in normalized
// 0-100 page coordinates.
type OCRBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
}

type visionService struct {
	log          *logger.Logger
	visionClient *vision.ImageAnnotatorClient
}

func NewVision(log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Vision")

	ctx := context.Background()
	vClient, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	return &visionService{log: slog, visionClient: vClient}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.visionClient == nil {
		return nil
	}
	return s.visionClient.Close()
}

func (s *visionService) OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*OCRResult, error) {
	if len(img) == 0 {
		return &OCRResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: img},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
		},
	}

	br := &visionpb.BatchAnnotateImagesRequest{Requests: []*visionpb.AnnotateImageRequest{req}}
	resp, err := s.visionClient.BatchAnnotateImages(ctx, br)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return &OCRResult{}, nil
	}

	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}

	fta := r0.FullTextAnnotation
	if fta == nil || strings.TrimSpace(fta.Text) == "" {
		return &OCRResult{}, nil
	}

	out := &OCRResult{Text: fta.Text}

	var confSum float64
	var confN int
	for _, pg := range fta.Pages {
		if pg == nil {
			continue
		}
		pw := float64(pg.Width)
		ph := float64(pg.Height)
		for _, b := range pg.Blocks {
			if b == nil {
				continue
			}
			if b.Confidence > 0 {
				confSum += float64(b.Confidence)
				confN++
			}
			block := OCRBlock{
				Text:       blockText(b),
				Confidence: float64(b.Confidence),
			}
			if x0, y0, x1, y1, ok := boundsFromPoly(b.BoundingBox, pw, ph); ok {
				block.X0, block.Y0, block.X1, block.Y1 = x0, y0, x1, y1
			}
			out.Blocks = append(out.Blocks, block)
		}
	}
	if confN > 0 {
		out.Confidence = confSum / float64(confN)
	}
	return out, nil
}

func blockText(b *visionpb.Block) string {
	var sb strings.Builder
	for _, par := range b.Paragraphs {
		if par == nil {
			continue
		}
		for _, w := range par.Words {
			if w == nil {
				continue
			}
			for _, sym := range w.Symbols {
				if sym == nil {
					continue
				}
				sb.WriteString(sym.Text)
				if br := sym.Property.GetDetectedBreak(); br != nil {
					switch br.Type {
					case visionpb.TextAnnotation_DetectedBreak_SPACE,
						visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
						sb.WriteString(" ")
					case visionpb.TextAnnotation_DetectedBreak_LINE_BREAK,
						visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE:
						sb.WriteString("\n")
					}
				}
			}
		}
	}
	return sb.String()
}

// boundsFromPoly converts a Vision bounding poly to percent-of-page
// coordinates. Normalized vertices are already 0..1; pixel vertices need the
// page dimensions.
func boundsFromPoly(bp *visionpb.BoundingPoly, pageW, pageH float64) (x0, y0, x1, y1 float64, ok bool) {
	if bp == nil {
		return 0, 0, 0, 0, false
	}

	type pt struct{ x, y float64 }
	var pts []pt
	for _, v := range bp.NormalizedVertices {
		if v == nil {
			continue
		}
		pts = append(pts, pt{float64(v.X) * 100, float64(v.Y) * 100})
	}
	if len(pts) == 0 && pageW > 0 && pageH > 0 {
		for _, v := range bp.Vertices {
			if v == nil {
				continue
			}
			pts = append(pts, pt{float64(v.X) / pageW * 100, float64(v.Y) / pageH * 100})
		}
	}
	if len(pts) == 0 {
		return 0, 0, 0, 0, false
	}

	x0, y0 = pts[0].x, pts[0].y
	x1, y1 = pts[0].x, pts[0].y
	for _, p := range pts[1:] {
		if p.x < x0 {
			x0 = p.x
		}
		if p.y < y0 {
			y0 = p.y
		}
		if p.x > x1 {
			x1 = p.x
		}
		if p.y > y1 {
			y1 = p.y
		}
	}
	return clampPct(x0), clampPct(y0), clampPct(x1), clampPct(y1), true
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
