package ingestion

import (
	"regexp"
	"strings"

	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// ChunkerOptions carries the size bounds for semantic chunking.
type ChunkerOptions struct {
	SizeMax int // split above this, at a sentence boundary
	SizeMin int // merge orphans below this into the previous chunk
}

func (o ChunkerOptions) withDefaults() ChunkerOptions {
	if o.SizeMax <= 0 {
		o.SizeMax = 1000
	}
	if o.SizeMin <= 0 {
		o.SizeMin = 120
	}
	return o
}

// Chunk is the chunker output before embedding and persistence.
type Chunk struct {
	Content     string
	ContentType string
	Boxes       []types.BoundingBox
	Confidence  float64
}

var (
	headingRe = regexp.MustCompile(`(?i)^\s*(\d+(\.\d+)*[.)]?\s+\S|(điều|chương|phần|mục|rule|part|chapter|section|annex|quy tắc)\s+\d+)`)
	figureRe  = regexp.MustCompile(`(?i)(hình|sơ đồ|biểu đồ|figure|fig\.|diagram)\s*\d+`)
	formulaRe = regexp.MustCompile(`(\\[a-zA-Z]+\{|[∑∫√±≤≥≈∆πθλ]|\^[0-9]|\b[a-zA-Z]\s*=\s*[0-9a-zA-Z(])`)

	sentenceEndRe = regexp.MustCompile(`[.!?。][\s"')\]]*$`)
)

func classifyLine(run TextRun, medianFont float64) string {
	text := strings.TrimSpace(run.Text)
	switch {
	case isHeadingLine(text, run.FontSize, medianFont):
		return types.ContentTypeHeading
	case isTableLine(text):
		return types.ContentTypeTable
	case figureRe.MatchString(text):
		return types.ContentTypeDiagramReference
	case isFormulaLine(text):
		return types.ContentTypeFormula
	default:
		return types.ContentTypeText
	}
}

func isHeadingLine(text string, fontSize, medianFont float64) bool {
	if text == "" || len(text) > 120 {
		return false
	}
	if headingRe.MatchString(text) {
		return true
	}
	// Prominent short lines: noticeably larger font, or all-caps words.
	if medianFont > 0 && fontSize >= medianFont*1.25 && len(text) < 80 {
		return true
	}
	letters := 0
	uppers := 0
	for _, ch := range text {
		if ch >= 'A' && ch <= 'Z' {
			uppers++
			letters++
		} else if ch >= 'a' && ch <= 'z' {
			letters++
		}
	}
	return letters >= 6 && uppers == letters && len(strings.Fields(text)) >= 2
}

func isTableLine(text string) bool {
	if strings.Count(text, "|") >= 2 || strings.Contains(text, "\t") {
		return true
	}
	// Column alignment shows up as runs of 2+ spaces between cells.
	return len(regexp.MustCompile(`\S {2,}\S`).FindAllString(text, -1)) >= 2
}

func isFormulaLine(text string) bool {
	if text == "" {
		return false
	}
	matches := formulaRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return false
	}
	// Require symbol density so prose mentioning "x = 3" once stays text.
	return len(matches) >= 2 || len(text) < 60
}

// BuildChunks turns page text runs into typed chunks. A heading always
// starts a new chunk; running size past SizeMax splits at the next sentence
// boundary; fragments under SizeMin merge backwards.
func BuildChunks(runs []TextRun, opts ChunkerOptions) []Chunk {
	opts = opts.withDefaults()
	if len(runs) == 0 {
		return nil
	}

	medianFont := medianFontSize(runs)

	type pending struct {
		lines []TextRun
		kind  string
	}

	var chunks []Chunk
	var cur *pending

	flush := func() {
		if cur == nil || len(cur.lines) == 0 {
			cur = nil
			return
		}
		chunks = append(chunks, assembleChunk(cur.lines, cur.kind, opts.SizeMax)...)
		cur = nil
	}

	for _, run := range runs {
		kind := classifyLine(run, medianFont)

		switch {
		case kind == types.ContentTypeHeading:
			flush()
			chunks = append(chunks, Chunk{
				Content:     strings.TrimSpace(run.Text),
				ContentType: types.ContentTypeHeading,
				Boxes:       []types.BoundingBox{run.Box},
				Confidence:  run.Confidence,
			})
		case cur == nil:
			cur = &pending{lines: []TextRun{run}, kind: kind}
		case kind != cur.kind && (kind == types.ContentTypeTable || cur.kind == types.ContentTypeTable):
			// Tables keep their own chunk boundary in both directions.
			flush()
			cur = &pending{lines: []TextRun{run}, kind: kind}
		default:
			cur.lines = append(cur.lines, run)
			if kind != cur.kind && cur.kind == types.ContentTypeText {
				cur.kind = kind
			}
		}
	}
	flush()

	return mergeOrphans(chunks, opts.SizeMin)
}

// assembleChunk joins lines into one or more chunks, splitting past SizeMax
// at sentence ends.
func assembleChunk(lines []TextRun, kind string, sizeMax int) []Chunk {
	var out []Chunk
	var sb strings.Builder
	var boxes []types.BoundingBox
	conf := lines[0].Confidence

	emit := func() {
		text := strings.TrimSpace(sb.String())
		if text == "" {
			sb.Reset()
			boxes = nil
			return
		}
		out = append(out, Chunk{
			Content:     text,
			ContentType: kind,
			Boxes:       mergeAdjacentBoxes(boxes),
			Confidence:  conf,
		})
		sb.Reset()
		boxes = nil
	}

	for _, ln := range lines {
		if ln.Confidence < conf {
			conf = ln.Confidence
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(ln.Text))
		boxes = append(boxes, ln.Box)

		if sb.Len() >= sizeMax && sentenceEndRe.MatchString(ln.Text) {
			emit()
			conf = ln.Confidence
		}
	}
	emit()
	return out
}

// mergeOrphans folds fragments under sizeMin into the preceding chunk.
// Headings stay standalone; a merged chunk's confidence is the minimum of
// the pair.
func mergeOrphans(chunks []Chunk, sizeMin int) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(out) > 0 &&
			c.ContentType != types.ContentTypeHeading &&
			len(c.Content) < sizeMin {
			prev := &out[len(out)-1]
			if prev.ContentType != types.ContentTypeHeading {
				prev.Content = prev.Content + "\n" + c.Content
				prev.Boxes = append(prev.Boxes, c.Boxes...)
				if c.Confidence < prev.Confidence {
					prev.Confidence = c.Confidence
				}
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// mergeAdjacentBoxes collapses vertically adjacent line boxes with
// overlapping horizontal extent into single regions, keeping order.
func mergeAdjacentBoxes(boxes []types.BoundingBox) []types.BoundingBox {
	if len(boxes) < 2 {
		return boxes
	}
	out := []types.BoundingBox{boxes[0]}
	for _, b := range boxes[1:] {
		last := &out[len(out)-1]
		verticalGap := b.Y0 - last.Y1
		horizontalOverlap := b.X0 < last.X1 && b.X1 > last.X0
		if verticalGap >= -0.5 && verticalGap <= 1.5 && horizontalOverlap {
			if b.X0 < last.X0 {
				last.X0 = b.X0
			}
			if b.X1 > last.X1 {
				last.X1 = b.X1
			}
			if b.Y1 > last.Y1 {
				last.Y1 = b.Y1
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

func medianFontSize(runs []TextRun) float64 {
	sizes := make([]float64, 0, len(runs))
	for _, r := range runs {
		if r.FontSize > 0 {
			sizes = append(sizes, r.FontSize)
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	for i := 1; i < len(sizes); i++ {
		for j := i; j > 0 && sizes[j] < sizes[j-1]; j-- {
			sizes[j], sizes[j-1] = sizes[j-1], sizes[j]
		}
	}
	return sizes[len(sizes)/2]
}
