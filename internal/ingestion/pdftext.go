package ingestion

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	pdf "github.com/ledongthuc/pdf"

	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// TextRun is one extracted line of page text with its position normalized to
// 0-100 in both axes, origin top-left.
type TextRun struct {
	Text       string
	Box        types.BoundingBox
	FontSize   float64
	Confidence float64
}

func isPDF(b []byte) bool {
	// PDF starts with "%PDF-"
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

// pdfDocument serializes access to the underlying reader; the parser keeps
// internal state that is not safe for concurrent page walks.
type pdfDocument struct {
	mu     sync.Mutex
	reader *pdf.Reader
}

func openPDF(data []byte) (*pdfDocument, error) {
	if !isPDF(data) {
		return nil, fmt.Errorf("missing %%PDF header; head=%x", data[:min(len(data), 8)])
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}
	return &pdfDocument{reader: r}, nil
}

func (d *pdfDocument) pageCount() int {
	return d.reader.NumPage()
}

// extractPageRuns pulls positioned text from one page. Character fragments
// are grouped into lines by baseline, lines come back top-to-bottom.
func (d *pdfDocument) extractPageRuns(pageNum int) ([]TextRun, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pageNum < 1 || pageNum > d.reader.NumPage() {
		return nil, fmt.Errorf("page %d out of range 1..%d", pageNum, d.reader.NumPage())
	}

	page := d.reader.Page(pageNum)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d is null", pageNum)
	}

	x0, y0, x1, y1 := mediaBox(page)
	pw := x1 - x0
	ph := y1 - y0
	if pw <= 0 || ph <= 0 {
		// US Letter fallback.
		x0, y0, pw, ph = 0, 0, 612, 792
	}

	var content pdf.Content
	func() {
		// The parser panics on some malformed content streams.
		defer func() { _ = recover() }()
		content = page.Content()
	}()

	if len(content.Text) == 0 {
		return nil, nil
	}

	// Group character fragments into lines by baseline Y with a small
	// tolerance, then order fragments within a line by X.
	type frag struct {
		t pdf.Text
	}
	frags := make([]frag, 0, len(content.Text))
	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		frags = append(frags, frag{t: t})
	}
	if len(frags) == 0 {
		return nil, nil
	}

	sort.SliceStable(frags, func(i, j int) bool {
		yi, yj := frags[i].t.Y, frags[j].t.Y
		if absf(yi-yj) > 2.0 {
			return yi > yj // PDF origin is bottom-left, so higher Y first
		}
		return frags[i].t.X < frags[j].t.X
	})

	var runs []TextRun
	var line []pdf.Text
	flush := func() {
		if len(line) == 0 {
			return
		}
		run := buildLineRun(line, x0, y0, pw, ph)
		if strings.TrimSpace(run.Text) != "" {
			runs = append(runs, run)
		}
		line = nil
	}

	for i, f := range frags {
		if i > 0 && absf(f.t.Y-line[len(line)-1].Y) > 2.0 {
			flush()
		}
		line = append(line, f.t)
	}
	flush()

	return runs, nil
}

func buildLineRun(line []pdf.Text, pageX0, pageY0, pw, ph float64) TextRun {
	var sb strings.Builder
	minX := line[0].X
	maxX := line[0].X + line[0].W
	baseY := line[0].Y
	fontSize := line[0].FontSize

	prevEnd := line[0].X
	for i, t := range line {
		// Insert a space when the gap between fragments exceeds a third of
		// the font size; PDF content streams drop explicit spaces freely.
		if i > 0 {
			gap := t.X - prevEnd
			if fontSize > 0 && gap > fontSize*0.33 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(t.S)
		prevEnd = t.X + t.W

		if t.X < minX {
			minX = t.X
		}
		if t.X+t.W > maxX {
			maxX = t.X + t.W
		}
		if t.FontSize > fontSize {
			fontSize = t.FontSize
		}
	}

	fs := fontSize
	if fs <= 0 {
		fs = 10
	}

	// Flip Y: PDF measures from the bottom, bounding boxes from the top.
	topY := baseY + fs
	box := types.BoundingBox{
		X0: clamp100((minX - pageX0) / pw * 100),
		Y0: clamp100((1 - (topY-pageY0)/ph) * 100),
		X1: clamp100((maxX - pageX0) / pw * 100),
		Y1: clamp100((1 - (baseY-pageY0)/ph) * 100),
	}

	return TextRun{
		Text:       sb.String(),
		Box:        box,
		FontSize:   fontSize,
		Confidence: 1.0,
	}
}

// mediaBox resolves the page MediaBox, walking up the page tree for
// inherited values.
func mediaBox(page pdf.Page) (x0, y0, x1, y1 float64) {
	v := page.V
	for i := 0; i < 16 && !v.IsNull(); i++ {
		mb := v.Key("MediaBox")
		if !mb.IsNull() && mb.Len() == 4 {
			return mb.Index(0).Float64(), mb.Index(1).Float64(),
				mb.Index(2).Float64(), mb.Index(3).Float64()
		}
		v = v.Key("Parent")
	}
	return 0, 0, 0, 0
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
