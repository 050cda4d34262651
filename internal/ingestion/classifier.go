package ingestion

import (
	"regexp"
	"unicode"
)

// PageAssessment is the usability verdict for direct extraction of one page.
// Pages scoring under the threshold fall back to the vision path.
type PageAssessment struct {
	CharCount      int
	PrintableRatio float64
	StructuredRuns int
	Score          float64
	Usable         bool
}

var structuredLineRe = regexp.MustCompile(`(?i)^\s*(\d+(\.\d+)*[.)]?\s+\S|[ivxlc]+[.)]\s+\S|[a-z][.)]\s+\S|(điều|chương|phần|mục|rule|part|chapter|section|annex|quy tắc)\s+\d)`)

// AssessPage scores direct extraction quality from three signals: how much
// text came out, how clean it is, and whether it shows document structure.
// Scanned pages typically extract nothing or garbage and score near zero.
func AssessPage(runs []TextRun, threshold float64) PageAssessment {
	var out PageAssessment

	var total, printable int
	for _, r := range runs {
		for _, ch := range r.Text {
			total++
			if unicode.IsPrint(ch) && ch != '�' {
				printable++
			}
		}
		if structuredLineRe.MatchString(r.Text) {
			out.StructuredRuns++
		}
	}

	out.CharCount = total
	if total > 0 {
		out.PrintableRatio = float64(printable) / float64(total)
	}

	if total < 64 {
		out.Score = 0
		out.Usable = false
		return out
	}

	volume := float64(total) / 600.0
	if volume > 1 {
		volume = 1
	}
	structure := float64(out.StructuredRuns) / 3.0
	if structure > 1 {
		structure = 1
	}

	out.Score = 0.6*volume + 0.25*out.PrintableRatio + 0.15*structure
	out.Usable = out.Score >= threshold
	return out
}
