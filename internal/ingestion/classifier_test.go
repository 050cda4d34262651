package ingestion

import (
	"strings"
	"testing"
)

func TestAssessPage_TinyExtractionIsUnusable(t *testing.T) {
	got := AssessPage([]TextRun{run("Rule 5", 10)}, 0.5)
	if got.Usable {
		t.Fatalf("page with %d chars must be unusable", got.CharCount)
	}
	if got.Score != 0 {
		t.Fatalf("score = %v, want 0 below the character floor", got.Score)
	}
}

func TestAssessPage_CleanStructuredPageScoresHigh(t *testing.T) {
	body := strings.Repeat("every vessel shall proceed at a safe speed ", 6)
	runs := []TextRun{
		run("1. "+body, 10),
		run("2. "+body, 10),
		run("3. "+body, 10),
	}

	got := AssessPage(runs, 0.7)
	if !got.Usable {
		t.Fatalf("clean structured page scored %v, want usable at 0.7", got.Score)
	}
	if got.StructuredRuns != 3 {
		t.Fatalf("structured runs = %d, want 3", got.StructuredRuns)
	}
	if got.PrintableRatio != 1.0 {
		t.Fatalf("printable ratio = %v, want 1.0", got.PrintableRatio)
	}
	// Volume, cleanliness and structure all saturate.
	if got.Score != 1.0 {
		t.Fatalf("score = %v, want 1.0", got.Score)
	}
}

func TestAssessPage_GarbageExtractionFallsBack(t *testing.T) {
	got := AssessPage([]TextRun{run(strings.Repeat("�", 200), 10)}, 0.7)
	if got.Usable {
		t.Fatalf("replacement-character soup scored %v, must fall back to vision", got.Score)
	}
	if got.PrintableRatio != 0 {
		t.Fatalf("printable ratio = %v, want 0", got.PrintableRatio)
	}
}

func TestAssessPage_ThresholdDecides(t *testing.T) {
	runs := []TextRun{run(strings.Repeat("plain prose without numbering ", 10), 10)}

	lenient := AssessPage(runs, 0.1)
	strict := AssessPage(runs, 0.99)
	if lenient.Score != strict.Score {
		t.Fatalf("score depends on threshold: %v vs %v", lenient.Score, strict.Score)
	}
	if !lenient.Usable || strict.Usable {
		t.Fatalf("usability must follow the threshold: lenient=%v strict=%v",
			lenient.Usable, strict.Usable)
	}
}
