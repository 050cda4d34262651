package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/retriever"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

func findTool(t *testing.T, tools []Tool, name string) Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name == name {
			return tl
		}
	}
	t.Fatalf("tool %q not registered", name)
	return Tool{}
}

func TestForget_DeletesOnlyMatchingFacts(t *testing.T) {
	repo := &fakeFactRepo{facts: []*types.UserFact{
		{ID: uuid.New(), UserID: "u1", FactType: types.FactTypeTopicPreference, Content: "thích học về COLREG"},
		{ID: uuid.New(), UserID: "u1", FactType: types.FactTypeTopicPreference, Content: "ưu tiên ví dụ thực tế"},
		{ID: uuid.New(), UserID: "u1", FactType: types.FactTypeGoal, Content: "thi chứng chỉ COLREG tháng sau"},
	}}
	forget := findTool(t, buildTools(&fakeRetriever{}, repo), "forget")

	out, err := forget.Handler(context.Background(), TurnContext{UserID: "u1"}, map[string]any{"fact": "COLREG"})
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if !strings.Contains(out, "2") {
		t.Fatalf("output = %q, want 2 removals", out)
	}

	left, _ := repo.ListByUser(context.Background(), nil, "u1")
	if len(left) != 1 || left[0].Content != "ưu tiên ví dụ thực tế" {
		t.Fatalf("non-matching fact of the same type must survive, got %+v", left)
	}
}

func TestForget_NoMatch(t *testing.T) {
	repo := &fakeFactRepo{facts: []*types.UserFact{
		{ID: uuid.New(), UserID: "u1", FactType: types.FactTypeGoal, Content: "thi chứng chỉ"},
	}}
	forget := findTool(t, buildTools(&fakeRetriever{}, repo), "forget")

	out, err := forget.Handler(context.Background(), TurnContext{UserID: "u1"}, map[string]any{"fact": "radar"})
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if out != "No matching memory found." {
		t.Fatalf("output = %q", out)
	}
	if n, _ := repo.CountByUser(context.Background(), nil, "u1"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestRenderCitations_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("tàu thuyền đường thủy ", 50)
	out := renderCitations([]retriever.Citation{{
		DocumentID:     "colregs-1972",
		PageNumber:     3,
		ContentSnippet: long,
		RelevanceScore: 0.5,
	}})
	if !utf8.ValidString(out) {
		t.Fatalf("rendered citations contain invalid UTF-8")
	}

	var items []struct {
		Snippet string `json:"snippet"`
	}
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	runes := []rune(items[0].Snippet)
	if len(runes) != 801 {
		t.Fatalf("snippet runes = %d, want 800 plus the ellipsis", len(runes))
	}
	if !strings.HasSuffix(items[0].Snippet, "…") {
		t.Fatalf("truncated snippet must end with an ellipsis")
	}
}
