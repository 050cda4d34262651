package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

type stubOpenAI struct {
	openai.Client
	facts []map[string]any
	err   error
}

func (s *stubOpenAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	raw := make([]any, 0, len(s.facts))
	for _, f := range s.facts {
		raw = append(raw, f)
	}
	return map[string]any{"facts": raw}, nil
}

type memFactRepo struct {
	facts   []*types.UserFact
	evicted int
}

func (r *memFactRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.UserFact, error) {
	return r.facts, nil
}

func (r *memFactRepo) ListByType(ctx context.Context, tx *gorm.DB, userID, factType string) ([]*types.UserFact, error) {
	var out []*types.UserFact
	for _, f := range r.facts {
		if f.FactType == factType {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memFactRepo) Insert(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error {
	r.facts = append(r.facts, fact)
	return nil
}

func (r *memFactRepo) UpsertSingleton(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error {
	for i, f := range r.facts {
		if f.FactType == fact.FactType {
			r.facts[i] = fact
			return nil
		}
	}
	r.facts = append(r.facts, fact)
	return nil
}

func (r *memFactRepo) ExistsContent(ctx context.Context, tx *gorm.DB, userID, factType, content string) (bool, error) {
	want := strings.ToLower(strings.TrimSpace(content))
	for _, f := range r.facts {
		if f.FactType == factType && strings.ToLower(strings.TrimSpace(f.Content)) == want {
			return true, nil
		}
	}
	return false, nil
}

func (r *memFactRepo) DeleteByID(ctx context.Context, tx *gorm.DB, userID string, id uuid.UUID) (int64, error) {
	return 0, nil
}

func (r *memFactRepo) DeleteByType(ctx context.Context, tx *gorm.DB, userID, factType string) (int64, error) {
	return 0, nil
}

func (r *memFactRepo) DeleteAll(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	n := int64(len(r.facts))
	r.facts = nil
	return n, nil
}

func (r *memFactRepo) CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	return int64(len(r.facts)), nil
}

func (r *memFactRepo) EvictOverCap(ctx context.Context, tx *gorm.DB, userID string, cap int) (int64, error) {
	r.evicted++
	return 0, nil
}

func testExtractor(t *testing.T, oai openai.Client, repo *memFactRepo) Extractor {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewExtractor(log, oai, repo, 2, 50)
}

func TestExtract_WritesNewFacts(t *testing.T) {
	repo := &memFactRepo{}
	oai := &stubOpenAI{facts: []map[string]any{
		{"fact_type": types.FactTypeGoal, "content": "pass the COLREG exam"},
		{"fact_type": types.FactTypeLearningStyle, "content": "prefers diagrams"},
	}}

	if err := testExtractor(t, oai, repo).Extract(context.Background(), "u1", "tôi muốn thi COLREG", "chúc mừng"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(repo.facts) != 2 {
		t.Fatalf("facts stored = %d, want 2", len(repo.facts))
	}
	if repo.evicted != 1 {
		t.Fatalf("eviction must run after writes")
	}
}

func TestExtract_SkipsNormalizedDuplicates(t *testing.T) {
	repo := &memFactRepo{facts: []*types.UserFact{
		{UserID: "u1", FactType: types.FactTypeGoal, Content: "pass the COLREG exam"},
	}}
	oai := &stubOpenAI{facts: []map[string]any{
		{"fact_type": types.FactTypeGoal, "content": "  Pass the COLREG exam "},
	}}

	if err := testExtractor(t, oai, repo).Extract(context.Background(), "u1", "m", "a"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(repo.facts) != 1 {
		t.Fatalf("duplicate written: %d facts", len(repo.facts))
	}
}

func TestExtract_SingletonIdentityUpserts(t *testing.T) {
	repo := &memFactRepo{facts: []*types.UserFact{
		{UserID: "u1", FactType: types.FactTypeUserIdentity, Content: "tên là Minh"},
	}}
	oai := &stubOpenAI{facts: []map[string]any{
		{"fact_type": types.FactTypeUserIdentity, "content": "tên là Minh, sinh viên năm 2"},
	}}

	if err := testExtractor(t, oai, repo).Extract(context.Background(), "u1", "m", "a"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	identity, _ := repo.ListByType(context.Background(), nil, "u1", types.FactTypeUserIdentity)
	if len(identity) != 1 {
		t.Fatalf("identity rows = %d, want 1", len(identity))
	}
	if identity[0].Content != "tên là Minh, sinh viên năm 2" {
		t.Fatalf("identity not updated: %q", identity[0].Content)
	}
}

func TestExtract_ModelFailurePropagates(t *testing.T) {
	repo := &memFactRepo{}
	oai := &stubOpenAI{err: fmt.Errorf("rate limited")}

	if err := testExtractor(t, oai, repo).Extract(context.Background(), "u1", "m", "a"); err == nil {
		t.Fatalf("model failure must surface from Extract")
	}
	if len(repo.facts) != 0 {
		t.Fatalf("no facts may be written on failure")
	}
}

func TestSameContent(t *testing.T) {
	if !sameContent("Pass  the exam", "pass the exam") {
		t.Errorf("case and spacing must not matter")
	}
	if sameContent("pass the exam", "fail the exam") {
		t.Errorf("different content treated as same")
	}
}
