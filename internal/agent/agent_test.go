package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/intent"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/retriever"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

type fakeOpenAI struct {
	results []*openai.ChatResult
	reqs    []openai.ChatRequest
}

func (f *fakeOpenAI) next(req openai.ChatRequest) (*openai.ChatResult, error) {
	f.reqs = append(f.reqs, req)
	if len(f.results) == 0 {
		return nil, fmt.Errorf("no scripted result for request %d", len(f.reqs))
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeOpenAI) Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResult, error) {
	return f.next(req)
}

func (f *fakeOpenAI) StreamChat(ctx context.Context, req openai.ChatRequest, onDelta func(string)) (*openai.ChatResult, error) {
	res, err := f.next(req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && res.Content != "" {
		onDelta(res.Content)
	}
	return res, nil
}

func (f *fakeOpenAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeOpenAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeOpenAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", fmt.Errorf("not scripted")
}

func (f *fakeOpenAI) GenerateTextWithImages(ctx context.Context, system, user string, images []openai.ImageInput) (string, error) {
	return "", fmt.Errorf("not scripted")
}

type fakeRetriever struct {
	result *retriever.SearchResult
	err    error
	calls  int
}

func (f *fakeRetriever) Search(ctx context.Context, queryText string, opts retriever.SearchOptions) (*retriever.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeFactRepo struct {
	facts []*types.UserFact
}

func (f *fakeFactRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.UserFact, error) {
	return f.facts, nil
}

func (f *fakeFactRepo) ListByType(ctx context.Context, tx *gorm.DB, userID, factType string) ([]*types.UserFact, error) {
	var out []*types.UserFact
	for _, fa := range f.facts {
		if fa.FactType == factType {
			out = append(out, fa)
		}
	}
	return out, nil
}

func (f *fakeFactRepo) Insert(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error {
	f.facts = append(f.facts, fact)
	return nil
}

func (f *fakeFactRepo) UpsertSingleton(ctx context.Context, tx *gorm.DB, fact *types.UserFact) error {
	for i, fa := range f.facts {
		if fa.FactType == fact.FactType {
			f.facts[i] = fact
			return nil
		}
	}
	f.facts = append(f.facts, fact)
	return nil
}

func (f *fakeFactRepo) ExistsContent(ctx context.Context, tx *gorm.DB, userID, factType, content string) (bool, error) {
	for _, fa := range f.facts {
		if fa.FactType == factType && strings.EqualFold(strings.TrimSpace(fa.Content), strings.TrimSpace(content)) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFactRepo) DeleteByID(ctx context.Context, tx *gorm.DB, userID string, id uuid.UUID) (int64, error) {
	var kept []*types.UserFact
	var n int64
	for _, fa := range f.facts {
		if fa.ID == id {
			n++
			continue
		}
		kept = append(kept, fa)
	}
	f.facts = kept
	return n, nil
}

func (f *fakeFactRepo) DeleteByType(ctx context.Context, tx *gorm.DB, userID, factType string) (int64, error) {
	var kept []*types.UserFact
	var n int64
	for _, fa := range f.facts {
		if fa.FactType == factType {
			n++
			continue
		}
		kept = append(kept, fa)
	}
	f.facts = kept
	return n, nil
}

func (f *fakeFactRepo) DeleteAll(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	n := int64(len(f.facts))
	f.facts = nil
	return n, nil
}

func (f *fakeFactRepo) CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	return int64(len(f.facts)), nil
}

func (f *fakeFactRepo) EvictOverCap(ctx context.Context, tx *gorm.DB, userID string, cap int) (int64, error) {
	return 0, nil
}

func toolCall(id, name, args string) openai.ToolCall {
	var tc openai.ToolCall
	tc.ID = id
	tc.Type = "function"
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}

func searchResult() *retriever.SearchResult {
	return &retriever.SearchResult{
		Citations: []retriever.Citation{{
			DocumentID:     "colregs-1972",
			PageNumber:     12,
			ContentSnippet: "the give-way vessel shall keep out of the way",
			RelevanceScore: 0.9,
		}},
		EvidenceImages: []retriever.EvidenceImage{{
			DocumentID: "colregs-1972", PageNumber: 12, ImageURL: "u1",
		}},
	}
}

func newTestAgent(t *testing.T, oai *fakeOpenAI, ret retriever.Retriever, cfg Config) (Agent, TurnContext) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	registry := NewRegistry(log, ret, &fakeFactRepo{})
	tc := TurnContext{
		UserID:    "u1",
		Role:      "student",
		Intent:    intent.Knowledge,
		Collector: NewCollector(),
	}
	return New(log, oai, registry, cfg), tc
}

func userMessages() []openai.Message {
	return []openai.Message{
		{Role: "system", Content: "you are a tutor"},
		{Role: "user", Content: "quy tắc 15 nói gì?"},
	}
}

func TestRun_DirectAnswer(t *testing.T) {
	oai := &fakeOpenAI{results: []*openai.ChatResult{
		{Content: "Quy tắc 15 quy định tình huống cắt hướng.", FinishReason: "stop"},
	}}
	ag, tc := newTestAgent(t, oai, &fakeRetriever{result: searchResult()}, Config{})

	res, err := ag.Run(context.Background(), tc, userMessages(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ToolCalls != 0 {
		t.Fatalf("tool calls = %d, want 0", res.ToolCalls)
	}
	if res.Content == "" || res.FinishReason != "stop" {
		t.Fatalf("result = %+v", res)
	}
	if len(oai.reqs[0].Tools) == 0 {
		t.Fatalf("first model step must offer tools")
	}
}

func TestRun_ToolLoopFeedsResultsBack(t *testing.T) {
	oai := &fakeOpenAI{results: []*openai.ChatResult{
		{ToolCalls: []openai.ToolCall{toolCall("c1", "retrieve", `{"query":"crossing situation"}`)}},
		{Content: "Theo Quy tắc 15, tàu phải nhường đường.", FinishReason: "stop"},
	}}
	ret := &fakeRetriever{result: searchResult()}
	ag, tc := newTestAgent(t, oai, ret, Config{})

	res, err := ag.Run(context.Background(), tc, userMessages(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ToolCalls != 1 {
		t.Fatalf("tool calls = %d, want 1", res.ToolCalls)
	}
	if ret.calls != 1 {
		t.Fatalf("retriever calls = %d, want 1", ret.calls)
	}

	if got := tc.Collector.Citations(); len(got) != 1 {
		t.Fatalf("collector citations = %d, want 1", len(got))
	}
	if got := tc.Collector.ToolsUsed(); len(got) != 1 || got[0] != "retrieve" {
		t.Fatalf("tools used = %v", got)
	}

	// Second model step must carry the assistant tool-call turn and the tool
	// result back to the model.
	second := oai.reqs[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "c1" || last.Name != "retrieve" {
		t.Fatalf("tool result message = %+v", last)
	}
	if !strings.Contains(last.Content, "colregs-1972") {
		t.Fatalf("tool result lost citation payload: %q", last.Content)
	}
	if second[len(second)-2].Role != "assistant" {
		t.Fatalf("assistant tool-call turn missing before tool result")
	}
}

func TestRun_CapRemovesTools(t *testing.T) {
	oai := &fakeOpenAI{results: []*openai.ChatResult{
		{ToolCalls: []openai.ToolCall{toolCall("c1", "retrieve", `{"query":"lights"}`)}},
		{Content: "final answer", FinishReason: "stop"},
	}}
	ag, tc := newTestAgent(t, oai, &fakeRetriever{result: searchResult()}, Config{MaxToolCalls: 1})

	if _, err := ag.Run(context.Background(), tc, userMessages(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(oai.reqs) != 2 {
		t.Fatalf("model steps = %d, want 2", len(oai.reqs))
	}
	if len(oai.reqs[0].Tools) == 0 {
		t.Fatalf("first step must offer tools")
	}
	if len(oai.reqs[1].Tools) != 0 {
		t.Fatalf("step past the call cap must offer no tools")
	}
}

func TestRun_ToolErrorsGoBackAsText(t *testing.T) {
	oai := &fakeOpenAI{results: []*openai.ChatResult{
		{ToolCalls: []openai.ToolCall{
			toolCall("c1", "retrieve", `{"query":"anchoring"}`),
			toolCall("c2", "no_such_tool", `{}`),
		}},
		{Content: "answered without the broken tool", FinishReason: "stop"},
	}}
	ret := &fakeRetriever{err: fmt.Errorf("vector index offline")}
	ag, tc := newTestAgent(t, oai, ret, Config{})

	res, err := ag.Run(context.Background(), tc, userMessages(), nil)
	if err != nil {
		t.Fatalf("tool failures must not fail the run: %v", err)
	}
	if res.Content != "answered without the broken tool" {
		t.Fatalf("content = %q", res.Content)
	}

	msgs := oai.reqs[1].Messages
	failed := msgs[len(msgs)-2]
	unknown := msgs[len(msgs)-1]
	if !strings.HasPrefix(failed.Content, "Error: retrieve failed:") {
		t.Fatalf("failed tool message = %q", failed.Content)
	}
	if !strings.Contains(unknown.Content, "not available") {
		t.Fatalf("unknown tool message = %q", unknown.Content)
	}
}

func TestRun_StreamsDeltas(t *testing.T) {
	oai := &fakeOpenAI{results: []*openai.ChatResult{
		{Content: "đáp án", FinishReason: "stop"},
	}}
	ag, tc := newTestAgent(t, oai, &fakeRetriever{result: searchResult()}, Config{})

	var streamed strings.Builder
	res, err := ag.Run(context.Background(), tc, userMessages(), func(d string) {
		streamed.WriteString(d)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if streamed.String() != res.Content {
		t.Fatalf("streamed %q, final %q", streamed.String(), res.Content)
	}
}

func TestForTurn_StudyPlanGating(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	registry := NewRegistry(log, &fakeRetriever{result: searchResult()}, &fakeFactRepo{})

	has := func(tools []Tool, name string) bool {
		for _, tl := range tools {
			if tl.Name == name {
				return true
			}
		}
		return false
	}

	student := registry.ForTurn(TurnContext{Role: "student", Intent: intent.Teaching})
	if !has(student, "suggest_study_plan") {
		t.Fatalf("student teaching turn must see suggest_study_plan")
	}

	teacher := registry.ForTurn(TurnContext{Role: "teacher", Intent: intent.Teaching})
	if has(teacher, "suggest_study_plan") {
		t.Fatalf("non-student turn must not see suggest_study_plan")
	}

	knowledge := registry.ForTurn(TurnContext{Role: "student", Intent: intent.Knowledge})
	if has(knowledge, "suggest_study_plan") {
		t.Fatalf("knowledge turn must not see suggest_study_plan")
	}
	if !has(knowledge, "retrieve") {
		t.Fatalf("retrieve must always be available")
	}
}

func TestSaveFact_DuplicateAndSingleton(t *testing.T) {
	repo := &fakeFactRepo{}

	if msg, err := saveFact(context.Background(), repo, "u1", types.FactTypeTopicPreference, "focus on COLREG"); err != nil || msg != "Saved." {
		t.Fatalf("first save: %q, %v", msg, err)
	}
	if msg, err := saveFact(context.Background(), repo, "u1", types.FactTypeTopicPreference, "Focus on COLREG"); err != nil || msg != "Already known." {
		t.Fatalf("duplicate save: %q, %v", msg, err)
	}

	if _, err := saveFact(context.Background(), repo, "u1", types.FactTypeUserIdentity, "tên là Minh"); err != nil {
		t.Fatalf("singleton save: %v", err)
	}
	if _, err := saveFact(context.Background(), repo, "u1", types.FactTypeUserIdentity, "tên là Lan"); err != nil {
		t.Fatalf("singleton overwrite: %v", err)
	}
	identity, _ := repo.ListByType(context.Background(), nil, "u1", types.FactTypeUserIdentity)
	if len(identity) != 1 || identity[0].Content != "tên là Lan" {
		t.Fatalf("singleton must hold one row with the latest value: %+v", identity)
	}
}
