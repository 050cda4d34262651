package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// CandidateFact is one extracted statement about the user before the
// check-before-write step.
type CandidateFact struct {
	FactType string `json:"fact_type"`
	Content  string `json:"content"`
}

// Extractor mines user facts from completed turns. ExtractAsync is
// fire-and-forget with a global concurrency bound; a burst of turns cannot
// saturate the model quota. All errors are swallowed and logged.
type Extractor interface {
	ExtractAsync(userID, userMessage, assistantMessage string)
	// Extract runs synchronously; exposed for turn-completion hooks and tests.
	Extract(ctx context.Context, userID, userMessage, assistantMessage string) error
}

type extractor struct {
	log   *logger.Logger
	oai   openai.Client
	facts repos.FactRepo
	sem   *semaphore.Weighted
	cap   int
}

func NewExtractor(log *logger.Logger, oai openai.Client, facts repos.FactRepo, concurrency, factCap int) Extractor {
	if concurrency <= 0 {
		concurrency = 16
	}
	if factCap <= 0 {
		factCap = 50
	}
	return &extractor{
		log:   log.With("service", "InsightExtractor"),
		oai:   oai,
		facts: facts,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		cap:   factCap,
	}
}

func (e *extractor) ExtractAsync(userID, userMessage, assistantMessage string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := e.sem.Acquire(ctx, 1); err != nil {
			e.log.Warn("Insight extraction skipped; semaphore wait timed out", "user_id", userID)
			return
		}
		defer e.sem.Release(1)

		if err := e.Extract(ctx, userID, userMessage, assistantMessage); err != nil {
			e.log.Warn("Insight extraction failed", "user_id", userID, "error", err)
		}
	}()
}

var insightSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"facts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact_type": map[string]any{
						"type": "string",
						"enum": []string{
							types.FactTypeUserIdentity,
							types.FactTypeLearningStyle,
							types.FactTypeTopicPreference,
							types.FactTypeGoal,
						},
					},
					"content": map[string]any{"type": "string"},
				},
				"required":             []string{"fact_type", "content"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"facts"},
	"additionalProperties": false,
}

func (e *extractor) Extract(ctx context.Context, userID, userMessage, assistantMessage string) error {
	existing, err := e.facts.ListByUser(ctx, nil, userID)
	if err != nil {
		return fmt.Errorf("load facts: %w", err)
	}

	candidates, err := e.extractCandidates(ctx, userMessage, assistantMessage, existing)
	if err != nil {
		return fmt.Errorf("extract candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, cand := range candidates {
		if err := e.writeCandidate(ctx, userID, cand); err != nil {
			e.log.Warn("Fact write failed", "user_id", userID, "fact_type", cand.FactType, "error", err)
		}
	}

	if _, err := e.facts.EvictOverCap(ctx, nil, userID, e.cap); err != nil {
		return fmt.Errorf("evict: %w", err)
	}
	return nil
}

func (e *extractor) extractCandidates(ctx context.Context, userMessage, assistantMessage string, existing []*types.UserFact) ([]CandidateFact, error) {
	var known strings.Builder
	for i, f := range existing {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&known, "- [%s] %s\n", f.FactType, f.Content)
	}

	system := `You extract durable facts about a student from a tutoring exchange.
Return only facts worth remembering across sessions: who they are
(user_identity), how they like to learn (learning_style), topics they care
about (topic_preference), and goals (goal). Each content is one short
statement. Return an empty list when the exchange reveals nothing new.`

	user := fmt.Sprintf("Known facts:\n%s\nUser: %s\nAssistant: %s",
		known.String(), userMessage, assistantMessage)

	obj, err := e.oai.GenerateJSON(ctx, system, user, "insight_extraction", insightSchema)
	if err != nil {
		return nil, err
	}

	raw, ok := obj["facts"].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]CandidateFact, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ft, _ := m["fact_type"].(string)
		content, _ := m["content"].(string)
		content = strings.TrimSpace(content)
		if ft == "" || content == "" {
			continue
		}
		out = append(out, CandidateFact{FactType: ft, Content: content})
	}
	return out, nil
}

// writeCandidate is the check-before-write step: singleton types upsert in
// place, list types insert only when no normalized duplicate exists.
func (e *extractor) writeCandidate(ctx context.Context, userID string, cand CandidateFact) error {
	if types.SingletonFactTypes[cand.FactType] {
		current, err := e.facts.ListByType(ctx, nil, userID, cand.FactType)
		if err != nil {
			return err
		}
		if len(current) > 0 && sameContent(current[0].Content, cand.Content) {
			return nil
		}
		return e.facts.UpsertSingleton(ctx, nil, &types.UserFact{
			UserID:   userID,
			FactType: cand.FactType,
			Content:  cand.Content,
		})
	}

	dup, err := e.facts.ExistsContent(ctx, nil, userID, cand.FactType, cand.Content)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}
	return e.facts.Insert(ctx, nil, &types.UserFact{
		UserID:   userID,
		FactType: cand.FactType,
		Content:  cand.Content,
	})
}

func sameContent(a, b string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(a) == norm(b)
}
