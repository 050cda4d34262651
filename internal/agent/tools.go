package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/intent"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/retriever"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

const (
	AccessRead  = "read"
	AccessWrite = "write"
)

// TurnContext is what a tool handler knows about the turn it runs in.
type TurnContext struct {
	UserID    string
	Role      string
	Intent    intent.Type
	Collector *Collector
}

// Tool is a registry value, not a class: name, schema, access tag, and the
// predicate deciding whether this turn may use it.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Access      string
	Allowed     func(tc TurnContext) bool
	Handler     func(ctx context.Context, tc TurnContext, args map[string]any) (string, error)
}

func (t Tool) decl() openai.Tool {
	return openai.Tool{
		Type: "function",
		Function: openai.ToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

// Registry holds the process-wide tool set, built once at startup.
type Registry struct {
	log   *logger.Logger
	tools []Tool
}

func NewRegistry(log *logger.Logger, ret retriever.Retriever, facts repos.FactRepo) *Registry {
	r := &Registry{log: log.With("service", "ToolRegistry")}
	r.tools = buildTools(ret, facts)
	return r
}

// ForTurn applies each tool's predicate and returns the subset this turn may
// call.
func (r *Registry) ForTurn(tc TurnContext) []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if t.Allowed == nil || t.Allowed(tc) {
			out = append(out, t)
		}
	}
	return out
}

func always(TurnContext) bool { return true }

func buildTools(ret retriever.Retriever, facts repos.FactRepo) []Tool {
	strArg := func(args map[string]any, key string) string {
		v, _ := args[key].(string)
		return strings.TrimSpace(v)
	}

	return []Tool{
		{
			Name:        "retrieve",
			Description: "Search the maritime regulations knowledge base. Returns cited passages with page references.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Search query, Vietnamese or English"},
					"k":     map[string]any{"type": "integer", "description": "Number of passages, default 8"},
				},
				"required": []string{"query"},
			},
			Access:  AccessRead,
			Allowed: always,
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				query := strArg(args, "query")
				if query == "" {
					return "", fmt.Errorf("query required")
				}
				k := 0
				if v, ok := args["k"].(float64); ok {
					k = int(v)
				}
				res, err := ret.Search(ctx, query, retriever.SearchOptions{K: k})
				if err != nil {
					return "", err
				}
				tc.Collector.RecordRetrieval(res)
				return renderCitations(res.Citations), nil
			},
		},
		{
			Name:        "save_user_info",
			Description: "Save one fact about the user. key is one of: user_identity, learning_style, topic_preference, goal.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":   map[string]any{"type": "string"},
					"value": map[string]any{"type": "string"},
				},
				"required": []string{"key", "value"},
			},
			Access:  AccessWrite,
			Allowed: always,
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				key := strArg(args, "key")
				value := strArg(args, "value")
				if key == "" || value == "" {
					return "", fmt.Errorf("key and value required")
				}
				return saveFact(ctx, facts, tc.UserID, key, value)
			},
		},
		{
			Name:        "get_user_info",
			Description: "Read saved facts about the user, optionally filtered by key.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key": map[string]any{"type": "string"},
				},
			},
			Access:  AccessRead,
			Allowed: always,
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				key := strArg(args, "key")
				var (
					list []*types.UserFact
					err  error
				)
				if key != "" {
					list, err = facts.ListByType(ctx, nil, tc.UserID, key)
				} else {
					list, err = facts.ListByUser(ctx, nil, tc.UserID)
				}
				if err != nil {
					return "", err
				}
				return renderFacts(list), nil
			},
		},
		{
			Name:        "remember",
			Description: "Remember something the user explicitly asked to remember.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact": map[string]any{"type": "string"},
				},
				"required": []string{"fact"},
			},
			Access:  AccessWrite,
			Allowed: always,
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				fact := strArg(args, "fact")
				if fact == "" {
					return "", fmt.Errorf("fact required")
				}
				return saveFact(ctx, facts, tc.UserID, types.FactTypeTopicPreference, fact)
			},
		},
		{
			Name:        "forget",
			Description: "Forget a previously remembered fact matching the given text.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact": map[string]any{"type": "string"},
				},
				"required": []string{"fact"},
			},
			Access:  AccessWrite,
			Allowed: always,
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				target := strings.ToLower(strArg(args, "fact"))
				if target == "" {
					return "", fmt.Errorf("fact required")
				}
				list, err := facts.ListByUser(ctx, nil, tc.UserID)
				if err != nil {
					return "", err
				}
				// Delete only the matching rows; other facts of the same type
				// stay untouched.
				removed := 0
				for _, f := range list {
					if strings.Contains(strings.ToLower(f.Content), target) {
						if n, err := facts.DeleteByID(ctx, nil, tc.UserID, f.ID); err == nil {
							removed += int(n)
						}
					}
				}
				if removed == 0 {
					return "No matching memory found.", nil
				}
				return fmt.Sprintf("Forgot %d matching memories.", removed), nil
			},
		},
		{
			Name:        "list_memories",
			Description: "List everything remembered about the user.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Access:      AccessRead,
			Allowed:     always,
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				list, err := facts.ListByUser(ctx, nil, tc.UserID)
				if err != nil {
					return "", err
				}
				return renderFacts(list), nil
			},
		},
		{
			Name:        "clear_all_memories",
			Description: "Delete everything remembered about the user. Only on explicit user request.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Access:      AccessWrite,
			Allowed:     always,
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				n, err := facts.DeleteAll(ctx, nil, tc.UserID)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Cleared %d memories.", n), nil
			},
		},
		{
			Name:        "suggest_study_plan",
			Description: "Draft a short study plan for a maritime topic at the student's level.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic": map[string]any{"type": "string"},
				},
				"required": []string{"topic"},
			},
			Access: AccessRead,
			// Learning tools only for students in teaching turns.
			Allowed: func(tc TurnContext) bool {
				return tc.Role == "student" && tc.Intent == intent.Teaching
			},
			Handler: func(ctx context.Context, tc TurnContext, args map[string]any) (string, error) {
				topic := strArg(args, "topic")
				if topic == "" {
					return "", fmt.Errorf("topic required")
				}
				res, err := ret.Search(ctx, topic, retriever.SearchOptions{K: 5})
				if err != nil {
					return "", err
				}
				tc.Collector.RecordRetrieval(res)
				return "Relevant material for the plan:\n" + renderCitations(res.Citations), nil
			},
		},
	}
}

func saveFact(ctx context.Context, facts repos.FactRepo, userID, factType, content string) (string, error) {
	fact := &types.UserFact{UserID: userID, FactType: factType, Content: content}
	if types.SingletonFactTypes[factType] {
		if err := facts.UpsertSingleton(ctx, nil, fact); err != nil {
			return "", err
		}
		return "Saved.", nil
	}
	dup, err := facts.ExistsContent(ctx, nil, userID, factType, content)
	if err != nil {
		return "", err
	}
	if dup {
		return "Already known.", nil
	}
	if err := facts.Insert(ctx, nil, fact); err != nil {
		return "", err
	}
	return "Saved.", nil
}

func renderFacts(list []*types.UserFact) string {
	if len(list) == 0 {
		return "No memories stored."
	}
	var sb strings.Builder
	for _, f := range list {
		fmt.Fprintf(&sb, "- [%s] %s\n", f.FactType, f.Content)
	}
	return sb.String()
}

// renderCitations is what the model sees after a retrieval call; compact
// JSON keeps page references machine-usable in the answer.
func renderCitations(citations []retriever.Citation) string {
	if len(citations) == 0 {
		return "No relevant passages found."
	}
	type item struct {
		DocumentID string  `json:"document_id"`
		Page       int     `json:"page"`
		Title      string  `json:"title,omitempty"`
		Snippet    string  `json:"snippet"`
		Score      float64 `json:"score"`
	}
	items := make([]item, 0, len(citations))
	for _, c := range citations {
		snippet := c.ContentSnippet
		// Truncate on rune boundaries; Vietnamese text must never be cut
		// mid-character.
		if runes := []rune(snippet); len(runes) > 800 {
			snippet = string(runes[:800]) + "…"
		}
		items = append(items, item{
			DocumentID: c.DocumentID,
			Page:       c.PageNumber,
			Title:      c.Title,
			Snippet:    snippet,
			Score:      c.RelevanceScore,
		})
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "No relevant passages found."
	}
	return string(raw)
}
