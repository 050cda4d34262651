package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/agent"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/intent"
	"github.com/vimaru-ai/seatutor-backend/internal/memory"
	"github.com/vimaru-ai/seatutor-backend/internal/moderation"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/apierr"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/retriever"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// Canned reply for blocked turns. Persisted as the assistant message so the
// session transcript stays complete.
const blockedReply = `Xin lỗi, tôi không thể trả lời nội dung này. Chúng ta hãy quay lại các chủ đề về hàng hải và an toàn trên biển nhé.`

type TurnInput struct {
	SessionID uuid.UUID
	UserID    string
	UserName  *string
	Role      string
	Message   string
}

type TurnResult struct {
	SessionID          uuid.UUID                 `json:"session_id"`
	Blocked            bool                      `json:"blocked"`
	BlockReason        string                    `json:"block_reason,omitempty"`
	Answer             string                    `json:"answer"`
	Thinking           string                    `json:"thinking,omitempty"`
	ThinkingSource     string                    `json:"thinking_source"`
	Intent             intent.Type               `json:"intent"`
	IntentConfidence   float64                   `json:"intent_confidence"`
	Citations          []retriever.Citation      `json:"citations,omitempty"`
	EvidenceImages     []retriever.EvidenceImage `json:"evidence_images,omitempty"`
	ToolsUsed          []string                  `json:"tools_used,omitempty"`
	SuggestedQuestions []string                  `json:"suggested_questions,omitempty"`
	LatencyMS          int64                     `json:"latency_ms"`
}

type Config struct {
	TurnTimeout   time.Duration
	HistoryWindow int
}

func (c Config) withDefaults() Config {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 120 * time.Second
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 50
	}
	return c
}

// Orchestrator runs one conversational turn end to end. HandleTurnStream is
// the same pipeline with raw content deltas forwarded to onDelta.
type Orchestrator interface {
	HandleTurn(ctx context.Context, in TurnInput) (*TurnResult, error)
	HandleTurnStream(ctx context.Context, in TurnInput, onDelta func(string)) (*TurnResult, error)
}

type orchestrator struct {
	log        *logger.Logger
	db         *gorm.DB
	gate       moderation.Gate
	classifier *intent.Classifier
	window     memory.Window
	insights   memory.Extractor
	agent      agent.Agent
	oai        openai.Client
	sessions   repos.SessionRepo
	messages   repos.MessageRepo
	profiles   repos.ProfileRepo
	cfg        Config

	// One in-flight turn per session. Serializing here keeps the history
	// window and the follow-up hint consistent without DB-level locking.
	locks sync.Map
}

func New(
	log *logger.Logger,
	db *gorm.DB,
	gate moderation.Gate,
	classifier *intent.Classifier,
	window memory.Window,
	insights memory.Extractor,
	ag agent.Agent,
	oai openai.Client,
	sessions repos.SessionRepo,
	messages repos.MessageRepo,
	profiles repos.ProfileRepo,
	cfg Config,
) Orchestrator {
	return &orchestrator{
		log:        log.With("service", "Orchestrator"),
		db:         db,
		gate:       gate,
		classifier: classifier,
		window:     window,
		insights:   insights,
		agent:      ag,
		oai:        oai,
		sessions:   sessions,
		messages:   messages,
		profiles:   profiles,
		cfg:        cfg.withDefaults(),
	}
}

func (o *orchestrator) HandleTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	return o.handle(ctx, in, nil)
}

func (o *orchestrator) HandleTurnStream(ctx context.Context, in TurnInput, onDelta func(string)) (*TurnResult, error) {
	return o.handle(ctx, in, onDelta)
}

func (o *orchestrator) sessionLock(sessionID uuid.UUID) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(sessionID.String(), &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (o *orchestrator) handle(ctx context.Context, in TurnInput, onDelta func(string)) (*TurnResult, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, apierr.Validation(fmt.Errorf("message required"))
	}
	if in.UserID == "" {
		return nil, apierr.Validation(fmt.Errorf("user_id required"))
	}
	if in.SessionID == uuid.Nil {
		return nil, apierr.Validation(fmt.Errorf("session_id required"))
	}
	if in.Role == "" {
		in.Role = RoleStudent
	}

	lock := o.sessionLock(in.SessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	started := time.Now()

	decision := o.gate.Validate(ctx, in.Message)
	if !decision.Allowed() {
		return o.handleBlocked(ctx, in, decision, started)
	}

	if _, err := o.sessions.GetOrCreate(ctx, nil, in.SessionID, in.UserID, in.UserName); err != nil {
		return nil, apierr.Unavailable(fmt.Errorf("session: %w", err))
	}

	history, err := o.window.Recent(ctx, in.SessionID)
	if err != nil {
		return nil, apierr.Unavailable(fmt.Errorf("history: %w", err))
	}
	facts, err := o.window.Facts(ctx, in.UserID)
	if err != nil {
		o.log.Warn("Fact load failed; continuing without memory", "user_id", in.UserID, "error", err)
		facts = nil
	}
	profile, err := o.profiles.Get(ctx, nil, in.UserID)
	if err != nil {
		o.log.Warn("Profile load failed; using defaults", "user_id", in.UserID, "error", err)
		profile = &types.LearningProfile{UserID: in.UserID, Level: "beginner"}
	}

	classified := o.classifier.Classify(in.Message, o.lastIntentHint(ctx, in.SessionID))

	collector := agent.NewCollector()
	tc := agent.TurnContext{
		UserID:    in.UserID,
		Role:      in.Role,
		Intent:    classified.Intent,
		Collector: collector,
	}

	system := composeSystemPrompt(in.Role, profile, facts, decision.Pronouns, continuationHint(history, in.Message))
	msgs := buildMessages(system, history, in.Message)

	run, err := o.agent.Run(ctx, tc, msgs, onDelta)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Timeout(fmt.Errorf("turn timed out: %w", err))
		}
		return nil, apierr.Upstream(fmt.Errorf("agent: %w", err))
	}

	processed := agent.Postprocess(run.Content)
	citations := collector.Citations()
	toolsUsed := collector.ToolsUsed()

	result := &TurnResult{
		SessionID:        in.SessionID,
		Answer:           processed.Answer,
		Thinking:         processed.Thinking,
		ThinkingSource:   processed.ThinkingSource,
		Intent:           classified.Intent,
		IntentConfidence: classified.Confidence,
		Citations:        citations,
		EvidenceImages:   collector.EvidenceImages(),
		ToolsUsed:        toolsUsed,
		LatencyMS:        time.Since(started).Milliseconds(),
	}
	result.SuggestedQuestions = o.suggestQuestions(ctx, in.Message, processed.Answer)

	if err := o.persistTurn(ctx, in, classified, result); err != nil {
		return nil, apierr.Unavailable(fmt.Errorf("persist turn: %w", err))
	}

	o.insights.ExtractAsync(in.UserID, in.Message, processed.Answer)
	o.bumpCountersAsync(in.UserID, len(history) == 0)

	return result, nil
}

func (o *orchestrator) handleBlocked(ctx context.Context, in TurnInput, decision moderation.Decision, started time.Time) (*TurnResult, error) {
	reason := decision.Reason
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := o.sessions.GetOrCreate(ctx, tx, in.SessionID, in.UserID, in.UserName); err != nil {
			return err
		}
		return o.messages.Append(ctx, tx,
			&types.ChatMessage{
				SessionID:   in.SessionID,
				Role:        types.RoleUser,
				Content:     in.Message,
				IsBlocked:   true,
				BlockReason: &reason,
			},
			&types.ChatMessage{
				SessionID: in.SessionID,
				Role:      types.RoleAssistant,
				Content:   blockedReply,
				IsBlocked: true,
			},
		)
	})
	if err != nil {
		return nil, apierr.Unavailable(fmt.Errorf("persist blocked turn: %w", err))
	}

	o.log.Info("Turn blocked", "session_id", in.SessionID, "reason", reason)

	return &TurnResult{
		SessionID:      in.SessionID,
		Blocked:        true,
		BlockReason:    reason,
		Answer:         blockedReply,
		ThinkingSource: "none",
		Intent:         intent.General,
		LatencyMS:      time.Since(started).Milliseconds(),
	}, nil
}

// persistTurn writes the user/assistant pair in one transaction; a cancelled
// turn persists neither message.
func (o *orchestrator) persistTurn(ctx context.Context, in TurnInput, classified intent.Result, result *TurnResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta := repos.AssistantMetadata{
		AgentType:   agentTypeFor(classified.Intent),
		Intent:      string(classified.Intent),
		ToolsUsed:   result.ToolsUsed,
		SourceCount: len(result.Citations),
		LatencyMS:   result.LatencyMS,
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return o.messages.Append(ctx, tx,
			&types.ChatMessage{
				SessionID: in.SessionID,
				Role:      types.RoleUser,
				Content:   in.Message,
			},
			&types.ChatMessage{
				SessionID: in.SessionID,
				Role:      types.RoleAssistant,
				Content:   result.Answer,
				Metadata:  datatypes.JSON(rawMeta),
			},
		)
	})
}

func (o *orchestrator) lastIntentHint(ctx context.Context, sessionID uuid.UUID) intent.Type {
	meta, err := o.messages.LastAssistantMetadata(ctx, nil, sessionID)
	if err != nil {
		o.log.Warn("Follow-up hint unavailable", "session_id", sessionID, "error", err)
		return ""
	}
	if meta == nil {
		return ""
	}
	return intent.Type(meta.Intent)
}

func agentTypeFor(t intent.Type) string {
	switch t {
	case intent.Knowledge:
		return "knowledge"
	case intent.Teaching:
		return "teaching"
	default:
		return "general"
	}
}

func buildMessages(system string, history []*types.ChatMessage, userMessage string) []openai.Message {
	msgs := make([]openai.Message, 0, len(history)+2)
	msgs = append(msgs, openai.Message{Role: "system", Content: system})
	for _, m := range history {
		role := m.Role
		if role != types.RoleUser && role != types.RoleAssistant {
			continue
		}
		msgs = append(msgs, openai.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.Message{Role: types.RoleUser, Content: userMessage})
	return msgs
}

var suggestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"maxItems": 3,
		},
	},
	"required":             []string{"questions"},
	"additionalProperties": false,
}

// suggestQuestions is best effort; a failed call just means no suggestions.
func (o *orchestrator) suggestQuestions(ctx context.Context, userMessage, answer string) []string {
	if strings.TrimSpace(answer) == "" {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	system := `Đề xuất tối đa 3 câu hỏi tiếp theo ngắn gọn mà người học hàng hải
có thể muốn hỏi sau câu trả lời này. Cùng ngôn ngữ với người học.`
	user := fmt.Sprintf("Người học hỏi: %s\n\nTrả lời: %s", userMessage, answer)

	obj, err := o.oai.GenerateJSON(sctx, system, user, "suggested_questions", suggestSchema)
	if err != nil {
		o.log.Warn("Suggested questions skipped", "error", err)
		return nil
	}
	raw, ok := obj["questions"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, q := range raw {
		if s, ok := q.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func (o *orchestrator) bumpCountersAsync(userID string, firstTurn bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sessions := 0
		if firstTurn {
			sessions = 1
		}
		if err := o.profiles.IncrementCounters(ctx, nil, userID, sessions, 2); err != nil {
			o.log.Warn("Profile counters not updated", "user_id", userID, "error", err)
		}
	}()
}
