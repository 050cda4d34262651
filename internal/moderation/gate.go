package moderation

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/redisx"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

const (
	ActionAllow = "ALLOW"
	ActionBlock = "BLOCK"
	ActionFlag  = "FLAG"
)

// Pronouns is the custom address style a user may request
// ("gọi tôi là anh, xưng em").
type Pronouns struct {
	UserSelf   string `json:"user_self,omitempty"`
	UserCalled string `json:"user_called,omitempty"`
	AISelf     string `json:"ai_self,omitempty"`
}

type Decision struct {
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	Pronouns  *Pronouns `json:"pronouns,omitempty"`
	UsedLLM   bool      `json:"used_llm"`
	Cached    bool      `json:"cached"`
	LatencyMS int64     `json:"latency_ms"`
}

// Allowed treats FLAG as pass-through; flagged turns proceed but are logged.
func (d Decision) Allowed() bool { return d.Action != ActionBlock }

type Config struct {
	EnableLLM     bool
	Timeout       time.Duration
	CacheTTL      time.Duration
	CacheSize     int
	DomainContext string
	// Fallback word list; matched case-insensitively as whole words.
	BlockedWords []string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 2048
	}
	if c.DomainContext == "" {
		c.DomainContext = "maritime education"
	}
	if len(c.BlockedWords) == 0 {
		c.BlockedWords = []string{
			"đồ ngu", "ngu ngốc", "đồ điên", "con chó", "đồ khốn",
			"idiot", "stupid", "moron", "dumbass",
		}
	}
	return c
}

type Gate interface {
	Validate(ctx context.Context, message string) Decision
}

type gate struct {
	log   *logger.Logger
	oai   openai.Client
	redis redisx.Cache // optional
	cfg   Config

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

type cacheEntry struct {
	fingerprint string
	decision    Decision
	expiresAt   time.Time
}

// NewGate builds the moderation gate. redis may be nil; decisions then cache
// only in-process.
func NewGate(log *logger.Logger, oai openai.Client, redis redisx.Cache, cfg Config) Gate {
	return &gate{
		log:     log.With("service", "ModerationGate"),
		oai:     oai,
		redis:   redis,
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Trivial messages that never need a model round-trip.
var skipPatterns = map[string]bool{
	"hi": true, "hello": true, "hey": true, "chào": true, "xin chào": true,
	"chào bạn": true, "cảm ơn": true, "cám ơn": true, "thanks": true,
	"thank you": true, "ok": true, "oke": true, "okay": true, "vâng": true,
	"dạ": true, "ừ": true, "uh": true, "yes": true, "no": true, "không": true,
	"tạm biệt": true, "bye": true, "goodbye": true,
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func fingerprint(s string) string {
	h := sha256.Sum256([]byte(normalize(s)))
	return hex.EncodeToString(h[:])
}

func (g *gate) Validate(ctx context.Context, message string) Decision {
	start := time.Now()
	norm := normalize(message)

	if len(norm) <= 40 && skipPatterns[norm] {
		return Decision{Action: ActionAllow, LatencyMS: time.Since(start).Milliseconds()}
	}

	fp := fingerprint(message)
	if d, ok := g.cacheGet(ctx, fp); ok {
		d.Cached = true
		d.LatencyMS = time.Since(start).Milliseconds()
		return d
	}

	var d Decision
	if g.cfg.EnableLLM && g.oai != nil {
		llmCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		got, err := g.validateLLM(llmCtx, message)
		cancel()
		if err == nil {
			d = got
			d.UsedLLM = true
		} else {
			g.log.Warn("Moderation LLM unavailable; using word list", "error", err)
			d = g.validateWordList(norm)
		}
	} else {
		d = g.validateWordList(norm)
	}

	d.LatencyMS = time.Since(start).Milliseconds()
	g.cacheSet(ctx, fp, d)

	if d.Action == ActionFlag {
		g.log.Warn("Message flagged by moderation", "reason", d.Reason)
	}
	return d
}

var moderationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action": map[string]any{
			"type": "string",
			"enum": []string{ActionAllow, ActionBlock, ActionFlag},
		},
		"reason": map[string]any{"type": "string"},
		"pronouns": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_self":   map[string]any{"type": "string"},
				"user_called": map[string]any{"type": "string"},
				"ai_self":     map[string]any{"type": "string"},
			},
			"required":             []string{"user_self", "user_called", "ai_self"},
			"additionalProperties": false,
		},
	},
	"required":             []string{"action", "reason"},
	"additionalProperties": false,
}

func (g *gate) validateLLM(ctx context.Context, message string) (Decision, error) {
	system := fmt.Sprintf(`You are a content moderator for a %s tutoring assistant.
Classify the user message as ALLOW, BLOCK, or FLAG.
BLOCK only direct insults, harassment, or clearly abusive content.
Domain terms that sound harsh in isolation (piracy, collision, grounding,
distress, abandon ship) are legitimate vocabulary here and must be ALLOWED.
FLAG borderline content that should pass but be logged.
If the user politely requests a specific pronoun or address style, ALLOW and
fill the pronouns object (user_self = how the user refers to themselves,
user_called = how they want to be addressed, ai_self = how the assistant
should refer to itself). Messages may be Vietnamese or English.`, g.cfg.DomainContext)

	obj, err := g.oai.GenerateJSON(ctx, system, message, "moderation_decision", moderationSchema)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Action: ActionAllow}
	if a, ok := obj["action"].(string); ok {
		switch a {
		case ActionAllow, ActionBlock, ActionFlag:
			d.Action = a
		}
	}
	if r, ok := obj["reason"].(string); ok {
		d.Reason = strings.TrimSpace(r)
	}
	if p, ok := obj["pronouns"].(map[string]any); ok {
		pr := &Pronouns{}
		if v, ok := p["user_self"].(string); ok {
			pr.UserSelf = strings.TrimSpace(v)
		}
		if v, ok := p["user_called"].(string); ok {
			pr.UserCalled = strings.TrimSpace(v)
		}
		if v, ok := p["ai_self"].(string); ok {
			pr.AISelf = strings.TrimSpace(v)
		}
		if pr.UserSelf != "" || pr.UserCalled != "" || pr.AISelf != "" {
			d.Pronouns = pr
		}
	}
	return d, nil
}

// validateWordList is the conservative fallback: it only blocks on the
// configured list so maritime vocabulary always passes.
func (g *gate) validateWordList(norm string) Decision {
	padded := " " + norm + " "
	for _, w := range g.cfg.BlockedWords {
		w = normalize(w)
		if w == "" {
			continue
		}
		if strings.Contains(padded, " "+w+" ") {
			return Decision{Action: ActionBlock, Reason: "offensive language"}
		}
	}
	return Decision{Action: ActionAllow}
}

// ---------- decision cache ----------

func (g *gate) redisKey(fp string) string { return "moderation:decision:" + fp }

func (g *gate) cacheGet(ctx context.Context, fp string) (Decision, bool) {
	g.mu.Lock()
	if el, ok := g.entries[fp]; ok {
		entry := el.Value.(*cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			g.lru.MoveToFront(el)
			d := entry.decision
			g.mu.Unlock()
			return d, true
		}
		g.lru.Remove(el)
		delete(g.entries, fp)
	}
	g.mu.Unlock()

	if g.redis == nil {
		return Decision{}, false
	}
	var d Decision
	if err := g.redis.GetJSON(ctx, g.redisKey(fp), &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

func (g *gate) cacheSet(ctx context.Context, fp string, d Decision) {
	stored := d
	stored.Cached = false
	stored.LatencyMS = 0

	g.mu.Lock()
	if el, ok := g.entries[fp]; ok {
		el.Value.(*cacheEntry).decision = stored
		el.Value.(*cacheEntry).expiresAt = time.Now().Add(g.cfg.CacheTTL)
		g.lru.MoveToFront(el)
	} else {
		el := g.lru.PushFront(&cacheEntry{
			fingerprint: fp,
			decision:    stored,
			expiresAt:   time.Now().Add(g.cfg.CacheTTL),
		})
		g.entries[fp] = el
		for g.lru.Len() > g.cfg.CacheSize {
			oldest := g.lru.Back()
			g.lru.Remove(oldest)
			delete(g.entries, oldest.Value.(*cacheEntry).fingerprint)
		}
	}
	g.mu.Unlock()

	if g.redis != nil {
		if err := g.redis.SetJSON(ctx, g.redisKey(fp), stored, g.cfg.CacheTTL); err != nil {
			g.log.Warn("Failed to cache moderation decision in redis", "error", err)
		}
	}
}
