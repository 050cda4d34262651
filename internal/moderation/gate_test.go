package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

func testGate(t *testing.T, cfg Config) Gate {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewGate(log, nil, nil, cfg)
}

func TestValidate_SkipPatternsAllowImmediately(t *testing.T) {
	g := testGate(t, Config{})

	for _, msg := range []string{"hi", "Xin chào", "cảm ơn", "OK"} {
		d := g.Validate(context.Background(), msg)
		if d.Action != ActionAllow {
			t.Errorf("Validate(%q) = %s, want ALLOW", msg, d.Action)
		}
		if d.UsedLLM {
			t.Errorf("Validate(%q) used the model for a trivial message", msg)
		}
	}
}

func TestValidate_WordListBlocksInsults(t *testing.T) {
	g := testGate(t, Config{})

	d := g.Validate(context.Background(), "bạn là đồ ngu")
	if d.Action != ActionBlock {
		t.Fatalf("action = %s, want BLOCK", d.Action)
	}
	if d.Allowed() {
		t.Fatalf("Allowed() = true for a blocked decision")
	}
}

func TestValidate_MaritimeVocabularyAllowed(t *testing.T) {
	g := testGate(t, Config{})

	cases := []string{
		"Tàu bị cướp biển tấn công thì phát tín hiệu cấp cứu thế nào?",
		"What should the crew do before abandon ship during a collision?",
	}
	for _, msg := range cases {
		d := g.Validate(context.Background(), msg)
		if d.Action != ActionAllow {
			t.Errorf("Validate(%q) = %s, want ALLOW for domain vocabulary", msg, d.Action)
		}
	}
}

func TestValidate_WholeWordMatchingOnly(t *testing.T) {
	g := testGate(t, Config{BlockedWords: []string{"moron"}})

	d := g.Validate(context.Background(), "the oxymoron in rule 2 is interesting")
	if d.Action != ActionAllow {
		t.Fatalf("substring inside a word must not block, got %s", d.Action)
	}
}

func TestValidate_CachedDecisionWithinTTL(t *testing.T) {
	g := testGate(t, Config{CacheTTL: time.Minute})

	msg := "bạn là đồ ngu"
	first := g.Validate(context.Background(), msg)
	if first.Cached {
		t.Fatalf("first decision must not be cached")
	}

	second := g.Validate(context.Background(), msg)
	if !second.Cached {
		t.Fatalf("second decision within TTL must be cached")
	}
	if second.Action != first.Action || second.Reason != first.Reason {
		t.Fatalf("cached decision differs: %+v vs %+v", second, first)
	}
}

func TestValidate_CacheKeyNormalizesWhitespaceAndCase(t *testing.T) {
	g := testGate(t, Config{CacheTTL: time.Minute})

	g.Validate(context.Background(), "Quy tắc 15 là gì")
	d := g.Validate(context.Background(), "  quy TẮC 15   là gì ")
	if !d.Cached {
		t.Fatalf("normalized duplicate must hit the cache")
	}
}
