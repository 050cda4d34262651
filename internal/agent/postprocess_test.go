package agent

import (
	"strings"
	"testing"
)

func TestPostprocess_TextTags(t *testing.T) {
	raw := "<thinking>Rule 15 applies here.</thinking>\n\n\nThe give-way vessel must keep clear."

	got := Postprocess(raw)
	if got.ThinkingSource != "text_tags" {
		t.Fatalf("source = %q, want text_tags", got.ThinkingSource)
	}
	if got.Thinking != "Rule 15 applies here." {
		t.Fatalf("thinking = %q", got.Thinking)
	}
	if got.Answer != "The give-way vessel must keep clear." {
		t.Fatalf("answer = %q", got.Answer)
	}
}

func TestPostprocess_CaseInsensitiveAndMultiline(t *testing.T) {
	raw := "<THINKING>line one\nline two</THINKING>answer text"

	got := Postprocess(raw)
	if got.ThinkingSource != "text_tags" {
		t.Fatalf("source = %q, want text_tags", got.ThinkingSource)
	}
	if got.Thinking != "line one\nline two" {
		t.Fatalf("thinking = %q", got.Thinking)
	}
	if got.Answer != "answer text" {
		t.Fatalf("answer = %q", got.Answer)
	}
}

func TestPostprocess_NestedTagsKeepInnermost(t *testing.T) {
	raw := "<thinking>outer <thinking>inner</thinking> tail</thinking>final"

	got := Postprocess(raw)
	if got.ThinkingSource != "text_tags" {
		t.Fatalf("source = %q, want text_tags", got.ThinkingSource)
	}
	if got.Thinking != "inner" {
		t.Fatalf("thinking = %q, want inner", got.Thinking)
	}
	if strings.Contains(got.Answer, "thinking") {
		t.Fatalf("answer still contains tag text: %q", got.Answer)
	}
}

func TestPostprocess_StructuredBlocks(t *testing.T) {
	raw := `[{"type":"thinking","thinking":"check rule 13"},{"type":"text","text":"You are overtaking."}]`

	got := Postprocess(raw)
	if got.ThinkingSource != "native" {
		t.Fatalf("source = %q, want native", got.ThinkingSource)
	}
	if got.Thinking != "check rule 13" {
		t.Fatalf("thinking = %q", got.Thinking)
	}
	if got.Answer != "You are overtaking." {
		t.Fatalf("answer = %q", got.Answer)
	}
}

func TestPostprocess_PlainTextPassthrough(t *testing.T) {
	raw := "Just an answer with no reasoning markup."

	got := Postprocess(raw)
	if got.ThinkingSource != "none" {
		t.Fatalf("source = %q, want none", got.ThinkingSource)
	}
	if got.Thinking != "" {
		t.Fatalf("thinking = %q, want empty", got.Thinking)
	}
	if got.Answer != raw {
		t.Fatalf("answer = %q", got.Answer)
	}
}

// Injecting thinking ahead of an arbitrary answer must round-trip both parts.
func TestPostprocess_RoundTrip(t *testing.T) {
	answers := []string{
		"Tàu bên mạn phải được nhường đường.",
		"Multi\n\nparagraph answer.",
		"[not json, just brackets",
	}
	for _, answer := range answers {
		raw := "<thinking>reasoning</thinking>" + answer
		got := Postprocess(raw)
		if got.Thinking != "reasoning" {
			t.Errorf("thinking = %q for answer %q", got.Thinking, answer)
		}
		if got.Answer != strings.TrimSpace(answer) {
			t.Errorf("answer = %q, want %q", got.Answer, strings.TrimSpace(answer))
		}
	}
}
