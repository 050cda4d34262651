package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

// continuationHint fires when the previous assistant answer was cut off and
// the new message moves to something else without acknowledging it. The
// returned instruction tells the agent to answer the new question and close
// with an offer to finish the earlier topic. Empty when the turn stands
// alone or the user is still on the same thread.
func continuationHint(history []*types.ChatMessage, userMessage string) string {
	last := lastAssistant(history)
	if last == nil {
		return ""
	}
	if !looksIncomplete(last.Content) {
		return ""
	}
	if !topicShifted(last.Content, userMessage) {
		return ""
	}
	return fmt.Sprintf(`Lượt trước bạn đang giải thích "%s" nhưng có vẻ chưa xong,
và người dùng đã chuyển sang chủ đề khác. Hãy trả lời câu hỏi mới trước, rồi
kết thúc bằng một lời đề nghị ngắn quay lại hoàn thành chủ đề còn dở đó.`,
		topicLabel(last.Content))
}

func lastAssistant(history []*types.ChatMessage) *types.ChatMessage {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleAssistant {
			return history[i]
		}
	}
	return nil
}

// looksIncomplete flags answers cut off mid-thought: a trailing ellipsis,
// trailing colon, a list item with no terminator, or a final line with no
// sentence-ending mark.
func looksIncomplete(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	// Ellipses read as "to be continued" and must win over the '.' case below.
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return true
	}
	if strings.HasSuffix(trimmed, ":") || strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, "-") {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine == "" {
		return false
	}
	switch lastLine[len(lastLine)-1] {
	case '.', '!', '?', ')', '"', '\'', '`':
		return false
	}
	// Markdown list items often end bare; only unterminated prose counts.
	if strings.HasPrefix(lastLine, "-") || strings.HasPrefix(lastLine, "*") {
		return false
	}
	return len(lastLine) > 40
}

// topicShifted is a cheap lexical check: if the new message shares no
// meaningful token with the previous answer, treat it as a fresh topic.
func topicShifted(previous, current string) bool {
	prev := tokenSet(previous)
	cur := tokenSet(current)
	if len(cur) == 0 {
		return false
	}
	for tok := range cur {
		if prev[tok] {
			return false
		}
	}
	return true
}

// topicLabel names the unfinished thread for the prompt: the first line of
// the answer, trimmed to a short phrase.
func topicLabel(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.TrimLeft(line, "#*- ")
	runes := []rune(line)
	if len(runes) > 60 {
		line = strings.TrimSpace(string(runes[:60])) + "…"
	}
	return line
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:()\"'")
		// Short particles carry no topic signal.
		if len([]rune(tok)) < 4 {
			continue
		}
		out[tok] = true
	}
	return out
}
