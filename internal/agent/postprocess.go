package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Processed separates the model's visible answer from its reasoning trace.
// ThinkingSource records which extraction rule fired: "text_tags" for inline
// <thinking> markup, "native" for structured reasoning blocks, "none"
// otherwise.
type Processed struct {
	Answer         string
	Thinking       string
	ThinkingSource string
}

var (
	thinkingTagRe  = regexp.MustCompile(`(?is)<thinking>(.*?)</thinking>`)
	thinkingOpenRe = regexp.MustCompile(`(?i)</?thinking>`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
)

// Postprocess extracts thinking from raw model output. Inline tags win; a
// structured content array is tried next; plain text passes through.
func Postprocess(raw string) Processed {
	if matches := thinkingTagRe.FindAllStringSubmatch(raw, -1); len(matches) > 0 {
		var thinking strings.Builder
		for _, m := range matches {
			inner := strings.TrimSpace(m[1])
			// Nested tags keep only the innermost text.
			if idx := strings.LastIndex(strings.ToLower(inner), "<thinking>"); idx >= 0 {
				inner = inner[idx+len("<thinking>"):]
			}
			inner = thinkingOpenRe.ReplaceAllString(inner, "")
			if inner != "" {
				if thinking.Len() > 0 {
					thinking.WriteString("\n\n")
				}
				thinking.WriteString(strings.TrimSpace(inner))
			}
		}

		answer := thinkingTagRe.ReplaceAllString(raw, "")
		answer = thinkingOpenRe.ReplaceAllString(answer, "")
		answer = blankRunRe.ReplaceAllString(answer, "\n\n")

		return Processed{
			Answer:         strings.TrimSpace(answer),
			Thinking:       thinking.String(),
			ThinkingSource: "text_tags",
		}
	}

	if p, ok := fromStructured(raw); ok {
		return p
	}

	return Processed{
		Answer:         strings.TrimSpace(raw),
		ThinkingSource: "none",
	}
}

// fromStructured handles models that return a JSON content array of typed
// blocks instead of plain text.
func fromStructured(raw string) (Processed, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") {
		return Processed{}, false
	}

	var blocks []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	}
	if err := json.Unmarshal([]byte(trimmed), &blocks); err != nil {
		return Processed{}, false
	}

	var answer, thinking strings.Builder
	recognized := false
	for _, b := range blocks {
		switch b.Type {
		case "text":
			recognized = true
			if answer.Len() > 0 {
				answer.WriteString("\n\n")
			}
			answer.WriteString(strings.TrimSpace(b.Text))
		case "thinking":
			recognized = true
			if thinking.Len() > 0 {
				thinking.WriteString("\n\n")
			}
			thinking.WriteString(strings.TrimSpace(b.Thinking))
		}
	}
	if !recognized {
		return Processed{}, false
	}

	return Processed{
		Answer:         strings.TrimSpace(answer.String()),
		Thinking:       strings.TrimSpace(thinking.String()),
		ThinkingSource: "native",
	}, true
}
