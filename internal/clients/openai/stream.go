package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Role      string `json:"role,omitempty"`
			Content   string `json:"content,omitempty"`
			Refusal   string `json:"refusal,omitempty"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Type     string `json:"type,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Error any `json:"error,omitempty"`
}

// StreamChat streams one model step. Content deltas are forwarded to onDelta
// as they arrive; tool call fragments are accumulated by index and returned
// whole on the final result.
func (c *client) StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string)) (*ChatResult, error) {
	temp := req.Temperature
	if temp == 0 {
		temp = 0.2
	}

	body := chatCompletionsRequest{
		Model:       c.model,
		Messages:    toWire(req.Messages),
		Tools:       req.Tools,
		Temperature: temp,
		Stream:      true,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var (
		full   strings.Builder
		calls  []ToolCall
		finish string
	)

	err = streamSSE(resp.Body, func(_ string, data string) error {
		if strings.TrimSpace(data) == "" || strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			b, _ := json.Marshal(chunk.Error)
			return fmt.Errorf("openai stream error: %s", string(b))
		}
		if len(chunk.Choices) == 0 {
			return nil
		}

		choice := chunk.Choices[0]
		if r := strings.TrimSpace(choice.Delta.Refusal); r != "" {
			return fmt.Errorf("model refused: %s", r)
		}
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}

		if d := choice.Delta.Content; d != "" {
			full.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			for len(calls) <= tc.Index {
				calls = append(calls, ToolCall{Type: "function"})
			}
			got := &calls[tc.Index]
			if tc.ID != "" {
				got.ID = tc.ID
			}
			if tc.Type != "" {
				got.Type = tc.Type
			}
			if tc.Function.Name != "" {
				got.Function.Name += tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				got.Function.Arguments += tc.Function.Arguments
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		Content:      full.String(),
		ToolCalls:    calls,
		FinishReason: finish,
	}, nil
}

func streamSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		ev := eventName
		eventName = ""

		if onEvent == nil {
			return nil
		}
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = flush()
				break
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		// Blank line ends event.
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}

		// Comment.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	return nil
}
