package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

// Config bounds the reasoning loop.
type Config struct {
	MaxToolCalls int
	ToolTimeout  time.Duration
	Temperature  float64
}

func (c Config) withDefaults() Config {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 6
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	return c
}

// RunResult is the model's final answer plus the loop trace.
type RunResult struct {
	Content      string
	ToolCalls    int
	FinishReason string
}

// Agent runs the bounded tool loop: model step, execute requested tools,
// feed results back, repeat until the model answers or the call cap hits.
type Agent interface {
	Run(ctx context.Context, tc TurnContext, messages []openai.Message, onDelta func(string)) (*RunResult, error)
}

type agent struct {
	log      *logger.Logger
	oai      openai.Client
	registry *Registry
	cfg      Config
}

func New(log *logger.Logger, oai openai.Client, registry *Registry, cfg Config) Agent {
	return &agent{
		log:      log.With("service", "Agent"),
		oai:      oai,
		registry: registry,
		cfg:      cfg.withDefaults(),
	}
}

func (a *agent) Run(ctx context.Context, tc TurnContext, messages []openai.Message, onDelta func(string)) (*RunResult, error) {
	tools := a.registry.ForTurn(tc)
	decls := make([]openai.Tool, 0, len(tools))
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		decls = append(decls, t.decl())
		byName[t.Name] = t
	}

	convo := append([]openai.Message(nil), messages...)
	callsMade := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := openai.ChatRequest{
			Messages:    convo,
			Temperature: a.cfg.Temperature,
		}
		if callsMade < a.cfg.MaxToolCalls {
			req.Tools = decls
		}
		// Past the cap the model gets no tools, so this step must answer.

		res, err := a.step(ctx, req, onDelta)
		if err != nil {
			return nil, fmt.Errorf("model step: %w", err)
		}

		if len(res.ToolCalls) == 0 {
			return &RunResult{
				Content:      res.Content,
				ToolCalls:    callsMade,
				FinishReason: res.FinishReason,
			}, nil
		}

		convo = append(convo, openai.Message{
			Role:      "assistant",
			Content:   res.Content,
			ToolCalls: res.ToolCalls,
		})

		for _, call := range res.ToolCalls {
			output := a.executeTool(ctx, tc, byName, call)
			callsMade++
			convo = append(convo, openai.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    output,
			})
		}
	}
}

// step streams only when a delta sink is provided; tool-call rounds still go
// through StreamChat so the caller sees content the moment the final round
// starts.
func (a *agent) step(ctx context.Context, req openai.ChatRequest, onDelta func(string)) (*openai.ChatResult, error) {
	if onDelta != nil {
		return a.oai.StreamChat(ctx, req, onDelta)
	}
	return a.oai.Chat(ctx, req)
}

// executeTool never returns an error; failures go back to the model as text
// so it can recover or answer without the tool.
func (a *agent) executeTool(ctx context.Context, tc TurnContext, byName map[string]Tool, call openai.ToolCall) string {
	name := call.Function.Name
	tool, ok := byName[name]
	if !ok {
		a.log.Warn("Model requested unknown tool", "tool", name)
		return fmt.Sprintf("Error: tool %q is not available.", name)
	}

	var args map[string]any
	if raw := call.Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			a.log.Warn("Tool arguments unparseable", "tool", name, "error", err)
			return fmt.Sprintf("Error: arguments for %s were not valid JSON.", name)
		}
	}

	toolCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
	defer cancel()

	started := time.Now()
	out, err := tool.Handler(toolCtx, tc, args)
	elapsed := time.Since(started)

	tc.Collector.RecordToolUse(name)

	if err != nil {
		a.log.Warn("Tool call failed", "tool", name, "elapsed", elapsed.String(), "error", err)
		return fmt.Sprintf("Error: %s failed: %v", name, err)
	}

	a.log.Info("Tool call completed", "tool", name, "elapsed", elapsed.String())
	return out
}
