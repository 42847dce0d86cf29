// Package agent bridges the orchestrators to an OpenAI-compatible chat
// completion endpoint, running a bounded tool-call loop per unit of work.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgeworks/anvil/internal/core/ports"
)

// maxToolRounds bounds the tool-call loop so a looping model cannot hold
// a worker forever. Each round may carry several tool calls.
const maxToolRounds = 25

type Config struct {
	// BaseURL points at any OpenAI-compatible endpoint; empty means the
	// OpenAI default.
	BaseURL string
	APIKey  string
	Model   string
}

// Executor implements ports.AgentExecutor over the chat completions API.
type Executor struct {
	logger *slog.Logger
	client *openai.Client
	model  string
}

var _ ports.AgentExecutor = (*Executor)(nil)

func NewExecutor(logger *slog.Logger, cfg Config) *Executor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Executor{
		logger: logger,
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Execute runs one unit of work to completion. Tool calls requested by
// the model are dispatched against the request's registry; the final
// assistant message becomes the unit's output.
func (e *Executor) Execute(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: fmt.Sprintf("You are the %s agent of an application builder. Use the provided tools to read and write workspace files.", req.Agent),
		},
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context:\n" + req.Context,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Instruction,
	})

	var tools []openai.Tool
	if req.Tools != nil {
		for _, t := range req.Tools.List() {
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}

	result := ports.ExecResult{Model: e.model}
	for round := 0; round < maxToolRounds; round++ {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    e.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return result, fmt.Errorf("chat completion failed: %w", err)
		}
		result.InputTokens += resp.Usage.PromptTokens
		result.OutputTokens += resp.Usage.CompletionTokens
		if resp.Model != "" {
			result.Model = resp.Model
		}
		if len(resp.Choices) == 0 {
			return result, fmt.Errorf("chat completion returned no choices")
		}

		choice := resp.Choices[0].Message
		if len(choice.ToolCalls) == 0 {
			result.Output = choice.Content
			if req.OnProgress != nil {
				req.OnProgress(round+1, round+1)
			}
			return result, nil
		}

		messages = append(messages, choice)
		for _, call := range choice.ToolCalls {
			messages = append(messages, e.dispatch(ctx, req, call))
		}
		if req.OnProgress != nil {
			req.OnProgress(round+1, maxToolRounds)
		}
	}
	return result, fmt.Errorf("agent %s exceeded %d tool rounds", req.Agent, maxToolRounds)
}

// dispatch runs one tool call and wraps the outcome as a tool message.
// Tool failures go back to the model rather than aborting the unit; the
// model may recover or give up on its own.
func (e *Executor) dispatch(ctx context.Context, req ports.ExecRequest, call openai.ToolCall) openai.ChatCompletionMessage {
	reply := func(content string) openai.ChatCompletionMessage {
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: call.ID,
			Content:    content,
		}
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
		return reply(fmt.Sprintf("error: invalid arguments: %v", err))
	}

	out, err := req.Tools.Execute(ctx, call.Function.Name, params)
	if err != nil {
		e.logger.Warn("tool call failed",
			"job_id", req.JobID, "agent", req.Agent,
			"tool", call.Function.Name, "error", err)
		return reply(fmt.Sprintf("error: %v", err))
	}

	content, err := json.Marshal(out)
	if err != nil {
		return reply(fmt.Sprintf("error: unencodable result: %v", err))
	}
	return reply(string(content))
}
