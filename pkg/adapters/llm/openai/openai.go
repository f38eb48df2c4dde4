package openai

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"os"
	"strings"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// DefaultModel is used when cfg.model is not set.
const DefaultModel = "gpt-3.5-turbo-0613"

type clientWrapper struct {
	client oa.Client
	model  string
}

func (c *clientWrapper) Name() string { return "openai" }

func (c *clientWrapper) Metadata() llm.Metadata {
	return llm.Metadata{
		Model:                  c.model,
		ContextWindow:          contextWindow(c.model),
		IsChatModel:            true,
		IsFunctionCallingModel: IsFunctionCallingModel(c.model),
	}
}

// IsFunctionCallingModel reports whether the chat model accepts the tools API.
func IsFunctionCallingModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range []string{"gpt-3.5-turbo-instruct", "gpt-3.5-turbo-0301", "gpt-4-0314", "gpt-4-32k-0314", "text-", "davinci", "babbage", "o1-mini", "o1-preview"} {
		if strings.HasPrefix(m, p) {
			return false
		}
	}
	for _, p := range []string{"gpt-3.5-turbo", "gpt-4", "gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

func contextWindow(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-5"):
		return 400000
	case strings.HasPrefix(m, "gpt-4.1"):
		return 1047576
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4-turbo"), strings.HasPrefix(m, "o"):
		return 128000
	case strings.HasPrefix(m, "gpt-4-32k"):
		return 32768
	case strings.HasPrefix(m, "gpt-4"):
		return 8192
	case strings.HasPrefix(m, "gpt-3.5-turbo-16k"), strings.HasPrefix(m, "gpt-3.5-turbo-1106"), strings.HasPrefix(m, "gpt-3.5-turbo-0125"):
		return 16385
	case strings.HasPrefix(m, "gpt-3.5-turbo"):
		return 4096
	default:
		return 0
	}
}

func (c *clientWrapper) params(req llm.ChatRequest) (oa.ChatCompletionNewParams, string, error) {
	model := c.model
	if v, ok := req.Options["model"].(string); ok && v != "" {
		model = v
	}
	p := oa.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toMessages(req.Messages),
	}
	if v, ok := req.Options["temperature"].(float64); ok {
		p.Temperature = oa.Float(v)
	}
	for _, spec := range req.Tools {
		var params shared.FunctionParameters
		if len(spec.Parameters) > 0 {
			if err := json.Unmarshal(spec.Parameters, &params); err != nil {
				return p, model, errmodel.Schema("invalid_tool_schema", "tool parameters are not a JSON object", map[string]any{"tool": spec.Name}, err)
			}
		}
		def := shared.FunctionDefinitionParam{Name: spec.Name, Parameters: params}
		if spec.Description != "" {
			def.Description = oa.String(spec.Description)
		}
		p.Tools = append(p.Tools, oa.ChatCompletionFunctionTool(def))
	}
	if len(p.Tools) > 0 {
		choice := req.ToolChoice
		if choice == "" {
			choice = llm.ToolChoiceAuto
		}
		p.ToolChoice = oa.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oa.String(choice)}
	}
	return p, model, nil
}

func toMessages(messages []llm.Message) []oa.ChatCompletionMessageParamUnion {
	mm := make([]oa.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			mm = append(mm, oa.SystemMessage(m.Content))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				mm = append(mm, oa.AssistantMessage(m.Content))
				continue
			}
			asst := oa.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = oa.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, oa.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &oa.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: oa.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			mm = append(mm, oa.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case llm.RoleTool:
			mm = append(mm, oa.ToolMessage(m.Content, m.ToolCallID))
		default:
			mm = append(mm, oa.UserMessage(m.Content))
		}
	}
	return mm
}

func (c *clientWrapper) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	params, model, err := c.params(req)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, errmodel.Provider("chat_failed", "openai chat completion failed", map[string]any{"model": model}, err)
	}
	out := llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant}, Model: model}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		out.Message.Content = msg.Content
		for _, tc := range msg.ToolCalls {
			out.Message.ToolCalls = append(out.Message.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
	}
	out.Usage = llm.Usage{
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out, nil
}

func (c *clientWrapper) StreamChat(ctx context.Context, req llm.ChatRequest) iter.Seq2[llm.ChatResponse, error] {
	return func(yield func(llm.ChatResponse, error) bool) {
		params, model, err := c.params(req)
		if err != nil {
			yield(llm.ChatResponse{}, err)
			return
		}
		params.StreamOptions = oa.ChatCompletionStreamOptionsParam{IncludeUsage: oa.Bool(true)}
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		acc := oa.ChatCompletionAccumulator{}
		var text strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			text.WriteString(delta)
			partial := llm.ChatResponse{
				Message: llm.Message{Role: llm.RoleAssistant, Content: text.String()},
				Delta:   delta,
				Model:   model,
			}
			if !yield(partial, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(llm.ChatResponse{}, errmodel.Provider("stream_failed", "openai chat stream failed", map[string]any{"model": model}, err))
			return
		}
		final := llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: text.String()}, Model: model}
		if len(acc.Choices) > 0 {
			for _, tc := range acc.Choices[0].Message.ToolCalls {
				final.Message.ToolCalls = append(final.Message.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
			}
		}
		final.Usage = llm.Usage{
			PromptTokens: int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:  int(acc.Usage.TotalTokens),
		}
		yield(final, nil)
	}
}

// Complete runs the prompt as a single user turn; every supported model is a chat model.
func (c *clientWrapper) Complete(ctx context.Context, prompt string, opts map[string]any) (llm.CompletionResponse, error) {
	res, err := c.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}}, Options: opts})
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	return llm.CompletionResponse{Text: res.Message.Content, Usage: res.Usage, Model: res.Model}, nil
}

// Factory builds the OpenAI LLM provider: cfg keys: api_key, model, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) { // nolint: revive
	_ = ctx
	apiKey := os.Getenv("OPENAI_API_KEY")
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, errmodel.Configuration("missing_api_key", "openai: missing API key; set OPENAI_API_KEY or cfg.api_key", nil)
	}
	model := DefaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if v, ok := cfg["base_url"].(string); ok && v != "" {
		opts = append(opts, option.WithBaseURL(v))
	}
	c := oa.NewClient(opts...)
	return &clientWrapper{client: c, model: model}, nil
}

func init() {
	_ = llm.Register("openai", Factory)
}
