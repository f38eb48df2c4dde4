package gemini

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"strings"

	genai "google.golang.org/genai"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

const defaultModel = "gemini-2.5-flash-lite"

type clientWrapper struct {
	client *genai.Client
	model  string
}

func (c *clientWrapper) Name() string { return "gemini" }

func (c *clientWrapper) Metadata() llm.Metadata {
	window := 1048576
	if strings.HasPrefix(c.model, "gemini-1.0") {
		window = 32760
	}
	return llm.Metadata{
		Model:                  c.model,
		ContextWindow:          window,
		IsChatModel:            true,
		IsFunctionCallingModel: strings.HasPrefix(c.model, "gemini-"),
	}
}

// request splits system messages into the system instruction and maps the rest to contents.
func (c *clientWrapper) request(req llm.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	model := c.model
	if v, ok := req.Options["model"].(string); ok && v != "" {
		model = v
	}
	cfg := &genai.GenerateContentConfig{}
	if v, ok := req.Options["temperature"].(float64); ok {
		cfg.Temperature = genai.Ptr(float32(v))
	}
	var system []*genai.Part
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, &genai.Part{Text: m.Content})
		case llm.RoleAssistant:
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return model, nil, nil, errmodel.Schema("invalid_tool_arguments", "tool call arguments are not a JSON object", map[string]any{"tool": tc.Name}, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case llm.RoleTool:
			resp := map[string]any{}
			if err := json.Unmarshal([]byte(m.Content), &resp); err != nil {
				resp = map[string]any{"output": m.Content}
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: m.ToolCallID, Name: m.Name, Response: resp}}
			// all responses to one function-call turn go back in a single content
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			d := &genai.FunctionDeclaration{Name: spec.Name, Description: spec.Description}
			if len(spec.Parameters) > 0 {
				var schema any
				if err := json.Unmarshal(spec.Parameters, &schema); err != nil {
					return model, nil, nil, errmodel.Schema("invalid_tool_schema", "tool parameters are not valid JSON", map[string]any{"tool": spec.Name}, err)
				}
				d.ParametersJsonSchema = schema
			}
			decls = append(decls, d)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		if req.ToolChoice == llm.ToolChoiceNone {
			cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}}
		}
	}
	return model, contents, cfg, nil
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func toResponse(res *genai.GenerateContentResponse, model string) llm.ChatResponse {
	out := llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant}, Model: model}
	if res == nil {
		return out
	}
	out.Message.Content = res.Text()
	for _, fc := range res.FunctionCalls() {
		b, _ := json.Marshal(fc.Args)
		out.Message.ToolCalls = append(out.Message.ToolCalls, llm.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: string(b)})
	}
	if u := res.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens: int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out
}

func (c *clientWrapper) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	model, contents, cfg, err := c.request(req)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	res, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.ChatResponse{}, errmodel.Provider("chat_failed", "gemini generate content failed", map[string]any{"model": model}, err)
	}
	return toResponse(res, model), nil
}

func (c *clientWrapper) StreamChat(ctx context.Context, req llm.ChatRequest) iter.Seq2[llm.ChatResponse, error] {
	return func(yield func(llm.ChatResponse, error) bool) {
		model, contents, cfg, err := c.request(req)
		if err != nil {
			yield(llm.ChatResponse{}, err)
			return
		}
		var text strings.Builder
		var calls []llm.ToolCall
		var usage llm.Usage
		for res, err := range c.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				yield(llm.ChatResponse{}, errmodel.Provider("stream_failed", "gemini content stream failed", map[string]any{"model": model}, err))
				return
			}
			chunk := toResponse(res, model)
			calls = append(calls, chunk.Message.ToolCalls...)
			if chunk.Usage.TotalTokens > 0 {
				usage = chunk.Usage
			}
			if chunk.Message.Content == "" {
				continue
			}
			text.WriteString(chunk.Message.Content)
			partial := llm.ChatResponse{
				Message: llm.Message{Role: llm.RoleAssistant, Content: text.String()},
				Delta:   chunk.Message.Content,
				Model:   model,
			}
			if !yield(partial, nil) {
				return
			}
		}
		yield(llm.ChatResponse{
			Message: llm.Message{Role: llm.RoleAssistant, Content: text.String(), ToolCalls: calls},
			Usage:   usage,
			Model:   model,
		}, nil)
	}
}

func (c *clientWrapper) Complete(ctx context.Context, prompt string, opts map[string]any) (llm.CompletionResponse, error) {
	res, err := c.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}}, Options: opts})
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	return llm.CompletionResponse{Text: res.Message.Content, Usage: res.Usage, Model: res.Model}, nil
}

// Factory creates a Gemini LLM client using GOOGLE_API_KEY by default.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) { // nolint: revive
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, errmodel.Configuration("missing_api_key", "gemini: missing API key; set GOOGLE_API_KEY or cfg.api_key", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, errmodel.Provider("client_init", "gemini: creating client failed", nil, err)
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}
	return &clientWrapper{client: client, model: model}, nil
}

func init() {
	_ = llm.Register("gemini", Factory)
}
