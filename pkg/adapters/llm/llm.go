package llm

import (
	"context"
	"fmt"
	"iter"
	"sync"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function invocation requested by the model.
// Arguments holds the raw JSON object produced by the model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message represents a chat message with a role and content.
// Assistant messages may carry ToolCalls; tool messages carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// CloneMessages copies a message slice. A nil input stays nil.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens int `json:"prompt_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// ToolSpec is the function definition offered to the model.
// Parameters is a JSON Schema object in UTF-8 bytes.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  []byte `json:"parameters,omitempty"`
}

// Tool choice values understood by every adapter.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// ChatRequest is one chat call.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolSpec
	// ToolChoice is ToolChoiceAuto (default when Tools is non-empty) or ToolChoiceNone.
	ToolChoice string
	// Options are provider-specific extras (e.g. "model", "temperature").
	Options map[string]any
}

// ChatResponse is a full or partial assistant reply.
// While streaming, Message holds the text accumulated so far and Delta the newest chunk;
// ToolCalls are only populated on the final response.
type ChatResponse struct {
	Message Message `json:"message"`
	Delta   string  `json:"delta,omitempty"`
	Usage   Usage   `json:"usage,omitempty"`
	Model   string  `json:"model,omitempty"`
}

// CompletionResponse is the result of a plain text completion.
type CompletionResponse struct {
	Text  string `json:"text"`
	Delta string `json:"delta,omitempty"`
	Usage Usage  `json:"usage,omitempty"`
	Model string `json:"model,omitempty"`
}

// Metadata describes the model behind an LLM.
type Metadata struct {
	Model                  string `json:"model"`
	ContextWindow          int    `json:"context_window,omitempty"`
	IsChatModel            bool   `json:"is_chat_model"`
	IsFunctionCallingModel bool   `json:"is_function_calling_model"`
}

// Descriptor renders metadata as the model descriptor attached to instrumentation events.
func (m Metadata) Descriptor() map[string]any {
	return map[string]any{
		"model":                     m.Model,
		"context_window":            m.ContextWindow,
		"is_chat_model":             m.IsChatModel,
		"is_function_calling_model": m.IsFunctionCallingModel,
	}
}

// LLM defines the chat/completion interface the agent consumes.
// Implementations must return an errmodel provider error when the underlying call fails.
type LLM interface {
	// Name returns provider name (e.g., "openai").
	Name() string
	Metadata() Metadata
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// StreamChat yields partial responses; the last yielded response carries the
	// reassembled message including any tool calls.
	StreamChat(ctx context.Context, req ChatRequest) iter.Seq2[ChatResponse, error]
	Complete(ctx context.Context, prompt string, opts map[string]any) (CompletionResponse, error)
}

// Factory constructs an LLM from provider-specific config.
type Factory func(ctx context.Context, cfg map[string]any) (LLM, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers an LLM factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("llm: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("llm: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("llm: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range iterates all registered factories.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}
