// Package fake provides a scripted, deterministic LLM for tests and offline demos.
package fake

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
)

// Reply is one scripted chat turn: either a response or an error.
type Reply struct {
	Response llm.ChatResponse
	Err      error
}

// Text is a scripted assistant answer without tool calls.
func Text(s string) Reply {
	return Reply{Response: llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: s}}}
}

// Call is a scripted assistant turn requesting the given tool calls.
func Call(calls ...llm.ToolCall) Reply {
	return Reply{Response: llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}}}
}

// Fail is a scripted provider failure.
func Fail(err error) Reply { return Reply{Err: err} }

// ErrScriptExhausted is returned once every scripted reply has been consumed.
var ErrScriptExhausted = errors.New("fake llm: script exhausted")

// LLM replays scripted replies in order and records every request it receives.
type LLM struct {
	mu       sync.Mutex
	meta     llm.Metadata
	replies  []Reply
	requests []llm.ChatRequest
	prompts  []string
	// Completion is returned by Complete; defaults to echoing the prompt.
	Completion func(prompt string) string
}

// New returns a function-calling fake model scripted with replies.
func New(replies ...Reply) *LLM {
	return &LLM{
		meta: llm.Metadata{
			Model:                  "fake-fn-model",
			ContextWindow:          4096,
			IsChatModel:            true,
			IsFunctionCallingModel: true,
		},
		replies: replies,
	}
}

// WithMetadata overrides the reported metadata.
func (f *LLM) WithMetadata(m llm.Metadata) *LLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta = m
	return f
}

// Script appends more replies.
func (f *LLM) Script(replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// Requests returns copies of the chat requests received so far.
func (f *LLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.ChatRequest, len(f.requests))
	for i, r := range f.requests {
		out[i] = r
		out[i].Messages = llm.CloneMessages(r.Messages)
		out[i].Tools = append([]llm.ToolSpec(nil), r.Tools...)
	}
	return out
}

func (f *LLM) Name() string { return "fake" }

func (f *LLM) Metadata() llm.Metadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta
}

func (f *LLM) next(req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := req
	rec.Messages = llm.CloneMessages(req.Messages)
	rec.Tools = append([]llm.ToolSpec(nil), req.Tools...)
	f.requests = append(f.requests, rec)
	if len(f.replies) == 0 {
		return llm.ChatResponse{}, ErrScriptExhausted
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.Err != nil {
		return llm.ChatResponse{}, r.Err
	}
	resp := r.Response
	resp.Message = resp.Message.Clone()
	if resp.Message.Role == "" {
		resp.Message.Role = llm.RoleAssistant
	}
	resp.Model = f.meta.Model
	return resp, nil
}

func (f *LLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}
	return f.next(req)
}

// StreamChat splits the scripted text on word boundaries and yields one chunk per word.
func (f *LLM) StreamChat(ctx context.Context, req llm.ChatRequest) iter.Seq2[llm.ChatResponse, error] {
	return func(yield func(llm.ChatResponse, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(llm.ChatResponse{}, err)
			return
		}
		full, err := f.next(req)
		if err != nil {
			yield(llm.ChatResponse{}, err)
			return
		}
		var acc strings.Builder
		for _, chunk := range splitKeep(full.Message.Content) {
			acc.WriteString(chunk)
			partial := llm.ChatResponse{
				Message: llm.Message{Role: llm.RoleAssistant, Content: acc.String()},
				Delta:   chunk,
				Model:   full.Model,
			}
			if !yield(partial, nil) {
				return
			}
		}
		yield(full, nil)
	}
}

func (f *LLM) Complete(ctx context.Context, prompt string, opts map[string]any) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	complete := f.Completion
	model := f.meta.Model
	f.mu.Unlock()
	text := prompt
	if complete != nil {
		text = complete(prompt)
	}
	return llm.CompletionResponse{Text: text, Model: model}, nil
}

// Prompts returns the completion prompts received so far.
func (f *LLM) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// splitKeep splits s after each space, keeping the separators so chunks concatenate back to s.
func splitKeep(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
