// Package memory provides the chat history buffer used by agents.
package memory

import (
	"context"
	"sync"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/agent"
)

const (
	// DefaultTokenLimit applies when the model does not report a context window.
	DefaultTokenLimit = 3000
	// contextWindowShare of the model's context window is given to history.
	contextWindowShare = 0.75
)

// Buffer is an in-memory chat history. Get returns the newest messages that fit in the token
// limit; GetAll always returns everything.
type Buffer struct {
	mu         sync.Mutex
	messages   []llm.Message
	tokenLimit int
	estimate   TokenEstimator
}

var _ agent.Memory = (*Buffer)(nil)

// Option configures the Buffer.
type Option func(*Buffer)

// WithTokenLimit sets the window size. Values <= 0 keep the default.
func WithTokenLimit(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.tokenLimit = n
		}
	}
}

// WithTokenEstimator sets the token estimator. Defaults to rune length.
func WithTokenEstimator(est TokenEstimator) Option {
	return func(b *Buffer) {
		if est != nil {
			b.estimate = est
		}
	}
}

// WithHistory seeds the buffer.
func WithHistory(msgs []llm.Message) Option {
	return func(b *Buffer) { b.messages = llm.CloneMessages(msgs) }
}

// NewBuffer creates a new Buffer.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{tokenLimit: DefaultTokenLimit, estimate: RuneEstimator}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ForModel sizes a buffer for the model: three quarters of its context window, counted with
// tiktoken when the model has a known encoding.
func ForModel(meta llm.Metadata, history []llm.Message) *Buffer {
	limit := DefaultTokenLimit
	if meta.ContextWindow > 0 {
		limit = int(float64(meta.ContextWindow) * contextWindowShare)
	}
	opts := []Option{WithTokenLimit(limit), WithHistory(history)}
	if est, err := NewTikTokenEstimator(meta.Model); err == nil {
		opts = append(opts, WithTokenEstimator(est))
	}
	return NewBuffer(opts...)
}

// TokenLimit reports the window size.
func (b *Buffer) TokenLimit() int { return b.tokenLimit }

// Get returns the longest suffix of the history within the token limit. The window never
// starts with an assistant or tool message, so tool results are not separated from the
// call that produced them. It may be empty when the newest message alone exceeds the limit.
func (b *Buffer) Get(ctx context.Context) ([]llm.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	start := len(b.messages)
	used := 0
	for start > 0 {
		cost := messageTokens(b.estimate, b.messages[start-1])
		if used+cost > b.tokenLimit {
			break
		}
		used += cost
		start--
	}
	for start < len(b.messages) {
		r := b.messages[start].Role
		if r != llm.RoleAssistant && r != llm.RoleTool {
			break
		}
		start++
	}
	return llm.CloneMessages(b.messages[start:]), nil
}

func (b *Buffer) GetAll(ctx context.Context) ([]llm.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := llm.CloneMessages(b.messages)
	if out == nil {
		out = []llm.Message{}
	}
	return out, nil
}

func (b *Buffer) Put(ctx context.Context, msg llm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg.Clone())
	return nil
}

func (b *Buffer) Set(ctx context.Context, msgs []llm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = llm.CloneMessages(msgs)
	return nil
}

func (b *Buffer) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	return nil
}
