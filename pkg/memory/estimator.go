package memory

import (
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
)

// TokenEstimator estimates token usage of text content.
type TokenEstimator func(text string) int

// RuneEstimator counts runes; it over-estimates for English text, which keeps windows safe.
func RuneEstimator(text string) int { return len([]rune(text)) }

// NewTikTokenEstimator returns a TokenEstimator backed by tiktoken-go for the given model.
// Common models: "gpt-4", "gpt-3.5-turbo", "gpt-4o". See tiktoken-go docs for support.
// If the model is unknown, EncodingForModel returns an error.
func NewTikTokenEstimator(model string) (TokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, err
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// messageTokens counts the content plus role, name and tool call payloads of a message.
func messageTokens(est TokenEstimator, m llm.Message) int {
	var b strings.Builder
	b.WriteString(string(m.Role))
	b.WriteByte(' ')
	b.WriteString(m.Content)
	for _, c := range m.ToolCalls {
		b.WriteByte(' ')
		b.WriteString(c.Name)
		b.WriteByte(' ')
		b.WriteString(c.Arguments)
	}
	return est(b.String())
}
