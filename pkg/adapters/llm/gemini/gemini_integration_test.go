//go:build integration

package gemini

import (
	"context"
	"os"
	"testing"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
)

func TestGeminiChat(t *testing.T) {
	if os.Getenv("GOOGLE_API_KEY") == "" {
		t.Skip("GOOGLE_API_KEY not set")
	}
	ctx := context.Background()
	m, err := Factory(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	res, err := m.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Say 'hello from gemini'"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Message.Content == "" {
		t.Fatalf("empty response text")
	}
}
