package gemini

import (
	"context"
	"os"

	genai "google.golang.org/genai"

	"github.com/wilhg/toolagent/pkg/adapters/embedding"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

const defaultEmbeddingModel = "gemini-embedding-001"

type embedClient struct {
	client *genai.Client
	model  string
}

func (e *embedClient) Name() string { return "gemini" }

// Embed accepts opts "model" and "task_type" (e.g. RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT).
func (e *embedClient) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	model := e.model
	if v, ok := opts["model"].(string); ok && v != "" {
		model = v
	}
	var cfg *genai.EmbedContentConfig
	if v, ok := opts["task_type"].(string); ok && v != "" {
		cfg = &genai.EmbedContentConfig{TaskType: v}
	}
	contents := make([]*genai.Content, 0, len(inputs))
	for _, s := range inputs {
		contents = append(contents, genai.NewContentFromText(s, genai.RoleUser))
	}
	res, err := e.client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, errmodel.Provider("embed_failed", "gemini embed content failed", map[string]any{"model": model, "inputs": len(inputs)}, err)
	}
	out := make([]embedding.Vector, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		vec := make(embedding.Vector, len(emb.Values))
		for i, f := range emb.Values {
			vec[i] = float32(f)
		}
		out = append(out, vec)
	}
	return out, nil
}

// Factory creates a Gemini embedder using GOOGLE_API_KEY by default.
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) { // nolint: revive
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
	model := defaultEmbeddingModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}
	return &embedClient{client: client, model: model}, nil
}

func init() {
	_ = embedding.Register("gemini", Factory)
}
