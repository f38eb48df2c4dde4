package openai

import (
	"context"
	"net/http"
	"os"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/toolagent/pkg/adapters/embedding"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

const defaultEmbeddingModel = "text-embedding-3-small"

type embedClient struct {
	client oa.Client
	model  string
	dims   int64
}

func (e *embedClient) Name() string { return "openai" }

func (e *embedClient) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	model := e.model
	if v, ok := opts["model"].(string); ok && v != "" {
		model = v
	}
	params := oa.EmbeddingNewParams{
		Model: oa.EmbeddingModel(model),
		Input: oa.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	}
	if e.dims > 0 {
		params.Dimensions = oa.Int(e.dims)
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errmodel.Provider("embed_failed", "openai embeddings request failed", map[string]any{"model": model, "inputs": len(inputs)}, err)
	}
	out := make([]embedding.Vector, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			continue
		}
		vec := make(embedding.Vector, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Factory builds the OpenAI embedder: cfg keys: api_key, model, base_url, dimensions.
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) { // nolint: revive
	_ = ctx
	apiKey := os.Getenv("OPENAI_API_KEY")
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, errmodel.Configuration("missing_api_key", "openai: missing API key; set OPENAI_API_KEY or cfg.api_key", nil)
	}
	model := defaultEmbeddingModel
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
	e := &embedClient{client: oa.NewClient(opts...), model: model}
	switch v := cfg["dimensions"].(type) {
	case int:
		e.dims = int64(v)
	case float64:
		e.dims = int64(v)
	}
	return e, nil
}

func init() {
	_ = embedding.Register("openai", Factory)
}
