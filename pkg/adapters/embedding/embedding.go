package embedding

import (
	"context"
	"sync"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Vector represents a single embedding vector.
type Vector []float32

// Embedder produces embedding vectors from text inputs.
//
// Implementations should be deterministic for the same input. Network calls must honor ctx
// and fail with an errmodel provider error.
type Embedder interface {
	// Name returns a short provider name (e.g., "openai", "gemini").
	Name() string
	// Embed returns one vector per input string, in order.
	Embed(ctx context.Context, inputs []string, opts map[string]any) ([]Vector, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) (Vector, error) {
	vecs, err := e.Embed(ctx, []string{text}, nil)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errmodel.Provider("embedding_count", "embedder returned an unexpected number of vectors", map[string]any{"embedder": e.Name(), "got": len(vecs)}, nil)
	}
	return vecs[0], nil
}

// Factory constructs an Embedder from a provider-specific configuration map.
type Factory func(ctx context.Context, cfg map[string]any) (Embedder, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers an Embedder factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return errmodel.Configuration("empty_provider", "embedding: empty provider name", nil)
	}
	if f == nil {
		return errmodel.Configuration("nil_factory", "embedding: nil factory", map[string]any{"provider": name})
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return errmodel.Configuration("duplicate_provider", "embedding: provider already registered", map[string]any{"provider": name})
	}
	factories[name] = f
	return nil
}

// Resolve retrieves a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names lists the registered providers.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	return out
}
