package vectorstore

import (
	"context"
	"sync"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Vector is a single dense embedding vector.
type Vector []float32

// Item is one indexed vector with metadata used for filtering and lookup.
type Item struct {
	// ID is unique within a namespace.
	ID string
	// Namespace groups items logically, e.g. one tool index per agent.
	Namespace string
	Vector    Vector
	Metadata  map[string]any
}

// Match is a search result with similarity score and original item.
type Match struct {
	Item  Item
	Score float32 // higher is more similar
}

// VectorStore defines upsert, delete and similarity query operations.
type VectorStore interface {
	// Upsert inserts or replaces items by ID within a namespace.
	Upsert(ctx context.Context, items []Item) error
	// Delete removes items by ID from a namespace. Unknown IDs are ignored.
	Delete(ctx context.Context, namespace string, ids []string) error
	// Query returns the top-k most similar items, filtered by namespace and metadata.
	Query(ctx context.Context, query Vector, k int, filter Filter) ([]Match, error)
}

// Filter constrains query results.
type Filter struct {
	Namespace string
	// Equals matches exact key/value pairs in metadata (AND semantics across keys).
	Equals map[string]any
}

// Factory constructs a VectorStore instance from a provider-specific configuration.
type Factory func(ctx context.Context, cfg map[string]any) (VectorStore, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a VectorStore factory.
func Register(name string, f Factory) error {
	if name == "" {
		return errmodel.Configuration("empty_provider", "vectorstore: empty provider name", nil)
	}
	if f == nil {
		return errmodel.Configuration("nil_factory", "vectorstore: nil factory", map[string]any{"provider": name})
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return errmodel.Configuration("duplicate_provider", "vectorstore: provider already registered", map[string]any{"provider": name})
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
