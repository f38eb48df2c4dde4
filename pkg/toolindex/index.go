// Package toolindex retrieves tools by similarity between the user input and tool
// descriptions, for agents with more tools than fit in one model call.
package toolindex

import (
	"context"
	"sync"

	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/adapters/embedding"
	"github.com/wilhg/toolagent/pkg/adapters/vectorstore"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

const (
	DefaultNamespace = "tools"
	DefaultTopK      = 4
)

// Index embeds "name: description" of each tool into a vector store.
type Index struct {
	emb   embedding.Embedder
	store vectorstore.VectorStore
	ns    string
	topK  int

	mu    sync.RWMutex
	tools map[string]agent.Tool
}

var _ agent.ToolRetriever = (*Index)(nil)

// Option configures the Index.
type Option func(*Index)

// WithNamespace isolates this index inside a shared vector store.
func WithNamespace(ns string) Option {
	return func(ix *Index) {
		if ns != "" {
			ix.ns = ns
		}
	}
}

// WithTopK sets how many tools Retrieve returns at most.
func WithTopK(k int) Option {
	return func(ix *Index) {
		if k > 0 {
			ix.topK = k
		}
	}
}

func New(emb embedding.Embedder, store vectorstore.VectorStore, opts ...Option) *Index {
	ix := &Index{emb: emb, store: store, ns: DefaultNamespace, topK: DefaultTopK, tools: map[string]agent.Tool{}}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func describe(d agent.ToolDescriptor) string {
	if d.Description == "" {
		return d.Name
	}
	return d.Name + ": " + d.Description
}

// Add indexes tools, replacing earlier tools with the same name.
func (ix *Index) Add(ctx context.Context, tools ...agent.Tool) error {
	if len(tools) == 0 {
		return nil
	}
	set, err := agent.NewToolSet(tools...)
	if err != nil {
		return err
	}
	texts := make([]string, 0, set.Len())
	for _, t := range set.Tools() {
		texts = append(texts, describe(t.Describe()))
	}
	vecs, err := ix.emb.Embed(ctx, texts, nil)
	if err != nil {
		return err
	}
	if len(vecs) != len(texts) {
		return errmodel.Provider("embedding_count", "embedder returned an unexpected number of vectors", map[string]any{"embedder": ix.emb.Name(), "want": len(texts), "got": len(vecs)}, nil)
	}
	items := make([]vectorstore.Item, len(texts))
	for i, t := range set.Tools() {
		name := t.Describe().Name
		items[i] = vectorstore.Item{
			ID:        name,
			Namespace: ix.ns,
			Vector:    vectorstore.Vector(vecs[i]),
			Metadata:  map[string]any{"tool": name},
		}
	}
	if err := ix.store.Upsert(ctx, items); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, t := range set.Tools() {
		ix.tools[t.Describe().Name] = t
	}
	return nil
}

// Len reports the number of indexed tools.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.tools)
}

// Retrieve returns up to topK tools, most similar first.
func (ix *Index) Retrieve(ctx context.Context, query string) ([]agent.Tool, error) {
	if ix.Len() == 0 {
		return nil, nil
	}
	vec, err := embedding.EmbedOne(ctx, ix.emb, query)
	if err != nil {
		return nil, err
	}
	matches, err := ix.store.Query(ctx, vectorstore.Vector(vec), ix.topK, vectorstore.Filter{Namespace: ix.ns})
	if err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]agent.Tool, 0, len(matches))
	for _, m := range matches {
		if t, ok := ix.tools[m.Item.ID]; ok {
			out = append(out, t)
		}
	}
	klog.FromContext(ctx).V(2).Info("retrieved tools", "query", query, "count", len(out))
	return out, nil
}
