package memory

import (
	"cmp"
	"context"
	"math"
	"reflect"
	"slices"
	"sync"

	"github.com/wilhg/toolagent/pkg/adapters/vectorstore"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

const defaultNamespace = "default"

// Store is an in-memory VectorStore using brute-force cosine similarity.
type Store struct {
	mu     sync.RWMutex
	byNSID map[string]map[string]vectorstore.Item // namespace -> id -> item
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{byNSID: make(map[string]map[string]vectorstore.Item)}
}

// Factory registers the store as "memory"; cfg is ignored.
func Factory(ctx context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	return New(), nil
}

func init() { _ = vectorstore.Register("memory", Factory) }

func nsOrDefault(ns string) string {
	if ns == "" {
		return defaultNamespace
	}
	return ns
}

// Upsert inserts or replaces items. The batch is validated before anything is written.
func (s *Store) Upsert(ctx context.Context, items []vectorstore.Item) error {
	for _, it := range items {
		if it.ID == "" {
			return errmodel.Validation("empty_id", "vectorstore item has an empty id", map[string]any{"namespace": it.Namespace})
		}
		if len(it.Vector) == 0 {
			return errmodel.Validation("empty_vector", "vectorstore item has an empty vector", map[string]any{"id": it.ID})
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		ns := nsOrDefault(it.Namespace)
		bucket, ok := s.byNSID[ns]
		if !ok {
			bucket = make(map[string]vectorstore.Item)
			s.byNSID[ns] = bucket
		}
		it.Vector = slices.Clone(it.Vector)
		bucket[it.ID] = it
	}
	return nil
}

// Delete removes ids from the namespace.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.byNSID[nsOrDefault(namespace)]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

// Len reports the number of items in a namespace.
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byNSID[nsOrDefault(namespace)])
}

// Query performs cosine similarity search. Ties are broken by ID so results are stable.
func (s *Store) Query(ctx context.Context, query vectorstore.Vector, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	qnorm := dot(query, query)
	if qnorm == 0 {
		return nil, errmodel.Validation("zero_query", "vectorstore query vector has zero norm", nil)
	}
	qnorm = math.Sqrt(qnorm)

	s.mu.RLock()
	bucket := s.byNSID[nsOrDefault(filter.Namespace)]
	matches := make([]vectorstore.Match, 0, len(bucket))
	for _, it := range bucket {
		if !metaEquals(it.Metadata, filter.Equals) || len(it.Vector) != len(query) {
			continue
		}
		matches = append(matches, vectorstore.Match{Item: it, Score: cosine(query, it.Vector, qnorm)})
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b vectorstore.Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func metaEquals(have map[string]any, want map[string]any) bool {
	for k, v := range want {
		if hv, ok := have[k]; !ok || !reflect.DeepEqual(hv, v) {
			return false
		}
	}
	return true
}

func cosine(a, b vectorstore.Vector, qnorm float64) float32 {
	denom := qnorm * math.Sqrt(dot(b, b))
	if denom == 0 {
		return 0
	}
	return float32(dot(a, b) / denom)
}

func dot(a, b vectorstore.Vector) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
