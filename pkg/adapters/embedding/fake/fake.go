package fake

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/wilhg/toolagent/pkg/adapters/embedding"
)

// Embedder is a deterministic bag-of-words embedder suitable for unit tests.
// Every lowercased word is hashed into one of dim buckets, so texts that share
// words have a positive cosine similarity and unrelated texts are near orthogonal.
type Embedder struct {
	dim int

	mu    sync.Mutex
	calls int
}

// New returns a new fake embedder with the given dimension (>= 4).
func New(dim int) *Embedder {
	if dim < 4 {
		dim = 4
	}
	return &Embedder{dim: dim}
}

// Factory registers the embedder as "fake". cfg "dim" sets the dimension, 64 by default.
func Factory(_ context.Context, cfg map[string]any) (embedding.Embedder, error) {
	dim := 64
	switch v := cfg["dim"].(type) {
	case int:
		dim = v
	case float64:
		dim = int(v)
	}
	return New(dim), nil
}

func init() { _ = embedding.Register("fake", Factory) }

func (e *Embedder) Name() string { return "fake" }

// Calls reports how many Embed calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	out := make([]embedding.Vector, len(inputs))
	for i, s := range inputs {
		vec := make(embedding.Vector, e.dim)
		words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			vec[h.Sum32()%uint32(e.dim)]++
		}
		if len(words) == 0 {
			// keep the vector non-zero so cosine search stays defined
			vec[0] = 1
		}
		out[i] = vec
	}
	return out, nil
}
