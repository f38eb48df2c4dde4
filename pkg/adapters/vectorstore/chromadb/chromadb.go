// Package chromadb is a vector store backed by a Chroma server's REST API.
package chromadb

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/toolagent/pkg/adapters/vectorstore"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

const defaultBaseURL = "http://localhost:8000"

// Store maps each namespace to a collection unless a single collection is configured.
type Store struct {
	baseURL    *url.URL
	single     string
	autoCreate bool
	http       *http.Client

	mu       sync.RWMutex
	nameToID map[string]string
}

func init() { _ = vectorstore.Register("chromadb", Factory) }

// Factory builds a Store. Config keys: base_url (TOOLAGENT_CHROMADB_URL, then
// http://localhost:8000), collection, create_if_missing (default true).
func Factory(ctx context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	base := os.Getenv("TOOLAGENT_CHROMADB_URL")
	if v, ok := cfg["base_url"].(string); ok && v != "" {
		base = v
	}
	if base == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" {
		return nil, errmodel.Configuration("invalid_base_url", "chromadb: base_url is not an absolute URL", map[string]any{"base_url": base})
	}
	s := &Store{
		baseURL:    u,
		autoCreate: true,
		http:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		nameToID:   make(map[string]string),
	}
	if v, ok := cfg["collection"].(string); ok {
		s.single = v
	}
	if v, ok := cfg["create_if_missing"].(bool); ok {
		s.autoCreate = v
	}
	return s, nil
}

func (s *Store) Upsert(ctx context.Context, items []vectorstore.Item) error {
	groups := map[string][]vectorstore.Item{}
	for _, it := range items {
		if it.ID == "" {
			return errmodel.Validation("empty_id", "vectorstore item has an empty id", map[string]any{"namespace": it.Namespace})
		}
		coll := s.collectionName(it.Namespace)
		groups[coll] = append(groups[coll], it)
	}
	for coll, batch := range groups {
		id, err := s.ensureCollection(ctx, coll)
		if err != nil {
			return err
		}
		req := upsertRequest{
			IDs:        make([]string, 0, len(batch)),
			Embeddings: make([][]float32, 0, len(batch)),
			Metadatas:  make([]map[string]any, 0, len(batch)),
		}
		for _, it := range batch {
			req.IDs = append(req.IDs, it.ID)
			req.Embeddings = append(req.Embeddings, it.Vector)
			md := it.Metadata
			if md == nil {
				md = map[string]any{}
			}
			req.Metadatas = append(req.Metadatas, md)
		}
		if err := s.postJSON(ctx, path.Join("/api/v1/collections", id, "upsert"), req, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := s.ensureCollection(ctx, s.collectionName(namespace))
	if err != nil {
		return err
	}
	return s.postJSON(ctx, path.Join("/api/v1/collections", id, "delete"), deleteRequest{IDs: ids}, nil)
}

func (s *Store) Query(ctx context.Context, query vectorstore.Vector, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	id, err := s.ensureCollection(ctx, s.collectionName(filter.Namespace))
	if err != nil {
		return nil, err
	}
	req := queryRequest{
		QueryEmbeddings: [][]float32{query},
		NResults:        k,
		Where:           filter.Equals,
		Include:         []string{"distances", "metadatas"},
	}
	var resp queryResponse
	if err := s.postJSON(ctx, path.Join("/api/v1/collections", id, "query"), req, &resp); err != nil {
		return nil, err
	}
	// one query was sent, so every field holds one row
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	ids := resp.IDs[0]
	out := make([]vectorstore.Match, 0, len(ids))
	for i, itemID := range ids {
		m := vectorstore.Match{Item: vectorstore.Item{ID: itemID, Namespace: filter.Namespace}}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Item.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			// distance, so smaller is closer
			m.Score = -resp.Distances[0][i]
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) collectionName(namespace string) string {
	if s.single != "" {
		return s.single
	}
	if namespace == "" {
		return "default"
	}
	return namespace
}

func (s *Store) ensureCollection(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	id, ok := s.nameToID[name]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}
	var list []collection
	if err := s.getJSON(ctx, "/api/v1/collections", &list); err != nil {
		return "", err
	}
	for _, c := range list {
		if c.Name == name {
			s.remember(name, c.ID)
			return c.ID, nil
		}
	}
	if !s.autoCreate {
		return "", errmodel.Validation("not_found", "chromadb: collection does not exist", map[string]any{"collection": name})
	}
	var created collection
	if err := s.postJSON(ctx, "/api/v1/collections", createCollectionRequest{Name: name, GetOrCreate: true}, &created); err != nil {
		return "", err
	}
	s.remember(name, created.ID)
	return created.ID, nil
}

func (s *Store) remember(name, id string) {
	s.mu.Lock()
	s.nameToID[name] = id
	s.mu.Unlock()
}

func (s *Store) endpoint(p string) string {
	u := *s.baseURL
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (s *Store) getJSON(ctx context.Context, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(p), nil)
	if err != nil {
		return err
	}
	return s.do(req, p, out)
}

func (s *Store) postJSON(ctx context.Context, p string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(p), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, p, out)
}

func (s *Store) do(req *http.Request, p string, out any) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return errmodel.System("chromadb_unreachable", "chromadb: request failed", map[string]any{"path": p}, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return errmodel.System("chromadb_status", "chromadb: unexpected status", map[string]any{"method": req.Method, "path": p, "status": resp.Status}, nil)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createCollectionRequest struct {
	Name        string `json:"name"`
	GetOrCreate bool   `json:"get_or_create"`
}

type upsertRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type queryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include,omitempty"`
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float32        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}
