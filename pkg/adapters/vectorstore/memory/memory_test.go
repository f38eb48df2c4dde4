package memory

import (
	"context"
	"testing"

	"github.com/wilhg/toolagent/pkg/adapters/vectorstore"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

func TestUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := New()

	items := []vectorstore.Item{
		{ID: "a1", Namespace: "ns1", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"doc": "1", "tag": "x"}},
		{ID: "a2", Namespace: "ns1", Vector: vectorstore.Vector{0.8, 0.2}, Metadata: map[string]any{"doc": "2", "tag": "y"}},
		{ID: "b1", Namespace: "ns2", Vector: vectorstore.Vector{0, 1}, Metadata: map[string]any{"doc": "3", "tag": "x"}},
	}
	if err := s.Upsert(ctx, items); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := s.Query(ctx, vectorstore.Vector{1, 0}, 2, vectorstore.Filter{Namespace: "ns1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 || matches[0].Item.ID != "a1" {
		t.Fatalf("matches=%+v want a1 first", matches)
	}

	matches, err = s.Query(ctx, vectorstore.Vector{1, 0}, 2, vectorstore.Filter{Namespace: "ns1", Equals: map[string]any{"tag": "y"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].Item.ID != "a2" {
		t.Fatalf("filtered result unexpected: %+v", matches)
	}

	matches, err = s.Query(ctx, vectorstore.Vector{0, 1}, 10, vectorstore.Filter{Namespace: "ns2"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].Item.ID != "b1" {
		t.Fatalf("ns2 query unexpected: %+v", matches)
	}
}

func TestQuery_FilterOnCompositeValues(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Upsert(ctx, []vectorstore.Item{
		{ID: "t1", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"perms": []string{"fs:read"}}},
		{ID: "t2", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"perms": []string{"network:outbound"}}},
	}); err != nil {
		t.Fatal(err)
	}
	matches, err := s.Query(ctx, vectorstore.Vector{1, 0}, 10, vectorstore.Filter{Equals: map[string]any{"perms": []string{"fs:read"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Item.ID != "t1" {
		t.Fatalf("matches=%+v want t1", matches)
	}
}

func TestDeleteAndTies(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Upsert(ctx, []vectorstore.Item{
		{ID: "b", Vector: vectorstore.Vector{1, 1}},
		{ID: "a", Vector: vectorstore.Vector{1, 1}},
		{ID: "c", Vector: vectorstore.Vector{0, 1}},
	}); err != nil {
		t.Fatal(err)
	}
	matches, err := s.Query(ctx, vectorstore.Vector{1, 1}, 0, vectorstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Item.ID != "a" || matches[1].Item.ID != "b" {
		t.Fatalf("tie order=%s,%s want a,b", matches[0].Item.ID, matches[1].Item.ID)
	}
	if err := s.Delete(ctx, "", []string{"a", "missing"}); err != nil {
		t.Fatal(err)
	}
	if s.Len("") != 2 {
		t.Fatalf("len=%d want 2", s.Len(""))
	}
}

func TestUpsertValidatesBatch(t *testing.T) {
	s := New()
	err := s.Upsert(context.Background(), []vectorstore.Item{{ID: "ok", Vector: vectorstore.Vector{1}}, {ID: "", Vector: vectorstore.Vector{1}}})
	if !errmodel.IsCode(err, errmodel.CategoryValidation, "empty_id") {
		t.Fatalf("err=%v", err)
	}
	if s.Len("") != 0 {
		t.Fatalf("partial batch written")
	}
	if _, err := s.Query(context.Background(), vectorstore.Vector{0}, 1, vectorstore.Filter{}); !errmodel.IsCode(err, errmodel.CategoryValidation, "zero_query") {
		t.Fatalf("zero query err=%v", err)
	}
}
