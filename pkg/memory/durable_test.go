package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite:file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestDurable_WritesThroughAndRestores(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	d, err := NewDurable(ctx, NewBuffer(), st, "s1")
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Put(ctx, user("hi"))
	_ = d.Put(ctx, assistant("hello"))

	// a fresh buffer over the same session sees the same history
	again, err := NewDurable(ctx, NewBuffer(WithHistory([]llm.Message{user("ignored")})), st, "s1")
	if err != nil {
		t.Fatal(err)
	}
	all, _ := again.GetAll(ctx)
	if diff := cmp.Diff([]llm.Message{user("hi"), assistant("hello")}, all); diff != "" {
		t.Fatalf("restored (-want +got):\n%s", diff)
	}

	if err := again.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if stored, _ := st.List(ctx, "s1"); len(stored) != 0 {
		t.Fatalf("stored after reset: %+v", stored)
	}
}

func TestDurable_SeedIsPersisted(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	if _, err := NewDurable(ctx, NewBuffer(WithHistory([]llm.Message{user("seed")})), st, "s2"); err != nil {
		t.Fatal(err)
	}
	stored, err := st.List(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]llm.Message{user("seed")}, stored); diff != "" {
		t.Fatalf("stored (-want +got):\n%s", diff)
	}
}

type brokenTranscript struct{}

var errBroken = errors.New("disk full")

func (brokenTranscript) Append(context.Context, string, ...llm.Message) error { return errBroken }
func (brokenTranscript) List(context.Context, string) ([]llm.Message, error) { return nil, nil }
func (brokenTranscript) Replace(context.Context, string, []llm.Message) error { return errBroken }

func TestDurable_FailedWriteLeavesBuffer(t *testing.T) {
	ctx := context.Background()
	d, err := NewDurable(ctx, NewBuffer(), brokenTranscript{}, "s")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Put(ctx, user("hi")); !errors.Is(err, errBroken) {
		t.Fatalf("want errBroken, got %v", err)
	}
	if all, _ := d.GetAll(ctx); len(all) != 0 {
		t.Fatalf("buffer changed: %+v", all)
	}
}
