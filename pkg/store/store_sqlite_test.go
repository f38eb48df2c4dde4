package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, "sqlite:file:"+t.Name()+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSQLiteAppendAndList(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)

	first := []llm.Message{
		{Role: llm.RoleUser, Content: "add 2 and 3"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "add", Arguments: `{"a":2,"b":3}`}}},
	}
	if err := st.Append(ctx, "s1", first...); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(ctx, "s1", llm.Message{Role: llm.RoleTool, Content: `{"result":5}`, ToolCallID: "c1", Name: "add"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(ctx, "other", llm.Message{Role: llm.RoleUser, Content: "unrelated"}); err != nil {
		t.Fatal(err)
	}

	recs, err := st.Records(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("len=%d want 3", len(recs))
	}
	for i, r := range recs {
		if r.Seq != int64(i+1) {
			t.Fatalf("record %d seq=%d", i, r.Seq)
		}
	}
	got, err := st.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := append(first, llm.Message{Role: llm.RoleTool, Content: `{"result":5}`, ToolCallID: "c1", Name: "add"})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
}

func TestSQLiteReplace(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	if err := st.Append(ctx, "s1", llm.Message{Role: llm.RoleUser, Content: "a"}, llm.Message{Role: llm.RoleAssistant, Content: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Replace(ctx, "s1", []llm.Message{{Role: llm.RoleUser, Content: "c"}}); err != nil {
		t.Fatal(err)
	}
	got, err := st.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "c" {
		t.Fatalf("after replace: %+v", got)
	}

	if err := st.Replace(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	ok, err := st.Exists(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("cleared session still exists")
	}
}

func TestSQLiteEmptySession(t *testing.T) {
	st := openSQLite(t)
	err := st.Append(context.Background(), "", llm.Message{Role: llm.RoleUser, Content: "x"})
	if !errmodel.IsCode(err, errmodel.CategoryValidation, "empty_session") {
		t.Fatalf("want empty_session, got %v", err)
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	ctx := context.Background()
	for _, dsn := range []string{"", "mysql://localhost/db", "just words"} {
		if _, err := Open(ctx, dsn); !errmodel.IsCategory(err, errmodel.CategoryConfiguration) {
			t.Fatalf("%q: want configuration error, got %v", dsn, err)
		}
	}
}
