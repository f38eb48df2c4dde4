package toolindex

import (
	"context"
	"testing"

	embfake "github.com/wilhg/toolagent/pkg/adapters/embedding/fake"
	vsmem "github.com/wilhg/toolagent/pkg/adapters/vectorstore/memory"
	"github.com/wilhg/toolagent/pkg/agent"
)

type namedTool struct{ name, desc string }

func (n namedTool) Describe() agent.ToolDescriptor {
	return agent.ToolDescriptor{Name: n.name, Description: n.desc}
}

func (namedTool) Invoke(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestIndex_RetrieveNearest(t *testing.T) {
	ctx := context.Background()
	ix := New(embfake.New(64), vsmem.New(), WithTopK(1))
	err := ix.Add(ctx,
		namedTool{"weather", "current weather forecast temperature for a city"},
		namedTool{"calculator", "add subtract multiply numbers arithmetic"},
		namedTool{"translate", "translate text between languages"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 3 {
		t.Fatalf("len=%d", ix.Len())
	}
	got, err := ix.Retrieve(ctx, "what is the weather forecast in Paris")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Describe().Name != "weather" {
		t.Fatalf("got %v", names(got))
	}
	got, err = ix.Retrieve(ctx, "multiply these numbers")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Describe().Name != "calculator" {
		t.Fatalf("got %v", names(got))
	}
}

func TestIndex_EmptyAndDuplicates(t *testing.T) {
	ctx := context.Background()
	ix := New(embfake.New(16), vsmem.New())
	got, err := ix.Retrieve(ctx, "anything")
	if err != nil || got != nil {
		t.Fatalf("empty index: %v %v", got, err)
	}
	if err := ix.Add(ctx, namedTool{"a", ""}, namedTool{"a", ""}); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func names(ts []agent.Tool) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Describe().Name
	}
	return out
}
