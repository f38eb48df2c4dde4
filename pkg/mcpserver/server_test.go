package mcpserver

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

type rawTool struct{ d agent.ToolDescriptor }

func (t rawTool) Describe() agent.ToolDescriptor { return t.d }
func (t rawTool) Invoke(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

type echoIn struct {
	Text string `json:"text"`
}

type echoOut struct {
	Text string `json:"text"`
}

func echoTool(t *testing.T) agent.Tool {
	t.Helper()
	tool, err := agent.NewFunctionTool("echo", "echoes text", func(_ context.Context, in echoIn) (echoOut, error) {
		return echoOut{Text: in.Text}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tool
}

func TestAddTools_RejectsNonObjectSchema(t *testing.T) {
	s := New("test", "v0")
	err := s.AddTools(rawTool{d: agent.ToolDescriptor{Name: "bad", InputSchema: []byte(`{"type":"string"}`)}})
	if !errmodel.IsCode(err, errmodel.CategoryConfiguration, "invalid_tool_schema") {
		t.Fatalf("want invalid_tool_schema, got %v", err)
	}
	if err := s.AddTools(rawTool{}); !errmodel.IsCode(err, errmodel.CategoryConfiguration, "unnamed_tool") {
		t.Fatalf("want unnamed_tool, got %v", err)
	}
	if len(s.Tools()) != 0 {
		t.Fatalf("tools=%v", s.Tools())
	}
}

func TestServer_CallOverMCP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New("test", "v0")
	if err := s.AddTools(echoTool(t), rawTool{d: agent.ToolDescriptor{Name: "noargs"}}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"echo", "noargs"}, s.Tools()); diff != "" {
		t.Fatalf("tools (-want +got):\n%s", diff)
	}

	ct, st := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0"}, nil).Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}
	if got := res.Content[0].(*mcp.TextContent).Text; got != `{"text":"hi"}` {
		t.Fatalf("content=%q", got)
	}

	// schema violations come back as error results, not protocol errors
	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": 7}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatalf("want error result, got %+v", res)
	}
}
