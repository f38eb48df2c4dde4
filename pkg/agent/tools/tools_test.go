package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

func invoke(t *testing.T, tool agent.Tool, args map[string]any, allowed map[string]bool) (map[string]any, error) {
	t.Helper()
	return agent.SafeInvoke(context.Background(), tool, args, allowed, agent.JSONSchemaValidator)
}

func TestFileRead(t *testing.T) {
	fsys := fstest.MapFS{
		"notes/todo.txt": {Data: []byte("buy milk")},
		"big.txt":        {Data: []byte(strings.Repeat("a", MaxFileBytes+10))},
	}
	tool, err := NewFileRead(fsys)
	if err != nil {
		t.Fatal(err)
	}
	out, err := invoke(t, tool, map[string]any{"path": "notes/todo.txt"}, map[string]bool{PermFSRead: true})
	if err != nil {
		t.Fatal(err)
	}
	if out["content"] != "buy milk" || out["truncated"] != false {
		t.Fatalf("out=%v", out)
	}
	out, err = invoke(t, tool, map[string]any{"path": "big.txt"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out["truncated"] != true || len(out["content"].(string)) != MaxFileBytes {
		t.Fatalf("truncated=%v len=%d", out["truncated"], len(out["content"].(string)))
	}
	for _, p := range []string{"../etc/passwd", "/etc/passwd", "notes/../big.txt"} {
		if _, err := invoke(t, tool, map[string]any{"path": p}, nil); !errmodel.IsCategory(err, errmodel.CategoryTool) {
			t.Fatalf("path %q: want tool error, got %v", p, err)
		}
	}
	if _, err := invoke(t, tool, map[string]any{"path": "notes/todo.txt"}, map[string]bool{}); !errmodel.IsCategory(err, errmodel.CategoryPolicy) {
		t.Fatalf("want policy error, got %v", err)
	}
}

func TestHTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "pong")
	}))
	defer srv.Close()

	tool, err := NewHTTPGet(srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	out, err := invoke(t, tool, map[string]any{"url": srv.URL, "timeout_ms": 2000}, map[string]bool{PermNetwork: true})
	if err != nil {
		t.Fatal(err)
	}
	if out["body"] != "pong" || out["status"] != float64(200) || out["content_type"] != "text/plain" {
		t.Fatalf("out=%v", out)
	}
	if _, err := invoke(t, tool, map[string]any{"url": "file:///etc/passwd"}, nil); !errmodel.IsCategory(err, errmodel.CategoryTool) {
		t.Fatalf("want tool error, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	ts, err := Select(fstest.MapFS{}, "http.get", "fs.read")
	if err != nil {
		t.Fatal(err)
	}
	if ts[0].Describe().Name != "http.get" || ts[1].Describe().Name != "fs.read" {
		t.Fatalf("order=%s,%s", ts[0].Describe().Name, ts[1].Describe().Name)
	}
	if _, err := Select(nil, "shell"); !errmodel.IsCode(err, errmodel.CategoryConfiguration, "unknown_tool") {
		t.Fatalf("want unknown_tool, got %v", err)
	}
}
