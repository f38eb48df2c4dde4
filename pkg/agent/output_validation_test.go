package agent

import (
	"context"
	"testing"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

// badOutputTool declares an output schema that the Invoke implementation violates.
type badOutputTool struct{}

func (badOutputTool) Describe() ToolDescriptor {
	// Output requires {"ok": boolean}
	return ToolDescriptor{
		Name:         "bad_output_tool",
		Description:  "returns output that violates its OutputSchema",
		InputSchema:  []byte(`{"type":"object","properties":{},"additionalProperties":false}`),
		OutputSchema: []byte(`{"type":"object","properties":{"ok":{"type":"boolean"}},"required":["ok"],"additionalProperties":false}`),
		Permissions:  []ToolPermission{{Name: "cpu"}},
	}
}

func (badOutputTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	// Violate schema by returning string for ok and missing required boolean type
	return map[string]any{"ok": "yes"}, nil
}

func TestSafeInvoke_InvalidOutput_IsSchemaError(t *testing.T) {
	tool := badOutputTool{}
	// Allow required permission so we reach output validation stage.
	allowed := map[string]bool{"cpu": true}

	out, err := SafeInvoke(context.Background(), tool, map[string]any{}, allowed, JSONSchemaValidator)
	if err == nil {
		t.Fatalf("expected error, got output=%v", out)
	}
	ce := errmodel.From(err)
	if ce.Category != errmodel.CategorySchema || ce.Code != "invalid_output" {
		t.Fatalf("unexpected error category/code: %+v", ce)
	}
	if ce.Context == nil || ce.Context["tool"] != "bad_output_tool" {
		t.Fatalf("expected context to include tool name, got %+v", ce.Context)
	}
}

func TestCompileJSONSchema(t *testing.T) {
	if err := CompileJSONSchema([]byte(`{"type":"object"}`)); err != nil {
		t.Fatal(err)
	}
	if err := CompileJSONSchema([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for broken schema")
	}
	if err := CompileJSONSchema(nil); err != nil {
		t.Fatal(err)
	}
}
