package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// ToolCaller resolves model-requested calls against a ToolSet and runs them through SafeInvoke.
type ToolCaller struct {
	// AllowedPermissions is passed to SafeInvoke; nil grants every permission.
	AllowedPermissions map[string]bool
	Validate           ValidateFunc
}

// Call executes one tool call.
//
// Failures the model can recover from (unknown tool, refused permission, input that violates
// the schema, a tool that returned an error) are recorded in ToolOutput.Error and err is nil.
// Arguments that are not a JSON object and output that violates the tool's own output schema
// cannot be recovered from and are returned as err.
func (h ToolCaller) Call(ctx context.Context, set *ToolSet, call llm.ToolCall) (ToolOutput, error) {
	out := ToolOutput{CallID: call.ID, Name: call.Name}
	args, err := ParseArguments(call)
	if err != nil {
		return out, err
	}
	out.Arguments = args

	tool, ok := set.Get(call.Name)
	if !ok || tool == nil {
		out.Error = errUnknownTool(call.Name)
		return out, nil
	}
	res, err := SafeInvoke(ctx, tool, args, h.AllowedPermissions, h.Validate)
	if err != nil {
		if errmodel.IsCategory(err, errmodel.CategorySchema) {
			return out, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		out.Error = errmodel.From(err)
		return out, nil
	}
	out.Output = res
	return out, nil
}

// ParseArguments decodes the raw arguments of a tool call. An empty string is an empty object.
func ParseArguments(call llm.ToolCall) (map[string]any, error) {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return nil, errmodel.Schema("malformed_arguments", "tool call arguments are not a JSON object", map[string]any{"tool": call.Name, "arguments": raw}, err)
	}
	return args, nil
}

// Content renders the output as the body of the tool message sent back to the model.
func (o ToolOutput) Content() string {
	if o.Error != nil {
		b, _ := json.Marshal(map[string]any{"error": o.Error.Error()})
		return string(b)
	}
	b, err := json.Marshal(o.Output)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Message is the tool message answering the call.
func (o ToolOutput) Message() llm.Message {
	return llm.Message{Role: llm.RoleTool, Name: o.Name, ToolCallID: o.CallID, Content: o.Content()}
}

func errUnknownTool(n string) *errmodel.Error {
	return errmodel.Tool("not_found", "tool not found", map[string]any{"tool": n}, nil)
}
