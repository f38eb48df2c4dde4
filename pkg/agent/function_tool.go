package agent

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

// resultKey wraps outputs that are not JSON objects.
const resultKey = "result"

type functionTool[In, Out any] struct {
	desc    ToolDescriptor
	fn      func(context.Context, In) (Out, error)
	wrapped bool
}

// NewFunctionTool turns a typed Go function into a Tool. The input and output schemas are
// inferred from In and Out. In must be a struct or map; an Out that does not encode as a JSON
// object is returned under the "result" key.
func NewFunctionTool[In, Out any](name, description string, fn func(context.Context, In) (Out, error), perms ...ToolPermission) (Tool, error) {
	if name == "" {
		return nil, errmodel.Configuration("unnamed_tool", "tool name is empty", nil)
	}
	if fn == nil {
		return nil, errmodel.Configuration("nil_function", "tool function is nil", map[string]any{"tool": name})
	}
	in, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, errmodel.Configuration("input_schema", "cannot infer tool input schema", map[string]any{"tool": name, "error": err.Error()})
	}
	if in.Type != "object" {
		return nil, errmodel.Configuration("input_schema", "tool input must be a JSON object", map[string]any{"tool": name, "type": in.Type})
	}
	out, err := jsonschema.For[Out](nil)
	if err != nil {
		return nil, errmodel.Configuration("output_schema", "cannot infer tool output schema", map[string]any{"tool": name, "error": err.Error()})
	}
	wrapped := out.Type != "object"
	if wrapped {
		out = &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{resultKey: out},
			Required:   []string{resultKey},
		}
	}
	inJSON, err := json.Marshal(in)
	if err != nil {
		return nil, errmodel.Configuration("input_schema", "cannot encode tool input schema", map[string]any{"tool": name})
	}
	outJSON, err := json.Marshal(out)
	if err != nil {
		return nil, errmodel.Configuration("output_schema", "cannot encode tool output schema", map[string]any{"tool": name})
	}
	return &functionTool[In, Out]{
		desc: ToolDescriptor{
			Name:         name,
			Description:  description,
			InputSchema:  inJSON,
			OutputSchema: outJSON,
			Permissions:  perms,
		},
		fn:      fn,
		wrapped: wrapped,
	}, nil
}

func (t *functionTool[In, Out]) Describe() ToolDescriptor { return t.desc }

func (t *functionTool[In, Out]) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var in In
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	res, err := t.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	if t.wrapped {
		var v any
		b, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		return map[string]any{resultKey: v}, nil
	}
	b, err = json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
