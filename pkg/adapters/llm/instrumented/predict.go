package instrumented

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/instrumentation"
	"github.com/wilhg/toolagent/pkg/prompt"
)

// Predict renders tmpl with args and asks the model for a text answer. Chat models get the
// rendered prompt as a single user message, other models a plain completion.
func (m *LLM) Predict(ctx context.Context, tmpl prompt.Template, args map[string]any) (string, error) {
	start, startErr := instrumentation.NewPredictStartEvent(&tmpl, args, instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, start, startErr)

	text, err := tmpl.Format(args)
	if err != nil {
		return "", err
	}
	var out string
	if m.inner.Metadata().IsChatModel {
		resp, err := m.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}})
		if err != nil {
			return "", err
		}
		out = resp.Message.Content
	} else {
		resp, err := m.Complete(ctx, text, nil)
		if err != nil {
			return "", err
		}
		out = resp.Text
	}

	end, endErr := instrumentation.NewPredictEndEvent(out, instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, end, endErr)
	return out, nil
}

// outputToolName is the function the model is asked to call with the structured record.
const outputToolName = "emit_output"

// StructuredPredict asks the model for a record of type T. The JSON schema of T is offered
// as the only tool; a model that answers in plain text instead must answer with JSON.
// The record is validated against the schema before it is returned.
func StructuredPredict[T any](ctx context.Context, m *LLM, tmpl prompt.Template, args map[string]any) (T, error) {
	var zero T
	sch, err := jsonschema.For[T](nil)
	if err != nil {
		return zero, errmodel.Schema("output_schema", "cannot derive a JSON schema for the output type", nil, err)
	}
	schemaJSON, err := json.Marshal(sch)
	if err != nil {
		return zero, errmodel.Schema("output_schema", "cannot encode the output schema", nil, err)
	}

	start, startErr := instrumentation.NewStructuredPredictStartEvent(schemaJSON, &tmpl, args, instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, start, startErr)

	text, err := tmpl.Format(args)
	if err != nil {
		return zero, err
	}
	req := llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}}
	if m.inner.Metadata().IsFunctionCallingModel {
		req.Tools = []llm.ToolSpec{{Name: outputToolName, Description: "Return the answer as a structured record.", Parameters: schemaJSON}}
	}
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return zero, err
	}

	raw := strings.TrimSpace(resp.Message.Content)
	for _, call := range resp.Message.ToolCalls {
		if call.Name == outputToolName {
			raw = call.Arguments
			break
		}
	}
	raw = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(raw, "```json"), "```"), "```")

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return zero, errmodel.Schema("output_not_json", "model output is not JSON", map[string]any{"output": raw}, err)
	}
	if err := agent.JSONSchemaValidator(schemaJSON, generic); err != nil {
		return zero, errmodel.Schema("output_mismatch", "model output does not match the output schema", map[string]any{"output": raw}, err)
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return zero, errmodel.Schema("output_mismatch", "model output does not decode into the output type", map[string]any{"output": raw}, err)
	}

	end, endErr := instrumentation.NewStructuredPredictEndEvent(out, instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, end, endErr)
	return out, nil
}
