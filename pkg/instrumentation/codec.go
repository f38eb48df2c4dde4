package instrumentation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/prompt"
)

type envelope struct {
	ClassName string    `json:"class_name"`
	Timestamp time.Time `json:"timestamp"`
	SpanID    string    `json:"span_id,omitempty"`
}

type templateWire struct {
	envelope
	OutputSchema json.RawMessage  `json:"output_schema,omitempty"`
	Template     *prompt.Template `json:"template"`
	TemplateArgs map[string]any   `json:"template_args"`
}

type outputWire struct {
	envelope
	Output json.RawMessage `json:"output"`
}

type promptWire struct {
	envelope
	Prompt           string                  `json:"prompt"`
	AdditionalParams map[string]any          `json:"additional_params,omitempty"`
	ModelDescriptor  map[string]any          `json:"model_descriptor,omitempty"`
	Response         *llm.CompletionResponse `json:"response,omitempty"`
}

type chatWire struct {
	envelope
	Messages         []llm.Message     `json:"messages"`
	AdditionalParams map[string]any    `json:"additional_params,omitempty"`
	ModelDescriptor  map[string]any    `json:"model_descriptor,omitempty"`
	Response         *llm.ChatResponse `json:"response,omitempty"`
}

func env(e Event) envelope {
	return envelope{ClassName: e.ClassName(), Timestamp: e.Timestamp(), SpanID: e.SpanID()}
}

// Encode writes the event as a flat JSON object with class_name, timestamp and span_id
// next to the variant fields.
func Encode(e Event) ([]byte, error) {
	var v any
	switch x := e.(type) {
	case PredictStartEvent:
		t := x.Template()
		v = templateWire{envelope: env(x), Template: &t, TemplateArgs: x.TemplateArgs()}
	case PredictEndEvent:
		out, _ := json.Marshal(x.Output())
		v = outputWire{envelope: env(x), Output: out}
	case StructuredPredictStartEvent:
		t := x.Template()
		v = templateWire{envelope: env(x), OutputSchema: x.OutputSchema(), Template: &t, TemplateArgs: x.TemplateArgs()}
	case StructuredPredictEndEvent:
		v = outputWire{envelope: env(x), Output: x.Output()}
	case CompletionStartEvent:
		v = promptWire{envelope: env(x), Prompt: x.Prompt(), AdditionalParams: nonNil(x.AdditionalParams()), ModelDescriptor: nonNil(x.ModelDescriptor())}
	case CompletionEndEvent:
		r := x.Response()
		v = promptWire{envelope: env(x), Prompt: x.Prompt(), Response: &r}
	case ChatStartEvent:
		v = chatWire{envelope: env(x), Messages: x.Messages(), AdditionalParams: nonNil(x.AdditionalParams()), ModelDescriptor: nonNil(x.ModelDescriptor())}
	case ChatInProgressEvent:
		r := x.Response()
		v = chatWire{envelope: env(x), Messages: x.Messages(), Response: &r}
	case ChatEndEvent:
		r := x.Response()
		v = chatWire{envelope: env(x), Messages: x.Messages(), Response: &r}
	default:
		return nil, errmodel.Schema("unknown_event", "event type is not encodable", map[string]any{"type": fmt.Sprintf("%T", e)}, nil)
	}
	return json.Marshal(v)
}

// nonNil keeps required maps present in the payload even when empty.
func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Decode parses a payload written by Encode. The class_name picks the variant and the
// payload must satisfy that variant's schema.
func Decode(data []byte) (Event, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, errmodel.Schema("invalid_json", "event payload is not valid JSON", nil, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errmodel.Schema("invalid_payload", "event payload must be a JSON object", nil, nil)
	}
	class, _ := obj["class_name"].(string)
	sch, err := schemaFor(class)
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, errmodel.Schema("invalid_event", "event payload does not match its schema", map[string]any{"event": class}, err)
	}

	switch class {
	case ClassPredictStart, ClassStructuredPredictStart:
		var w templateWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, wireErr(class, err)
		}
		if class == ClassPredictStart {
			return NewPredictStartEvent(w.Template, w.TemplateArgs, w.opts()...)
		}
		return NewStructuredPredictStartEvent(w.OutputSchema, w.Template, w.TemplateArgs, w.opts()...)
	case ClassPredictEnd:
		var w struct {
			envelope
			Output string `json:"output"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, wireErr(class, err)
		}
		return NewPredictEndEvent(w.Output, w.opts()...)
	case ClassStructuredPredictEnd:
		var w outputWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, wireErr(class, err)
		}
		return NewStructuredPredictEndEvent(w.Output, w.opts()...)
	case ClassCompletionStart, ClassCompletionEnd:
		var w promptWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, wireErr(class, err)
		}
		if class == ClassCompletionStart {
			return NewCompletionStartEvent(w.Prompt, w.AdditionalParams, w.ModelDescriptor, w.opts()...)
		}
		return NewCompletionEndEvent(w.Prompt, w.Response, w.opts()...)
	default:
		var w chatWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, wireErr(class, err)
		}
		switch class {
		case ClassChatStart:
			return NewChatStartEvent(w.Messages, w.AdditionalParams, w.ModelDescriptor, w.opts()...)
		case ClassChatInProgress:
			return NewChatInProgressEvent(w.Messages, w.Response, w.opts()...)
		default:
			return NewChatEndEvent(w.Messages, w.Response, w.opts()...)
		}
	}
}

func (w envelope) opts() []Option {
	return []Option{WithTimestamp(w.Timestamp), WithSpanID(w.SpanID)}
}

func wireErr(class string, err error) error {
	return errmodel.Schema("invalid_event", "event payload has mistyped fields", map[string]any{"event": class}, err)
}

const (
	defsJSON = `{
  "message": {
    "type": "object",
    "required": ["role", "content"],
    "properties": {
      "role": {"enum": ["system", "user", "assistant", "tool"]},
      "content": {"type": "string"},
      "name": {"type": "string"},
      "tool_call_id": {"type": "string"},
      "tool_calls": {"type": "array", "items": {
        "type": "object",
        "required": ["name", "arguments"],
        "properties": {"id": {"type": "string"}, "name": {"type": "string"}, "arguments": {"type": "string"}}
      }}
    }
  },
  "messages": {"type": "array", "items": {"$ref": "#/$defs/message"}},
  "template": {
    "type": "object",
    "required": ["body"],
    "properties": {"name": {"type": "string"}, "version": {"type": "integer"}, "body": {"type": "string"}}
  },
  "template_args": {"type": ["object", "null"]},
  "chat_response": {
    "type": "object",
    "required": ["message"],
    "properties": {"message": {"$ref": "#/$defs/message"}, "delta": {"type": "string"}, "model": {"type": "string"}}
  },
  "completion_response": {
    "type": "object",
    "required": ["text"],
    "properties": {"text": {"type": "string"}, "delta": {"type": "string"}, "model": {"type": "string"}}
  }
}`
)

// variantSchemas lists the required fields and their $defs (or inline) types per variant.
var variantSchemas = map[string]string{
	ClassPredictStart: `"required": ["template"], "properties": {
      "template": {"$ref": "#/$defs/template"}, "template_args": {"$ref": "#/$defs/template_args"}}`,
	ClassPredictEnd: `"required": ["output"], "properties": {"output": {"type": "string"}}`,
	ClassStructuredPredictStart: `"required": ["output_schema", "template"], "properties": {
      "output_schema": {"type": ["object", "boolean"]},
      "template": {"$ref": "#/$defs/template"}, "template_args": {"$ref": "#/$defs/template_args"}}`,
	ClassStructuredPredictEnd: `"required": ["output"], "properties": {"output": {"not": {"type": "null"}}}`,
	ClassCompletionStart: `"required": ["prompt", "additional_params", "model_descriptor"], "properties": {
      "prompt": {"type": "string"}, "additional_params": {"type": "object"}, "model_descriptor": {"type": "object"}}`,
	ClassCompletionEnd: `"required": ["prompt", "response"], "properties": {
      "prompt": {"type": "string"}, "response": {"$ref": "#/$defs/completion_response"}}`,
	ClassChatStart: `"required": ["messages", "additional_params", "model_descriptor"], "properties": {
      "messages": {"$ref": "#/$defs/messages"}, "additional_params": {"type": "object"}, "model_descriptor": {"type": "object"}}`,
	ClassChatInProgress: `"required": ["messages", "response"], "properties": {
      "messages": {"$ref": "#/$defs/messages"}, "response": {"$ref": "#/$defs/chat_response"}}`,
	ClassChatEnd: `"required": ["messages", "response"], "properties": {
      "messages": {"$ref": "#/$defs/messages"}, "response": {"$ref": "#/$defs/chat_response"}}`,
}

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(variantSchemas))
	for class, body := range variantSchemas {
		src := fmt.Sprintf(`{"$schema": "https://json-schema.org/draft/2020-12/schema", "type": "object", "$defs": %s, %s}`, defsJSON, body)
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
		if err != nil {
			schemaErr = err
			return
		}
		url := "mem://events/" + class + ".json"
		if err := c.AddResource(url, doc); err != nil {
			schemaErr = err
			return
		}
		sch, err := c.Compile(url)
		if err != nil {
			schemaErr = err
			return
		}
		out[class] = sch
	}
	schemas = out
}

func schemaFor(class string) (*jsonschema.Schema, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, errmodel.System("schema_compile", "event schemas failed to compile", nil, schemaErr)
	}
	sch, ok := schemas[class]
	if !ok {
		return nil, errmodel.Schema("unknown_event", "unknown event class_name", map[string]any{"class_name": class}, nil)
	}
	return sch, nil
}
