// Package instrumentation defines the typed events published around LLM calls and the
// dispatcher that fans them out to sinks.
//
// Events are immutable: fields are unexported and accessors return copies. Each variant
// reports a constant discriminant through ClassName, which Encode writes as "class_name"
// and Decode uses to route a payload back to its type.
package instrumentation

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/prompt"
)

// Discriminants.
const (
	ClassPredictStart           = "LLMPredictStartEvent"
	ClassPredictEnd             = "LLMPredictEndEvent"
	ClassStructuredPredictStart = "LLMStructuredPredictStartEvent"
	ClassStructuredPredictEnd   = "LLMStructuredPredictEndEvent"
	ClassCompletionStart        = "LLMCompletionStartEvent"
	ClassCompletionEnd          = "LLMCompletionEndEvent"
	ClassChatStart              = "LLMChatStartEvent"
	ClassChatInProgress         = "LLMChatInProgressEvent"
	ClassChatEnd                = "LLMChatEndEvent"
)

// Event is one observable moment of an LLM interaction.
type Event interface {
	ClassName() string
	Timestamp() time.Time
	// SpanID is the otel span the event was emitted under, or "".
	SpanID() string
}

// Option sets ambient metadata on a new event.
type Option func(*base)

// WithTimestamp overrides the creation time (defaults to time.Now().UTC()).
func WithTimestamp(ts time.Time) Option { return func(b *base) { b.ts = ts.UTC() } }

// WithSpanID records the span the event belongs to.
func WithSpanID(id string) Option { return func(b *base) { b.spanID = id } }

// WithSpanFrom records the span id of the active span in ctx, if any.
func WithSpanFrom(ctx context.Context) Option {
	return func(b *base) {
		if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
			b.spanID = sc.SpanID().String()
		}
	}
}

type base struct {
	ts     time.Time
	spanID string
}

func newBase(opts []Option) base {
	b := base{ts: time.Now().UTC()}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b base) Timestamp() time.Time { return b.ts }
func (b base) SpanID() string       { return b.spanID }

func missing(class, field string) error {
	return errmodel.Schema("missing_field", "required event field is missing", map[string]any{"event": class, "field": field}, nil)
}

func cloneTemplate(t prompt.Template) prompt.Template {
	t.Meta = maps.Clone(t.Meta)
	return t
}

func cloneResponse(r llm.ChatResponse) llm.ChatResponse {
	r.Message = r.Message.Clone()
	return r
}

// PredictStartEvent: a template is about to be rendered and sent to the model.
type PredictStartEvent struct {
	base
	template prompt.Template
	args     map[string]any
}

// NewPredictStartEvent requires a template; args may be nil.
func NewPredictStartEvent(tmpl *prompt.Template, args map[string]any, opts ...Option) (PredictStartEvent, error) {
	if tmpl == nil {
		return PredictStartEvent{}, missing(ClassPredictStart, "template")
	}
	return PredictStartEvent{base: newBase(opts), template: cloneTemplate(*tmpl), args: maps.Clone(args)}, nil
}

func (PredictStartEvent) ClassName() string            { return ClassPredictStart }
func (e PredictStartEvent) Template() prompt.Template   { return cloneTemplate(e.template) }
func (e PredictStartEvent) TemplateArgs() map[string]any { return maps.Clone(e.args) }

// PredictEndEvent carries the text returned by a predict call.
type PredictEndEvent struct {
	base
	output string
}

func NewPredictEndEvent(output string, opts ...Option) (PredictEndEvent, error) {
	return PredictEndEvent{base: newBase(opts), output: output}, nil
}

func (PredictEndEvent) ClassName() string { return ClassPredictEnd }
func (e PredictEndEvent) Output() string  { return e.output }

// StructuredPredictStartEvent: a structured predict call with the JSON schema of the
// expected output.
type StructuredPredictStartEvent struct {
	base
	schema   json.RawMessage
	template prompt.Template
	args     map[string]any
}

func NewStructuredPredictStartEvent(outputSchema json.RawMessage, tmpl *prompt.Template, args map[string]any, opts ...Option) (StructuredPredictStartEvent, error) {
	if outputSchema == nil {
		return StructuredPredictStartEvent{}, missing(ClassStructuredPredictStart, "output_schema")
	}
	if !json.Valid(outputSchema) {
		return StructuredPredictStartEvent{}, errmodel.Schema("invalid_field", "output schema is not valid JSON", map[string]any{"event": ClassStructuredPredictStart, "field": "output_schema"}, nil)
	}
	if tmpl == nil {
		return StructuredPredictStartEvent{}, missing(ClassStructuredPredictStart, "template")
	}
	return StructuredPredictStartEvent{
		base:     newBase(opts),
		schema:   append(json.RawMessage(nil), outputSchema...),
		template: cloneTemplate(*tmpl),
		args:     maps.Clone(args),
	}, nil
}

func (StructuredPredictStartEvent) ClassName() string              { return ClassStructuredPredictStart }
func (e StructuredPredictStartEvent) OutputSchema() json.RawMessage { return append(json.RawMessage(nil), e.schema...) }
func (e StructuredPredictStartEvent) Template() prompt.Template     { return cloneTemplate(e.template) }
func (e StructuredPredictStartEvent) TemplateArgs() map[string]any  { return maps.Clone(e.args) }

// StructuredPredictEndEvent carries the structured record, frozen as JSON at construction.
type StructuredPredictEndEvent struct {
	base
	output json.RawMessage
}

func NewStructuredPredictEndEvent(output any, opts ...Option) (StructuredPredictEndEvent, error) {
	if output == nil {
		return StructuredPredictEndEvent{}, missing(ClassStructuredPredictEnd, "output")
	}
	b, err := json.Marshal(output)
	if err != nil {
		return StructuredPredictEndEvent{}, errmodel.Schema("invalid_field", "structured output is not JSON serializable", map[string]any{"event": ClassStructuredPredictEnd, "field": "output"}, err)
	}
	if string(b) == "null" {
		return StructuredPredictEndEvent{}, missing(ClassStructuredPredictEnd, "output")
	}
	return StructuredPredictEndEvent{base: newBase(opts), output: b}, nil
}

func (StructuredPredictEndEvent) ClassName() string        { return ClassStructuredPredictEnd }
func (e StructuredPredictEndEvent) Output() json.RawMessage { return append(json.RawMessage(nil), e.output...) }

// DecodeOutput unmarshals the structured record into v.
func (e StructuredPredictEndEvent) DecodeOutput(v any) error { return json.Unmarshal(e.output, v) }

// CompletionStartEvent: a plain completion is about to be requested.
type CompletionStartEvent struct {
	base
	prompt string
	params map[string]any
	model  map[string]any
}

// NewCompletionStartEvent requires non-nil params and model descriptor; empty maps are fine.
func NewCompletionStartEvent(prompt string, params, model map[string]any, opts ...Option) (CompletionStartEvent, error) {
	if params == nil {
		return CompletionStartEvent{}, missing(ClassCompletionStart, "additional_params")
	}
	if model == nil {
		return CompletionStartEvent{}, missing(ClassCompletionStart, "model_descriptor")
	}
	return CompletionStartEvent{base: newBase(opts), prompt: prompt, params: maps.Clone(params), model: maps.Clone(model)}, nil
}

func (CompletionStartEvent) ClassName() string                 { return ClassCompletionStart }
func (e CompletionStartEvent) Prompt() string                  { return e.prompt }
func (e CompletionStartEvent) AdditionalParams() map[string]any { return maps.Clone(e.params) }
func (e CompletionStartEvent) ModelDescriptor() map[string]any  { return maps.Clone(e.model) }

// CompletionEndEvent carries the completion response.
type CompletionEndEvent struct {
	base
	prompt   string
	response llm.CompletionResponse
}

func NewCompletionEndEvent(prompt string, resp *llm.CompletionResponse, opts ...Option) (CompletionEndEvent, error) {
	if resp == nil {
		return CompletionEndEvent{}, missing(ClassCompletionEnd, "response")
	}
	return CompletionEndEvent{base: newBase(opts), prompt: prompt, response: *resp}, nil
}

func (CompletionEndEvent) ClassName() string                  { return ClassCompletionEnd }
func (e CompletionEndEvent) Prompt() string                   { return e.prompt }
func (e CompletionEndEvent) Response() llm.CompletionResponse { return e.response }

// ChatStartEvent: a chat call is about to be sent.
type ChatStartEvent struct {
	base
	messages []llm.Message
	params   map[string]any
	model    map[string]any
}

// NewChatStartEvent requires non-nil messages, params and model descriptor.
func NewChatStartEvent(messages []llm.Message, params, model map[string]any, opts ...Option) (ChatStartEvent, error) {
	if messages == nil {
		return ChatStartEvent{}, missing(ClassChatStart, "messages")
	}
	if params == nil {
		return ChatStartEvent{}, missing(ClassChatStart, "additional_params")
	}
	if model == nil {
		return ChatStartEvent{}, missing(ClassChatStart, "model_descriptor")
	}
	return ChatStartEvent{base: newBase(opts), messages: llm.CloneMessages(messages), params: maps.Clone(params), model: maps.Clone(model)}, nil
}

func (ChatStartEvent) ClassName() string                 { return ClassChatStart }
func (e ChatStartEvent) Messages() []llm.Message         { return llm.CloneMessages(e.messages) }
func (e ChatStartEvent) AdditionalParams() map[string]any { return maps.Clone(e.params) }
func (e ChatStartEvent) ModelDescriptor() map[string]any  { return maps.Clone(e.model) }

// ChatInProgressEvent carries one streamed chunk; Response().Delta is the newest text.
type ChatInProgressEvent struct {
	base
	messages []llm.Message
	partial  llm.ChatResponse
}

func NewChatInProgressEvent(messages []llm.Message, partial *llm.ChatResponse, opts ...Option) (ChatInProgressEvent, error) {
	if messages == nil {
		return ChatInProgressEvent{}, missing(ClassChatInProgress, "messages")
	}
	if partial == nil {
		return ChatInProgressEvent{}, missing(ClassChatInProgress, "response")
	}
	return ChatInProgressEvent{base: newBase(opts), messages: llm.CloneMessages(messages), partial: cloneResponse(*partial)}, nil
}

func (ChatInProgressEvent) ClassName() string           { return ClassChatInProgress }
func (e ChatInProgressEvent) Messages() []llm.Message   { return llm.CloneMessages(e.messages) }
func (e ChatInProgressEvent) Response() llm.ChatResponse { return cloneResponse(e.partial) }

// ChatEndEvent carries the full chat response.
type ChatEndEvent struct {
	base
	messages []llm.Message
	response llm.ChatResponse
}

func NewChatEndEvent(messages []llm.Message, resp *llm.ChatResponse, opts ...Option) (ChatEndEvent, error) {
	if messages == nil {
		return ChatEndEvent{}, missing(ClassChatEnd, "messages")
	}
	if resp == nil {
		return ChatEndEvent{}, missing(ClassChatEnd, "response")
	}
	return ChatEndEvent{base: newBase(opts), messages: llm.CloneMessages(messages), response: cloneResponse(*resp)}, nil
}

func (ChatEndEvent) ClassName() string           { return ClassChatEnd }
func (e ChatEndEvent) Messages() []llm.Message   { return llm.CloneMessages(e.messages) }
func (e ChatEndEvent) Response() llm.ChatResponse { return cloneResponse(e.response) }
