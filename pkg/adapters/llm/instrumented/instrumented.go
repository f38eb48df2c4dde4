// Package instrumented wraps an llm.LLM so every chat and completion call publishes
// instrumentation events, and adds Predict and StructuredPredict on top of prompt templates.
package instrumented

import (
	"context"
	"iter"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/instrumentation"
)

var tracer = otel.Tracer("toolagent/llm")

// LLM publishes Chat and Completion events around the wrapped model.
type LLM struct {
	inner llm.LLM
	d     *instrumentation.Dispatcher
}

var _ llm.LLM = (*LLM)(nil)

// Wrap returns inner unchanged when it is already instrumented with the same dispatcher.
func Wrap(inner llm.LLM, d *instrumentation.Dispatcher) *LLM {
	if w, ok := inner.(*LLM); ok && w.d == d {
		return w
	}
	return &LLM{inner: inner, d: d}
}

// Unwrap returns the wrapped model.
func (m *LLM) Unwrap() llm.LLM { return m.inner }

func (m *LLM) Name() string           { return m.inner.Name() }
func (m *LLM) Metadata() llm.Metadata { return m.inner.Metadata() }

func (m *LLM) publish(ctx context.Context, e instrumentation.Event, err error) {
	if err != nil {
		klog.FromContext(ctx).V(2).Info("dropping malformed llm event", "err", err)
		return
	}
	m.d.Publish(ctx, e)
}

// chatParams is the additional_params payload of a ChatStart event.
func chatParams(req llm.ChatRequest) map[string]any {
	p := maps.Clone(req.Options)
	if p == nil {
		p = map[string]any{}
	}
	if len(req.Tools) > 0 {
		names := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			names[i] = t.Name
		}
		p["tools"] = names
		choice := req.ToolChoice
		if choice == "" {
			choice = llm.ToolChoiceAuto
		}
		p["tool_choice"] = choice
	}
	return p
}

func (m *LLM) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	meta := m.inner.Metadata()
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", m.inner.Name()),
		attribute.String("llm.model", meta.Model),
	))
}

func endSpan(span trace.Span, usage llm.Usage, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if usage.TotalTokens > 0 {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", usage.PromptTokens),
			attribute.Int("llm.usage.output_tokens", usage.OutputTokens),
		)
	}
	span.End()
}

func (m *LLM) Chat(ctx context.Context, req llm.ChatRequest) (resp llm.ChatResponse, err error) {
	ctx, span := m.startSpan(ctx, "llm.chat")
	defer func() { endSpan(span, resp.Usage, err) }()

	msgs := nonNilMessages(req.Messages)
	ev, evErr := instrumentation.NewChatStartEvent(msgs, chatParams(req), m.inner.Metadata().Descriptor(), instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, ev, evErr)
	resp, err = m.inner.Chat(ctx, req)
	if err != nil {
		return resp, err
	}
	end, endErr := instrumentation.NewChatEndEvent(msgs, &resp, instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, end, endErr)
	return resp, nil
}

// StreamChat publishes one ChatInProgress per text delta and a ChatEnd once the inner
// stream completes. A consumer that stops early gets no ChatEnd.
func (m *LLM) StreamChat(ctx context.Context, req llm.ChatRequest) iter.Seq2[llm.ChatResponse, error] {
	return func(yield func(llm.ChatResponse, error) bool) {
		ctx, span := m.startSpan(ctx, "llm.stream_chat")
		var (
			last    llm.ChatResponse
			seen    bool
			failure error
		)
		defer func() { endSpan(span, last.Usage, failure) }()

		msgs := nonNilMessages(req.Messages)
		ev, evErr := instrumentation.NewChatStartEvent(msgs, chatParams(req), m.inner.Metadata().Descriptor(), instrumentation.WithSpanFrom(ctx))
		m.publish(ctx, ev, evErr)
		for resp, err := range m.inner.StreamChat(ctx, req) {
			if err != nil {
				failure = err
				yield(resp, err)
				return
			}
			if resp.Delta != "" {
				ev, evErr := instrumentation.NewChatInProgressEvent(msgs, &resp, instrumentation.WithSpanFrom(ctx))
				m.publish(ctx, ev, evErr)
			}
			last, seen = resp, true
			if !yield(resp, nil) {
				return
			}
		}
		if seen {
			ev, evErr := instrumentation.NewChatEndEvent(msgs, &last, instrumentation.WithSpanFrom(ctx))
			m.publish(ctx, ev, evErr)
		}
	}
}

func (m *LLM) Complete(ctx context.Context, prompt string, opts map[string]any) (resp llm.CompletionResponse, err error) {
	ctx, span := m.startSpan(ctx, "llm.complete")
	defer func() { endSpan(span, resp.Usage, err) }()

	params := maps.Clone(opts)
	if params == nil {
		params = map[string]any{}
	}
	ev, evErr := instrumentation.NewCompletionStartEvent(prompt, params, m.inner.Metadata().Descriptor(), instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, ev, evErr)
	resp, err = m.inner.Complete(ctx, prompt, opts)
	if err != nil {
		return resp, err
	}
	end, endErr := instrumentation.NewCompletionEndEvent(prompt, &resp, instrumentation.WithSpanFrom(ctx))
	m.publish(ctx, end, endErr)
	return resp, nil
}

func nonNilMessages(in []llm.Message) []llm.Message {
	if in == nil {
		return []llm.Message{}
	}
	return in
}
