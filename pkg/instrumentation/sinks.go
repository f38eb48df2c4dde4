package instrumentation

import (
	"context"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

// MemorySink records events in publish order.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a snapshot; events are immutable so sharing them is safe.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// ClassNames returns the discriminants of the recorded events in order.
func (m *MemorySink) ClassNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.ClassName()
	}
	return out
}

func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// LogSink writes one klog line per event at the given verbosity.
type LogSink struct {
	Level int
}

func (s LogSink) Publish(ctx context.Context, e Event) error {
	log := klog.FromContext(ctx).V(s.Level)
	if !log.Enabled() {
		return nil
	}
	b, err := Encode(e)
	if err != nil {
		return err
	}
	log.Info("llm event", "class", e.ClassName(), "span", e.SpanID(), "payload", string(b))
	return nil
}

const maxSpanPayload = 4096

// cutRunes shortens b to at most n bytes without splitting a UTF-8 sequence.
func cutRunes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return b[:n]
}

// SpanSink records events as span events on the active otel span in ctx.
type SpanSink struct{}

func (SpanSink) Publish(ctx context.Context, e Event) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	b, err := Encode(e)
	if err != nil {
		return err
	}
	b = cutRunes(b, maxSpanPayload)
	span.AddEvent(e.ClassName(), trace.WithTimestamp(e.Timestamp()), trace.WithAttributes(attribute.String("event.payload", string(b))))
	return nil
}

// AsyncSink delivers to an inner sink on a background goroutine through a bounded queue.
// Publish never blocks: when the queue is full the event is dropped and counted.
type AsyncSink struct {
	inner   Sink
	queue   chan queued
	done    chan struct{}
	dropped atomic.Int64
	closed  sync.Once
}

type queued struct {
	ctx context.Context
	e   Event
}

// NewAsyncSink starts the delivery goroutine; Close stops it after draining.
func NewAsyncSink(inner Sink, size int) *AsyncSink {
	if size <= 0 {
		size = 256
	}
	a := &AsyncSink{inner: inner, queue: make(chan queued, size), done: make(chan struct{})}
	go a.loop()
	return a
}

func (a *AsyncSink) loop() {
	defer close(a.done)
	for q := range a.queue {
		deliver(q.ctx, a.inner, q.e)
	}
}

func (a *AsyncSink) Publish(ctx context.Context, e Event) error {
	defer func() {
		// publishing after Close
		if recover() != nil {
			a.dropped.Add(1)
		}
	}()
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), e: e}:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many events were discarded.
func (a *AsyncSink) Dropped() int64 { return a.dropped.Load() }

// Close drains queued events and waits for delivery to finish.
func (a *AsyncSink) Close() {
	a.closed.Do(func() { close(a.queue) })
	<-a.done
}
