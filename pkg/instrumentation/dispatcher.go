package instrumentation

import (
	"context"
	"slices"
	"sync"

	"k8s.io/klog/v2"
)

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type subscription struct {
	id   int
	sink Sink
}

// Dispatcher fans events out to its subscribed sinks in subscription order.
// Publish never fails the caller: sink errors are logged and sink panics recovered.
// A nil *Dispatcher drops everything.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// NewDispatcher returns a dispatcher already subscribed to sinks.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{}
	for _, s := range sinks {
		d.Subscribe(s)
	}
	return d
}

// Subscribe adds a sink and returns a function that removes it again.
func (d *Dispatcher) Subscribe(s Sink) (unsubscribe func()) {
	if d == nil || s == nil {
		return func() {}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, sink: s})
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.subs = slices.DeleteFunc(d.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Len reports the number of subscribed sinks.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Publish hands e to every sink synchronously. Slow sinks should be wrapped in NewAsyncSink.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if d == nil || e == nil {
		return
	}
	d.mu.RLock()
	subs := slices.Clone(d.subs)
	d.mu.RUnlock()
	for _, s := range subs {
		deliver(ctx, s.sink, e)
	}
}

func deliver(ctx context.Context, s Sink, e Event) {
	log := klog.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error(nil, "event sink panicked", "event", e.ClassName(), "panic", r)
		}
	}()
	if err := s.Publish(ctx, e); err != nil {
		log.V(2).Info("event sink failed", "event", e.ClassName(), "err", err)
	}
}
