package runtime

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wilhg/toolagent/pkg/memory"
)

func TestRunner_RecordsTurnSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	r := NewRunner(&scriptWorker{answer: "a", failAt: -1}, memory.NewBuffer())
	if _, err := r.Chat(context.Background(), "q", nil); err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, s := range rec.Ended() {
		if s.Name() == "Runner.Chat" {
			found = true
			for _, a := range s.Attributes() {
				if a.Key == "task.state" && a.Value.AsString() != "DONE" {
					t.Fatalf("task.state=%s", a.Value.AsString())
				}
			}
		}
	}
	if !found {
		t.Fatal("Runner.Chat span not recorded")
	}
}
