package otel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(ctx, Config{ServiceVersion: "test", UseStdout: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	_, span := otel.Tracer("test").Start(ctx, "Runner.Chat")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Runner.Chat") || !strings.Contains(out, DefaultServiceName) {
		t.Fatalf("exporter output missing span or service name:\n%s", out)
	}
}
