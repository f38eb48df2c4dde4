package instrumented

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/adapters/llm/fake"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/instrumentation"
	"github.com/wilhg/toolagent/pkg/prompt"
)

func setup(replies ...fake.Reply) (*LLM, *fake.LLM, *instrumentation.MemorySink) {
	sink := instrumentation.NewMemorySink()
	inner := fake.New(replies...)
	return Wrap(inner, instrumentation.NewDispatcher(sink)), inner, sink
}

func TestChat_PublishesStartAndEnd(t *testing.T) {
	m, _, sink := setup(fake.Text("hello"))
	req := llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Tools:    []llm.ToolSpec{{Name: "add"}},
	}
	if _, err := m.Chat(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	want := []string{instrumentation.ClassChatStart, instrumentation.ClassChatEnd}
	if diff := cmp.Diff(want, sink.ClassNames()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	start := sink.Events()[0].(instrumentation.ChatStartEvent)
	if start.ModelDescriptor()["model"] != "fake-fn-model" {
		t.Fatalf("model descriptor=%v", start.ModelDescriptor())
	}
	if start.AdditionalParams()["tool_choice"] != llm.ToolChoiceAuto {
		t.Fatalf("params=%v", start.AdditionalParams())
	}
	end := sink.Events()[1].(instrumentation.ChatEndEvent)
	if end.Response().Message.Content != "hello" {
		t.Fatalf("end=%+v", end.Response())
	}
}

func TestChat_ErrorPublishesOnlyStart(t *testing.T) {
	m, _, sink := setup(fake.Fail(errors.New("boom")))
	if _, err := m.Chat(context.Background(), llm.ChatRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff([]string{instrumentation.ClassChatStart}, sink.ClassNames()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestStreamChat_PublishesProgress(t *testing.T) {
	m, _, sink := setup(fake.Text("one two"))
	var text string
	for resp, err := range m.StreamChat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "count"}}}) {
		if err != nil {
			t.Fatal(err)
		}
		text += resp.Delta
	}
	if text != "one two" {
		t.Fatalf("text=%q", text)
	}
	want := []string{
		instrumentation.ClassChatStart,
		instrumentation.ClassChatInProgress,
		instrumentation.ClassChatInProgress,
		instrumentation.ClassChatEnd,
	}
	if diff := cmp.Diff(want, sink.ClassNames()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestComplete_PublishesEvents(t *testing.T) {
	m, inner, sink := setup()
	inner.Completion = func(p string) string { return "done: " + p }
	resp, err := m.Complete(context.Background(), "ping", map[string]any{"temperature": 0.0})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "done: ping" {
		t.Fatalf("resp=%+v", resp)
	}
	want := []string{instrumentation.ClassCompletionStart, instrumentation.ClassCompletionEnd}
	if diff := cmp.Diff(want, sink.ClassNames()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestWrap_Idempotent(t *testing.T) {
	d := instrumentation.NewDispatcher()
	m := Wrap(fake.New(), d)
	if Wrap(m, d) != m {
		t.Fatal("rewrapped with the same dispatcher")
	}
	if Wrap(m, instrumentation.NewDispatcher()) == m {
		t.Fatal("different dispatcher should wrap again")
	}
}

func TestPredict(t *testing.T) {
	tmpl := prompt.New("greet", "Say hello to {{.name}}.")
	m, inner, sink := setup(fake.Text("Hello, Ada!"))
	out, err := m.Predict(context.Background(), tmpl, map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello, Ada!" {
		t.Fatalf("out=%q", out)
	}
	if got := inner.Requests()[0].Messages[0].Content; got != "Say hello to Ada." {
		t.Fatalf("prompt=%q", got)
	}
	want := []string{
		instrumentation.ClassPredictStart,
		instrumentation.ClassChatStart,
		instrumentation.ClassChatEnd,
		instrumentation.ClassPredictEnd,
	}
	if diff := cmp.Diff(want, sink.ClassNames()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestPredict_CompletionModel(t *testing.T) {
	tmpl := prompt.New("echo", "echo {{.x}}")
	m, inner, _ := setup()
	inner.WithMetadata(llm.Metadata{Model: "text-model", ContextWindow: 2048})
	out, err := m.Predict(context.Background(), tmpl, map[string]any{"x": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "echo y" || len(inner.Prompts()) != 1 {
		t.Fatalf("out=%q prompts=%v", out, inner.Prompts())
	}
}

func TestPredict_MissingArgument(t *testing.T) {
	tmpl := prompt.New("greet", "Hi {{.name}}")
	m, _, _ := setup(fake.Text("unused"))
	if _, err := m.Predict(context.Background(), tmpl, nil); !errmodel.IsCategory(err, errmodel.CategorySchema) {
		t.Fatalf("want schema error, got %v", err)
	}
}

type album struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
}

func TestStructuredPredict_ToolCall(t *testing.T) {
	tmpl := prompt.New("album", "Describe {{.band}}'s first album.")
	m, inner, sink := setup(fake.Call(llm.ToolCall{ID: "1", Name: outputToolName, Arguments: `{"title":"Debut","year":1993}`}))
	got, err := StructuredPredict[album](context.Background(), m, tmpl, map[string]any{"band": "Björk"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(album{Title: "Debut", Year: 1993}, got); diff != "" {
		t.Fatalf("album (-want +got):\n%s", diff)
	}
	if tools := inner.Requests()[0].Tools; len(tools) != 1 || tools[0].Name != outputToolName {
		t.Fatalf("tools=%+v", tools)
	}
	names := sink.ClassNames()
	if names[0] != instrumentation.ClassStructuredPredictStart || names[len(names)-1] != instrumentation.ClassStructuredPredictEnd {
		t.Fatalf("events=%v", names)
	}
}

func TestStructuredPredict_FencedText(t *testing.T) {
	tmpl := prompt.New("album", "album please")
	m, _, _ := setup(fake.Text("```json\n{\"title\":\"Post\",\"year\":1995}\n```"))
	got, err := StructuredPredict[album](context.Background(), m, tmpl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Post" || got.Year != 1995 {
		t.Fatalf("got=%+v", got)
	}
}

func TestStructuredPredict_Mismatch(t *testing.T) {
	tmpl := prompt.New("album", "album please")
	m, _, sink := setup(fake.Text(`{"title":7}`))
	if _, err := StructuredPredict[album](context.Background(), m, tmpl, nil); !errmodel.IsCode(err, errmodel.CategorySchema, "output_mismatch") {
		t.Fatalf("want output_mismatch, got %v", err)
	}
	for _, n := range sink.ClassNames() {
		if n == instrumentation.ClassStructuredPredictEnd {
			t.Fatal("end event published for a failed prediction")
		}
	}
}
