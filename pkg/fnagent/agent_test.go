package fnagent

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wilhg/toolagent/pkg/adapters/embedding/fake"
	"github.com/wilhg/toolagent/pkg/adapters/llm"
	fakellm "github.com/wilhg/toolagent/pkg/adapters/llm/fake"
	"github.com/wilhg/toolagent/pkg/adapters/vectorstore/memory"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/instrumentation"
	"github.com/wilhg/toolagent/pkg/store"
	"github.com/wilhg/toolagent/pkg/toolindex"
)

type addIn struct {
	A int `json:"a"`
	B int `json:"b"`
}

func addTool(t *testing.T) agent.Tool {
	t.Helper()
	tool, err := agent.NewFunctionTool("add", "adds two integers", func(_ context.Context, in addIn) (int, error) {
		return in.A + in.B, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tool
}

func failingTool(t *testing.T) agent.Tool {
	t.Helper()
	tool, err := agent.NewFunctionTool("flaky", "always fails", func(_ context.Context, _ struct{}) (string, error) {
		return "", errors.New("backend unavailable")
	})
	if err != nil {
		t.Fatal(err)
	}
	return tool
}

func newAgent(t *testing.T, model llm.LLM, opts ...Option) *Agent {
	t.Helper()
	a, err := FromDefaults(context.Background(), append([]Option{WithLLM(model)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFromDefaults_SystemPrompt(t *testing.T) {
	a := newAgent(t, fakellm.New(), WithSystemPrompt("You are terse."))
	want := []llm.Message{{Role: llm.RoleSystem, Content: "You are terse."}}
	if diff := cmp.Diff(want, a.PrefixMessages()); diff != "" {
		t.Fatalf("prefix (-want +got):\n%s", diff)
	}
}

func TestFromDefaults_ConflictingPrefix(t *testing.T) {
	// an empty system prompt still counts as set
	for _, system := range []string{"a", ""} {
		_, err := FromDefaults(context.Background(),
			WithLLM(fakellm.New()),
			WithSystemPrompt(system),
			WithPrefixMessages(llm.Message{Role: llm.RoleSystem, Content: "b"}),
		)
		if !errmodel.IsCode(err, errmodel.CategoryConfiguration, "conflicting_prefix") {
			t.Fatalf("system prompt %q: want conflicting_prefix, got %v", system, err)
		}
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	textOnly := fakellm.New().WithMetadata(llm.Metadata{Model: "text-davinci-003", ContextWindow: 4096})
	idx := toolindex.New(fake.New(32), memory.New())
	cases := map[string][]Option{
		"not function calling": {WithLLM(textOnly)},
		"zero budget":          {WithLLM(fakellm.New()), WithMaxFunctionCalls(0)},
		"duplicate tools":      {WithLLM(fakellm.New()), WithTools(addTool(t), addTool(t))},
		"tools and retriever":  {WithLLM(fakellm.New()), WithTools(addTool(t)), WithToolRetriever(idx)},
		"unknown provider":     {WithProvider("nope", nil)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromDefaults(context.Background(), opts...)
			if !errmodel.IsCategory(err, errmodel.CategoryConfiguration) {
				t.Fatalf("want configuration error, got %v", err)
			}
		})
	}
	if _, err := New(Config{LLM: fakellm.New(), MaxFunctionCalls: 1}); !errmodel.IsCode(err, errmodel.CategoryConfiguration, "missing_memory") {
		t.Fatalf("want missing_memory, got %v", err)
	}
}

func TestAgent_ChatWithoutTools(t *testing.T) {
	ctx := context.Background()
	model := fakellm.New(fakellm.Text("Hi"))
	a := newAgent(t, model)

	resp, err := a.Chat(ctx, "Hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "Hi" {
		t.Fatalf("text=%q", resp.Text)
	}
	wantStates := []agent.State{agent.StateAwaitingInput, agent.StateLLMCall, agent.StateDone}
	if diff := cmp.Diff(wantStates, resp.States); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
	hist, err := a.ChatHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantHist := []llm.Message{{Role: llm.RoleUser, Content: "Hello"}, {Role: llm.RoleAssistant, Content: "Hi"}}
	if diff := cmp.Diff(wantHist, hist); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
	if reqs := model.Requests(); len(reqs) != 1 || len(reqs[0].Tools) != 0 {
		t.Fatalf("requests=%+v", reqs)
	}
}

func TestAgent_PrefixNotStored(t *testing.T) {
	ctx := context.Background()
	model := fakellm.New(fakellm.Text("ok"))
	a := newAgent(t, model, WithSystemPrompt("be brief"))
	if _, err := a.Chat(ctx, "q", nil); err != nil {
		t.Fatal(err)
	}
	sent := model.Requests()[0].Messages
	if len(sent) != 2 || sent[0].Role != llm.RoleSystem || sent[1].Content != "q" {
		t.Fatalf("sent=%+v", sent)
	}
	hist, _ := a.ChatHistory(ctx)
	if len(hist) != 2 || hist[0].Role != llm.RoleUser {
		t.Fatalf("history=%+v", hist)
	}
}

func TestAgent_ToolRound(t *testing.T) {
	ctx := context.Background()
	model := fakellm.New(
		fakellm.Call(llm.ToolCall{ID: "call_1", Name: "add", Arguments: `{"a":2,"b":3}`}),
		fakellm.Text("2 + 3 = 5"),
	)
	a := newAgent(t, model, WithTools(addTool(t)))

	resp, err := a.Chat(ctx, "what is 2+3?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "2 + 3 = 5" || len(resp.Tools) != 1 || len(resp.Errors) != 0 {
		t.Fatalf("resp=%+v", resp)
	}
	if got := resp.Tools[0].Output["result"]; got != float64(5) {
		t.Fatalf("tool output=%v", resp.Tools[0].Output)
	}
	wantStates := []agent.State{agent.StateAwaitingInput, agent.StateLLMCall, agent.StateToolCall, agent.StateLLMCall, agent.StateDone}
	if diff := cmp.Diff(wantStates, resp.States); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
	hist, _ := a.ChatHistory(ctx)
	roles := make([]llm.Role, len(hist))
	for i, m := range hist {
		roles[i] = m.Role
	}
	wantRoles := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}
	if diff := cmp.Diff(wantRoles, roles); diff != "" {
		t.Fatalf("roles (-want +got):\n%s", diff)
	}
	if hist[2].ToolCallID != "call_1" || !strings.Contains(hist[2].Content, "5") {
		t.Fatalf("tool message=%+v", hist[2])
	}
	reqs := model.Requests()
	if len(reqs[0].Tools) != 1 || reqs[0].ToolChoice != llm.ToolChoiceAuto {
		t.Fatalf("first request=%+v", reqs[0])
	}
}

func TestAgent_BudgetExhausted(t *testing.T) {
	ctx := context.Background()
	model := fakellm.New(
		fakellm.Call(llm.ToolCall{ID: "c1", Name: "add", Arguments: `{"a":1,"b":1}`}),
		fakellm.Call(llm.ToolCall{ID: "c2", Name: "add", Arguments: `{"a":2,"b":2}`}),
	)
	a := newAgent(t, model, WithTools(addTool(t)), WithMaxFunctionCalls(1))

	resp, err := a.Chat(ctx, "keep adding", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.BudgetExhausted || len(resp.Tools) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Code != "budget_exhausted" {
		t.Fatalf("errors=%+v", resp.Errors)
	}
	reqs := model.Requests()
	if len(reqs) != 2 || reqs[1].ToolChoice != llm.ToolChoiceNone {
		t.Fatalf("requests=%+v", reqs)
	}
	hist, _ := a.ChatHistory(ctx)
	last := hist[len(hist)-1]
	if last.Role != llm.RoleAssistant || len(last.ToolCalls) != 0 || last.Content == "" {
		t.Fatalf("last message=%+v", last)
	}
	for _, m := range hist {
		for _, c := range m.ToolCalls {
			if c.ID == "c2" {
				t.Fatal("unexecuted call stored in history")
			}
		}
	}
}

func TestAgent_ToolErrorIsDegraded(t *testing.T) {
	ctx := context.Background()
	model := fakellm.New(
		fakellm.Call(
			llm.ToolCall{ID: "c1", Name: "flaky", Arguments: `{}`},
			llm.ToolCall{ID: "c2", Name: "missing", Arguments: `{}`},
		),
		fakellm.Text("sorry, the tools failed"),
	)
	a := newAgent(t, model, WithTools(failingTool(t)))

	resp, err := a.Chat(ctx, "try", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("errors=%+v", resp.Errors)
	}
	for _, e := range resp.Errors {
		if e.Category != errmodel.CategoryTool {
			t.Fatalf("error=%+v", e)
		}
	}
	sent := model.Requests()[1].Messages
	if !strings.Contains(sent[len(sent)-2].Content, "error") {
		t.Fatalf("tool message=%+v", sent[len(sent)-2])
	}
}

func TestAgent_PolicyDeniedTool(t *testing.T) {
	ctx := context.Background()
	guarded, err := agent.NewFunctionTool("fetch", "fetches a url", func(_ context.Context, _ struct{}) (string, error) {
		return "body", nil
	}, agent.ToolPermission{Name: "network:outbound"})
	if err != nil {
		t.Fatal(err)
	}
	model := fakellm.New(fakellm.Call(llm.ToolCall{ID: "c1", Name: "fetch", Arguments: `{}`}), fakellm.Text("denied"))
	a := newAgent(t, model, WithTools(guarded), WithAllowedPermissions("fs:read"))
	resp, err := a.Chat(ctx, "fetch it", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Category != errmodel.CategoryPolicy {
		t.Fatalf("errors=%+v", resp.Errors)
	}
}

func TestAgent_MalformedArgumentsFailTurn(t *testing.T) {
	ctx := context.Background()
	model := fakellm.New(fakellm.Call(llm.ToolCall{ID: "c1", Name: "add", Arguments: `{"a":`}))
	a := newAgent(t, model, WithTools(addTool(t)))
	_, err := a.Chat(ctx, "add", nil)
	if !errmodel.IsCategory(err, errmodel.CategorySchema) {
		t.Fatalf("want schema error, got %v", err)
	}
	hist, _ := a.ChatHistory(ctx)
	if len(hist) == 0 || hist[0].Content != "add" {
		t.Fatalf("history=%+v", hist)
	}
}

func TestAgent_ProviderErrorKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	boom := errmodel.Provider("upstream", "rate limited", nil, nil)
	a := newAgent(t, fakellm.New(fakellm.Fail(boom)))
	if _, err := a.Chat(ctx, "hi", nil); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	hist, _ := a.ChatHistory(ctx)
	if diff := cmp.Diff([]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, hist); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
}

func TestAgent_ResetAndHistorySnapshot(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, fakellm.New(fakellm.Text("one"), fakellm.Text("two")))
	if _, err := a.Chat(ctx, "first", nil); err != nil {
		t.Fatal(err)
	}
	h1, _ := a.ChatHistory(ctx)
	h2, _ := a.ChatHistory(ctx)
	if diff := cmp.Diff(h1, h2); diff != "" {
		t.Fatalf("history not idempotent:\n%s", diff)
	}
	if _, err := a.Chat(ctx, "second", nil); err != nil {
		t.Fatal(err)
	}
	if len(h1) != 2 {
		t.Fatalf("snapshot changed: %+v", h1)
	}
	if err := a.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	h3, _ := a.ChatHistory(ctx)
	if len(h3) != 0 {
		t.Fatalf("history after reset=%+v", h3)
	}
}

func TestAgent_ChatHistoryArgumentReplacesMemory(t *testing.T) {
	ctx := context.Background()
	model := fakellm.New(fakellm.Text("fine"))
	a := newAgent(t, model, WithChatHistory([]llm.Message{{Role: llm.RoleUser, Content: "seed"}}))
	prior := []llm.Message{{Role: llm.RoleUser, Content: "earlier"}, {Role: llm.RoleAssistant, Content: "noted"}}
	if _, err := a.Chat(ctx, "now", prior); err != nil {
		t.Fatal(err)
	}
	hist, _ := a.ChatHistory(ctx)
	if len(hist) != 4 || hist[0].Content != "earlier" {
		t.Fatalf("history=%+v", hist)
	}
}

func TestAgent_StreamChat(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, fakellm.New(fakellm.Text("streamed reply here")))
	s, err := a.StreamChat(ctx, "go", nil)
	if err != nil {
		t.Fatal(err)
	}
	var chunks []string
	for d := range s.Deltas() {
		chunks = append(chunks, d)
	}
	resp, err := s.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(chunks, "") != "streamed reply here" || len(chunks) != 3 {
		t.Fatalf("chunks=%q", chunks)
	}
	if resp.Text != "streamed reply here" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestAgent_AChat(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, fakellm.New(fakellm.Text("later")))
	resp, err := a.AChat(ctx, "hi", nil).Wait(ctx)
	if err != nil || resp.Text != "later" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
	s, err := a.AStreamChat(ctx, "again", nil).Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Wait(ctx); !errors.Is(err, fakellm.ErrScriptExhausted) {
		t.Fatalf("want script exhausted, got %v", err)
	}
}

func TestAgent_ToolRetriever(t *testing.T) {
	ctx := context.Background()
	weather, err := agent.NewFunctionTool("weather", "current weather forecast for a city", func(_ context.Context, in struct {
		City string `json:"city"`
	}) (string, error) {
		return "sunny in " + in.City, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	idx := toolindex.New(fake.New(64), memory.New(), toolindex.WithTopK(1))
	if err := idx.Add(ctx, weather, addTool(t)); err != nil {
		t.Fatal(err)
	}
	model := fakellm.New(fakellm.Text("it is sunny"))
	a := newAgent(t, model, WithToolRetriever(idx))
	if _, err := a.Chat(ctx, "what is the weather forecast in Oslo", nil); err != nil {
		t.Fatal(err)
	}
	tools := model.Requests()[0].Tools
	if len(tools) != 1 || tools[0].Name != "weather" {
		t.Fatalf("tools=%+v", tools)
	}
}

func TestAgent_DispatcherEvents(t *testing.T) {
	ctx := context.Background()
	sink := instrumentation.NewMemorySink()
	d := instrumentation.NewDispatcher(sink)
	model := fakellm.New(
		fakellm.Call(llm.ToolCall{ID: "c1", Name: "add", Arguments: `{"a":1,"b":2}`}),
		fakellm.Text("3"),
	)
	a := newAgent(t, model, WithTools(addTool(t)), WithDispatcher(d))
	if _, err := a.Chat(ctx, "1+2", nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"LLMChatStartEvent", "LLMChatEndEvent", "LLMChatStartEvent", "LLMChatEndEvent"}
	if diff := cmp.Diff(want, sink.ClassNames()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if !slices.Contains(sink.ClassNames(), "LLMChatEndEvent") {
		t.Fatal("missing end event")
	}
}

func TestAgent_TranscriptSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite:file:transcript?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	first := newAgent(t, fakellm.New(fakellm.Text("noted")), WithTranscript(st, "s1"))
	if _, err := first.Chat(ctx, "my name is Ada", nil); err != nil {
		t.Fatal(err)
	}

	model := fakellm.New(fakellm.Text("Ada"))
	second := newAgent(t, model, WithTranscript(st, "s1"))
	if _, err := second.Chat(ctx, "what is my name?", nil); err != nil {
		t.Fatal(err)
	}
	sent := model.Requests()[0].Messages
	if len(sent) != 3 || sent[0].Content != "my name is Ada" {
		t.Fatalf("restored context not sent: %+v", sent)
	}
	stored, err := st.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 {
		t.Fatalf("stored=%d want 4", len(stored))
	}
}
