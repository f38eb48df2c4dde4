package fnagent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

var tracer = otel.Tracer("toolagent/fnagent")

// Worker is the StepWorker of a function-calling agent. Each step sends the prefix messages
// and the memory window to the model; tool calls it requests are executed in the order the
// model listed them, one at a time, until the model answers in text.
type Worker struct {
	llm       llm.LLM
	tools     *agent.ToolSet
	retriever agent.ToolRetriever
	prefix    []llm.Message
	maxCalls  int
	verbose   bool
	caller    agent.ToolCaller
}

var _ agent.StepWorker = (*Worker)(nil)

// turn is the per-task state of the worker.
type turn struct {
	tools   *agent.ToolSet
	calls   int
	outputs []agent.ToolOutput
	errs    []*errmodel.Error
}

// NewWorker builds a worker. Exactly one of tools and retriever is used: a non-nil retriever
// picks the tools for every turn from the user input.
func NewWorker(model llm.LLM, tools *agent.ToolSet, retriever agent.ToolRetriever, prefix []llm.Message, maxCalls int, verbose bool, caller agent.ToolCaller) *Worker {
	return &Worker{
		llm:       model,
		tools:     tools,
		retriever: retriever,
		prefix:    llm.CloneMessages(prefix),
		maxCalls:  maxCalls,
		verbose:   verbose,
		caller:    caller,
	}
}

// PrefixMessages returns a copy of the messages prepended to every model call.
func (w *Worker) PrefixMessages() []llm.Message { return llm.CloneMessages(w.prefix) }

func (w *Worker) logger(ctx context.Context) klog.Logger {
	if w.verbose {
		return klog.FromContext(ctx)
	}
	return klog.FromContext(ctx).V(2)
}

func (w *Worker) Initialize(ctx context.Context, task *agent.Task) error {
	tools := w.tools
	if w.retriever != nil {
		found, err := w.retriever.Retrieve(ctx, task.Input)
		if err != nil {
			return err
		}
		if tools, err = agent.NewToolSet(found...); err != nil {
			return err
		}
	}
	task.WorkerState = &turn{tools: tools}
	return nil
}

func (w *Worker) Step(ctx context.Context, task *agent.Task) (agent.StepOutput, error) {
	st, ok := task.WorkerState.(*turn)
	if !ok {
		return agent.StepOutput{}, errmodel.System("not_initialized", "step called on a task the worker did not initialize", map[string]any{"task": task.ID}, nil)
	}
	if err := task.Transition(agent.StateLLMCall); err != nil {
		return agent.StepOutput{}, err
	}
	log := w.logger(ctx)

	window, err := task.Memory.Get(ctx)
	if err != nil {
		return agent.StepOutput{}, err
	}
	req := llm.ChatRequest{Messages: append(llm.CloneMessages(w.prefix), window...)}
	if specs := st.tools.Specs(); len(specs) > 0 {
		req.Tools = specs
		req.ToolChoice = llm.ToolChoiceAuto
		if st.calls >= w.maxCalls {
			req.ToolChoice = llm.ToolChoiceNone
		}
	}

	resp, err := w.chat(ctx, task, req)
	if err != nil {
		return agent.StepOutput{}, err
	}
	msg := resp.Message
	msg.Role = llm.RoleAssistant

	if len(msg.ToolCalls) == 0 {
		log.Info("final answer", "task", task.ID, "tool_calls", st.calls)
		return w.done(st, msg, false), nil
	}

	if st.calls+len(msg.ToolCalls) > w.maxCalls {
		log.Info("tool call budget exhausted", "task", task.ID, "requested", len(msg.ToolCalls), "used", st.calls, "max", w.maxCalls)
		st.errs = append(st.errs, errmodel.Tool("budget_exhausted", "tool call budget for this turn is exhausted", map[string]any{
			"max_function_calls": w.maxCalls,
			"used":               st.calls,
			"requested":          len(msg.ToolCalls),
		}, nil))
		text := msg.Content
		if text == "" {
			text = fmt.Sprintf("Stopped: the limit of %d tool calls for this turn was reached before an answer was produced.", w.maxCalls)
			if task.Streaming() {
				task.OnDelta(text)
			}
		}
		return w.done(st, llm.Message{Role: llm.RoleAssistant, Content: text}, true), nil
	}

	if err := task.Transition(agent.StateToolCall); err != nil {
		return agent.StepOutput{}, err
	}
	if err := task.Memory.Put(ctx, msg); err != nil {
		return agent.StepOutput{}, err
	}
	for _, call := range msg.ToolCalls {
		out, err := w.callTool(ctx, st, call)
		if err != nil {
			return agent.StepOutput{}, err
		}
		st.calls++
		st.outputs = append(st.outputs, out)
		if out.Error != nil {
			st.errs = append(st.errs, out.Error)
		}
		log.Info("tool called", "task", task.ID, "tool", call.Name, "args", call.Arguments, "failed", out.Error != nil)
		if err := task.Memory.Put(ctx, out.Message()); err != nil {
			return agent.StepOutput{}, err
		}
	}
	return agent.StepOutput{}, nil
}

func (w *Worker) callTool(ctx context.Context, st *turn, call llm.ToolCall) (agent.ToolOutput, error) {
	ctx, span := tracer.Start(ctx, "tool."+call.Name, trace.WithAttributes(attribute.String("tool.call_id", call.ID)))
	defer span.End()
	out, err := w.caller.Call(ctx, st.tools, call)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// chat calls the model, streaming when the task asked for it. Tool calls are only read from
// the final, reassembled response.
func (w *Worker) chat(ctx context.Context, task *agent.Task, req llm.ChatRequest) (llm.ChatResponse, error) {
	if !task.Streaming() {
		return w.llm.Chat(ctx, req)
	}
	var (
		last llm.ChatResponse
		seen bool
	)
	for resp, err := range w.llm.StreamChat(ctx, req) {
		if err != nil {
			return llm.ChatResponse{}, err
		}
		if resp.Delta != "" {
			task.OnDelta(resp.Delta)
		}
		last, seen = resp, true
	}
	if !seen {
		return llm.ChatResponse{}, errmodel.Provider("empty_stream", "model stream ended without a response", map[string]any{"provider": w.llm.Name()}, nil)
	}
	return last, nil
}

func (w *Worker) done(st *turn, msg llm.Message, exhausted bool) agent.StepOutput {
	return agent.StepOutput{
		Done:    true,
		Message: msg,
		Response: &agent.Response{
			Text:            msg.Content,
			Tools:           st.outputs,
			Errors:          st.errs,
			BudgetExhausted: exhausted,
		},
	}
}
