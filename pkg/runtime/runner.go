// Package runtime drives a StepWorker through user turns.
//
// One loop implementation serves every entry point. Chat runs it inline on the caller's
// goroutine, AChat on a new goroutine behind a Future, and the streaming variants on a new
// goroutine feeding a StreamingResponse. A Runner is not safe for concurrent turns: the
// caller must serialize Chat calls on the same Runner.
package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// DefaultMaxSteps bounds the steps of one turn independently of the worker's own budget.
const DefaultMaxSteps = 64

var tracer = otel.Tracer("toolagent/runtime")

// Runner coordinates a StepWorker and the Memory it reads and writes.
type Runner struct {
	worker   agent.StepWorker
	memory   agent.Memory
	maxSteps int
}

// RunnerOption configures the Runner at construction time.
type RunnerOption func(*Runner)

// WithMaxSteps caps the number of worker steps per turn. Values <= 0 keep the default.
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// NewRunner constructs a new Runner.
func NewRunner(w agent.StepWorker, mem agent.Memory, opts ...RunnerOption) *Runner {
	rn := &Runner{worker: w, memory: mem, maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(rn)
	}
	return rn
}

// Memory returns the runner's memory.
func (r *Runner) Memory() agent.Memory { return r.memory }

// Chat runs one turn and blocks until it reaches DONE or FAILED.
// A non-nil history replaces the memory contents before the turn starts.
func (r *Runner) Chat(ctx context.Context, message string, history []llm.Message) (*agent.Response, error) {
	return r.run(ctx, message, history, nil)
}

// AChat runs one turn on its own goroutine.
func (r *Runner) AChat(ctx context.Context, message string, history []llm.Message) *Future[*agent.Response] {
	return goFuture(func() (*agent.Response, error) {
		return r.run(ctx, message, history, nil)
	})
}

// StreamChat starts one turn on its own goroutine and returns a handle yielding the model's
// text as it arrives. Tool calls are resolved only after each model response is complete.
func (r *Runner) StreamChat(ctx context.Context, message string, history []llm.Message) (*StreamingResponse, error) {
	if err := validateMessage(message); err != nil {
		return nil, err
	}
	s := newStreamingResponse()
	go func() {
		resp, err := r.run(ctx, message, history, s.push)
		s.finish(resp, err)
	}()
	return s, nil
}

// AStreamChat is StreamChat behind a Future.
func (r *Runner) AStreamChat(ctx context.Context, message string, history []llm.Message) *Future[*StreamingResponse] {
	return goFuture(func() (*StreamingResponse, error) {
		return r.StreamChat(ctx, message, history)
	})
}

// Reset clears the memory.
func (r *Runner) Reset(ctx context.Context) error { return r.memory.Reset(ctx) }

// ChatHistory returns a snapshot of the full history.
func (r *Runner) ChatHistory(ctx context.Context) ([]llm.Message, error) {
	return r.memory.GetAll(ctx)
}

func validateMessage(message string) error {
	if message == "" {
		return errmodel.Validation("empty_message", "chat message is empty", nil)
	}
	return nil
}

// run is the turn loop shared by every entry point. Memory is never rolled back: a failed
// turn leaves whatever the loop had committed before the failure.
func (r *Runner) run(ctx context.Context, message string, history []llm.Message, onDelta func(string)) (resp *agent.Response, err error) {
	if err := validateMessage(message); err != nil {
		return nil, err
	}
	task := agent.NewTask(message, r.memory)
	task.OnDelta = onDelta

	ctx, span := tracer.Start(ctx, "Runner.Chat", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.Bool("task.streaming", task.Streaming()),
	))
	log := klog.FromContext(ctx).WithValues("task", task.ID)
	ctx = klog.NewContext(ctx, log)
	defer func() {
		if err != nil {
			task.Fail(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.V(1).Info("turn failed", "states", task.Transitions(), "err", err)
		}
		span.SetAttributes(attribute.String("task.state", string(task.State())))
		span.End()
	}()

	if history != nil {
		if err := r.memory.Set(ctx, history); err != nil {
			return nil, err
		}
	}
	if err := r.memory.Put(ctx, llm.Message{Role: llm.RoleUser, Content: message}); err != nil {
		return nil, err
	}
	if err := r.worker.Initialize(ctx, task); err != nil {
		return nil, err
	}

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if step >= r.maxSteps {
			return nil, errmodel.System("max_steps", "turn exceeded the step limit", map[string]any{"task": task.ID, "max_steps": r.maxSteps}, nil)
		}
		out, err := r.worker.Step(ctx, task)
		if err != nil {
			return nil, err
		}
		if !out.Done {
			continue
		}
		if err := r.memory.Put(ctx, out.Message); err != nil {
			return nil, err
		}
		if err := task.Transition(agent.StateDone); err != nil {
			return nil, err
		}
		resp = out.Response
		if resp == nil {
			resp = &agent.Response{Text: out.Message.Content}
		}
		resp.TaskID = task.ID
		resp.States = task.Transitions()
		span.SetAttributes(attribute.Int("task.steps", step+1), attribute.Int("task.tool_calls", len(resp.Tools)))
		log.V(1).Info("turn done", "steps", step+1, "tool_calls", len(resp.Tools), "budget_exhausted", resp.BudgetExhausted)
		return resp, nil
	}
}
