// Package fnagent is a conversational agent for models with native function calling.
//
// An Agent assembles a Worker, a runtime.Runner and a Memory from its configuration and
// forwards every turn to the runner. Construction fails fast with a configuration error;
// nothing is defaulted silently except through FromDefaults.
//
// An Agent is not safe for concurrent turns. Callers that share one across goroutines must
// serialize Chat, StreamChat and Reset themselves.
package fnagent

import (
	"context"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/adapters/llm/instrumented"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/instrumentation"
	"github.com/wilhg/toolagent/pkg/runtime"
)

const (
	// DefaultModelName is the model FromDefaults asks the openai provider for.
	DefaultModelName = "gpt-3.5-turbo-0613"
	// DefaultMaxFunctionCalls is the per-turn tool call budget FromDefaults uses.
	DefaultMaxFunctionCalls = 5
)

// Config is everything New needs. Memory and LLM are required.
type Config struct {
	// Tools offered to the model on every turn. Mutually exclusive with ToolRetriever.
	Tools []agent.Tool
	// ToolRetriever picks tools per turn from the user input.
	ToolRetriever agent.ToolRetriever
	LLM           llm.LLM
	Memory        agent.Memory
	// PrefixMessages are prepended to every model call and never stored in Memory.
	PrefixMessages []llm.Message
	Verbose        bool
	// MaxFunctionCalls is the positive ceiling on tool invocations per user turn.
	MaxFunctionCalls int
	// Dispatcher, when set, receives instrumentation events for every model call.
	Dispatcher *instrumentation.Dispatcher
	// AllowedPermissions is the permission set tools are checked against; nil grants all.
	AllowedPermissions map[string]bool
	// MaxSteps caps worker steps per turn; 0 keeps runtime.DefaultMaxSteps.
	MaxSteps int
}

// Agent is the function-calling agent facade.
type Agent struct {
	llm    llm.LLM
	worker *Worker
	runner *runtime.Runner
}

// New validates cfg and assembles the agent.
func New(cfg Config) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, errmodel.Configuration("missing_llm", "an LLM is required", nil)
	}
	meta := cfg.LLM.Metadata()
	if !meta.IsFunctionCallingModel {
		return nil, errmodel.Configuration("not_function_calling", "model does not support the function calling API", map[string]any{"model": meta.Model, "provider": cfg.LLM.Name()})
	}
	if cfg.Memory == nil {
		return nil, errmodel.Configuration("missing_memory", "a memory is required", nil)
	}
	if cfg.MaxFunctionCalls <= 0 {
		return nil, errmodel.Configuration("invalid_max_function_calls", "max function calls must be a positive integer", map[string]any{"max_function_calls": cfg.MaxFunctionCalls})
	}
	if len(cfg.Tools) > 0 && cfg.ToolRetriever != nil {
		return nil, errmodel.Configuration("conflicting_tools", "tools and a tool retriever are mutually exclusive", nil)
	}
	tools, err := agent.NewToolSet(cfg.Tools...)
	if err != nil {
		return nil, err
	}
	for _, t := range tools.Tools() {
		if err := agent.CompileJSONSchema(t.Describe().InputSchema); err != nil {
			return nil, errmodel.Configuration("invalid_tool_schema", "tool input schema does not compile", map[string]any{"tool": t.Describe().Name, "error": err.Error()})
		}
	}

	model := cfg.LLM
	if cfg.Dispatcher != nil {
		model = instrumented.Wrap(model, cfg.Dispatcher)
	}
	caller := agent.ToolCaller{AllowedPermissions: cfg.AllowedPermissions, Validate: agent.JSONSchemaValidator}
	w := NewWorker(model, tools, cfg.ToolRetriever, cfg.PrefixMessages, cfg.MaxFunctionCalls, cfg.Verbose, caller)
	return &Agent{
		llm:    model,
		worker: w,
		runner: runtime.NewRunner(w, cfg.Memory, runtime.WithMaxSteps(cfg.MaxSteps)),
	}, nil
}

// LLM returns the model the agent calls (instrumented when a dispatcher was configured).
func (a *Agent) LLM() llm.LLM { return a.llm }

// PrefixMessages returns a copy of the priming messages.
func (a *Agent) PrefixMessages() []llm.Message { return a.worker.PrefixMessages() }

// Memory returns the agent's memory.
func (a *Agent) Memory() agent.Memory { return a.runner.Memory() }

// Chat runs one turn and blocks until it completes. A non-nil history replaces the memory
// contents first.
func (a *Agent) Chat(ctx context.Context, message string, history []llm.Message) (*agent.Response, error) {
	return a.runner.Chat(ctx, message, history)
}

// AChat runs one turn without blocking the caller.
func (a *Agent) AChat(ctx context.Context, message string, history []llm.Message) *runtime.Future[*agent.Response] {
	return a.runner.AChat(ctx, message, history)
}

// StreamChat runs one turn in the background and returns a handle that yields text as it
// arrives.
func (a *Agent) StreamChat(ctx context.Context, message string, history []llm.Message) (*runtime.StreamingResponse, error) {
	return a.runner.StreamChat(ctx, message, history)
}

// AStreamChat is StreamChat without blocking the caller.
func (a *Agent) AStreamChat(ctx context.Context, message string, history []llm.Message) *runtime.Future[*runtime.StreamingResponse] {
	return a.runner.AStreamChat(ctx, message, history)
}

// Reset clears the memory. Configuration is untouched.
func (a *Agent) Reset(ctx context.Context) error { return a.runner.Reset(ctx) }

// ChatHistory returns a snapshot of the full history; later turns do not change it.
func (a *Agent) ChatHistory(ctx context.Context) ([]llm.Message, error) {
	return a.runner.ChatHistory(ctx)
}
