// Package agent defines the contracts a tool-using conversational agent is assembled from.
//
// A user turn is driven by a runner that repeatedly asks a StepWorker to make progress on a
// Task until the worker reports a terminal step. The Task walks a fixed state machine:
//
//	AWAITING_INPUT -> LLM_CALL -> {TOOL_CALL -> LLM_CALL}* -> DONE
//
// with an exit to FAILED from any non-terminal state. Conversation history lives in a Memory
// owned by the runner; workers read it for every model call and append intermediate tool
// traffic to it. On failure the history is left as it was at the point of failure: there is
// no rollback.
//
// Tools are described by a ToolDescriptor carrying JSON Schemas for input and output, and are
// executed through SafeInvoke, which enforces permissions and both schemas.
package agent

import (
	"context"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Memory is the ordered chat history of one agent.
//
// Implementations serialize their own operations, but interleaving two turns on the same
// Memory is the caller's problem.
type Memory interface {
	// Get returns the window of history sent to the model, oldest first. It may be a suffix
	// of GetAll when the history exceeds the memory's budget.
	Get(ctx context.Context) ([]llm.Message, error)
	// GetAll returns a copy of the full history.
	GetAll(ctx context.Context) ([]llm.Message, error)
	// Put appends one message.
	Put(ctx context.Context, msg llm.Message) error
	// Set replaces the history.
	Set(ctx context.Context, msgs []llm.Message) error
	// Reset clears the history.
	Reset(ctx context.Context) error
}

// ToolRetriever picks the tools offered to the model for a given user input, typically by
// similarity search over an index of tool descriptions.
type ToolRetriever interface {
	Retrieve(ctx context.Context, query string) ([]Tool, error)
}

// StepOutput is the result of one StepWorker.Step.
type StepOutput struct {
	// Done marks a terminal step; Message and Response are only set when Done is true.
	Done bool
	// Message is the final assistant message the runner appends to Memory.
	Message llm.Message
	// Response is returned to the caller.
	Response *Response
}

// StepWorker makes progress on a Task one step at a time.
type StepWorker interface {
	// Initialize prepares per-turn worker state on the task (e.g. tools for this input).
	Initialize(ctx context.Context, task *Task) error
	// Step performs one LLM call and any tool calls it requests.
	Step(ctx context.Context, task *Task) (StepOutput, error)
}

// ToolOutput records one executed (or refused) tool call.
type ToolOutput struct {
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	// Error is set when the call failed but the turn carried on.
	Error *errmodel.Error `json:"error,omitempty"`
}

// Response is the outcome of one user turn.
type Response struct {
	TaskID string       `json:"task_id"`
	Text   string       `json:"text"`
	Tools  []ToolOutput `json:"tools,omitempty"`
	// Errors lists degraded tool failures; the turn still completed.
	Errors []*errmodel.Error `json:"errors,omitempty"`
	// BudgetExhausted is set when the turn was stopped because the model asked for more tool
	// calls than the per-turn budget allows.
	BudgetExhausted bool `json:"budget_exhausted,omitempty"`
	// States is the sequence of states the turn visited.
	States []State `json:"states,omitempty"`
}
