package agent

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

// State is a position in the turn state machine.
type State string

const (
	StateAwaitingInput State = "AWAITING_INPUT"
	StateLLMCall       State = "LLM_CALL"
	StateToolCall      State = "TOOL_CALL"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

var transitions = map[State][]State{
	StateAwaitingInput: {StateLLMCall, StateFailed},
	StateLLMCall:       {StateToolCall, StateDone, StateFailed},
	StateToolCall:      {StateLLMCall, StateDone, StateFailed},
}

// Task is the state of one user turn.
type Task struct {
	ID        string
	Input     string
	CreatedAt time.Time
	Memory    Memory
	// OnDelta receives streamed text when the turn was started in streaming mode.
	OnDelta func(delta string)
	// WorkerState holds whatever the StepWorker keeps between steps of this turn.
	WorkerState any

	mu      sync.Mutex
	visited []State
	err     error
}

// NewTask starts a turn in AWAITING_INPUT.
func NewTask(input string, mem Memory) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Input:     input,
		CreatedAt: time.Now().UTC(),
		Memory:    mem,
		visited:   []State{StateAwaitingInput},
	}
}

// Streaming reports whether deltas should be forwarded.
func (t *Task) Streaming() bool { return t.OnDelta != nil }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visited[len(t.visited)-1]
}

// Transitions returns the states visited so far, in order.
func (t *Task) Transitions() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.visited)
}

// Transition moves the task to next. Moves the state machine does not allow are rejected.
func (t *Task) Transition(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.visited[len(t.visited)-1]
	if !slices.Contains(transitions[cur], next) {
		return errmodel.System("invalid_transition", "task state transition not allowed", map[string]any{"task": t.ID, "from": string(cur), "to": string(next)}, nil)
	}
	t.visited = append(t.visited, next)
	return nil
}

// Fail moves a non-terminal task to FAILED and records err. It is a no-op on terminal tasks.
func (t *Task) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.visited[len(t.visited)-1].Terminal() {
		return
	}
	t.visited = append(t.visited, StateFailed)
	t.err = err
}

// Err is the error the task failed with, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
