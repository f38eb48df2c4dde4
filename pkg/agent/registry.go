package agent

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// toolRegistry keeps tools by name.
var (
	toolsMu sync.RWMutex
	tools   = map[string]Tool{}
)

// RegisterTool registers a Tool by its descriptor name.
func RegisterTool(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	d := t.Describe()
	if d.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	toolsMu.Lock()
	defer toolsMu.Unlock()
	if _, exists := tools[d.Name]; exists {
		return fmt.Errorf("tool %q already registered", d.Name)
	}
	tools[d.Name] = t
	return nil
}

// ResolveTool returns a Tool by name.
func ResolveTool(name string) (Tool, bool) {
	toolsMu.RLock()
	defer toolsMu.RUnlock()
	t, ok := tools[name]
	return t, ok
}

// RegisteredTools lists registered tool names, sorted.
func RegisteredTools() []string {
	toolsMu.RLock()
	defer toolsMu.RUnlock()
	out := make([]string, 0, len(tools))
	for n := range tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ToolSet is an ordered set of tools, unique by name.
type ToolSet struct {
	order  []Tool
	byName map[string]Tool
}

// NewToolSet fails with a configuration error on a nil tool, an empty name or a duplicate name.
func NewToolSet(ts ...Tool) (*ToolSet, error) {
	s := &ToolSet{byName: make(map[string]Tool, len(ts))}
	for i, t := range ts {
		if t == nil {
			return nil, errmodel.Configuration("nil_tool", "tool is nil", map[string]any{"index": i})
		}
		name := t.Describe().Name
		if name == "" {
			return nil, errmodel.Configuration("unnamed_tool", "tool name is empty", map[string]any{"index": i})
		}
		if _, dup := s.byName[name]; dup {
			return nil, errmodel.Configuration("duplicate_tool", "tool names must be unique", map[string]any{"tool": name})
		}
		s.byName[name] = t
		s.order = append(s.order, t)
	}
	return s, nil
}

// Get returns the tool called name.
func (s *ToolSet) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// Tools returns the tools in insertion order.
func (s *ToolSet) Tools() []Tool {
	if s == nil {
		return nil
	}
	return slices.Clone(s.order)
}

func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Specs returns the function definitions for every tool, in order.
func (s *ToolSet) Specs() []llm.ToolSpec {
	if s.Len() == 0 {
		return nil
	}
	out := make([]llm.ToolSpec, len(s.order))
	for i, t := range s.order {
		out[i] = t.Describe().Spec()
	}
	return out
}

// SafeInvoke validates input against the tool's schema, invokes it, and validates output.
// A nil allowed set skips the permission check; any other set must grant every permission
// the tool declares, otherwise the call is refused with a policy error.
// Input that violates the input schema is a validation error; output that violates the
// output schema is a schema error, since the tool itself is broken.
func SafeInvoke(ctx context.Context, t Tool, args map[string]any, allowed map[string]bool, validate ValidateFunc) (map[string]any, error) {
	if t == nil {
		return nil, errmodel.Validation("bad_tool", "tool is nil", nil)
	}
	if validate == nil {
		validate = JSONSchemaValidator
	}
	d := t.Describe()
	// permissions
	if allowed != nil {
		for _, p := range d.Permissions {
			if !allowed[p.Name] {
				return nil, errmodel.Policy("forbidden", "permission denied for tool", map[string]any{"permission": p.Name, "tool": d.Name})
			}
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validate(d.InputSchema, args); err != nil {
		return nil, errmodel.Validation("invalid_input", "tool input validation failed", map[string]any{"tool": d.Name, "error": err.Error()})
	}
	out, err := t.Invoke(ctx, args)
	if err != nil {
		return nil, errmodel.Tool("invoke_failed", "tool invocation failed", map[string]any{"tool": d.Name}, err)
	}
	if err := validate(d.OutputSchema, out); err != nil {
		return nil, errmodel.Schema("invalid_output", "tool output validation failed", map[string]any{"tool": d.Name, "error": err.Error()}, nil)
	}
	return out, nil
}
