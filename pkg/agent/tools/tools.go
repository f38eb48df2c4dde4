// Package tools holds the built-in tools the CLI can offer to an agent.
package tools

import (
	"io/fs"
	"sort"

	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Permissions required by the built-in tools.
const (
	PermFSRead  = "fs:read"
	PermNetwork = "network:outbound"
)

// Builtins returns every built-in tool. fs.read is sandboxed to root.
func Builtins(root fs.FS) ([]agent.Tool, error) {
	read, err := NewFileRead(root)
	if err != nil {
		return nil, err
	}
	get, err := NewHTTPGet(nil)
	if err != nil {
		return nil, err
	}
	return []agent.Tool{read, get}, nil
}

// Select returns the built-in tools with the given names, in that order.
func Select(root fs.FS, names ...string) ([]agent.Tool, error) {
	all, err := Builtins(root)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]agent.Tool, len(all))
	for _, t := range all {
		byName[t.Describe().Name] = t
	}
	out := make([]agent.Tool, 0, len(names))
	for _, n := range names {
		t, ok := byName[n]
		if !ok {
			known := make([]string, 0, len(byName))
			for k := range byName {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, errmodel.Configuration("unknown_tool", "no built-in tool with this name", map[string]any{"tool": n, "known": known})
		}
		out = append(out, t)
	}
	return out, nil
}

// Register adds the built-in tools to the process-wide registry.
func Register(root fs.FS) error {
	all, err := Builtins(root)
	if err != nil {
		return err
	}
	for _, t := range all {
		if err := agent.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}
