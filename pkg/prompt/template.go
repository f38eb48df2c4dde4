// Package prompt holds prompt templates rendered with text/template, a lint pass and
// an in-memory versioned store.
package prompt

import (
	"slices"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Template is a named prompt body. Placeholders use text/template syntax: {{.city}}.
type Template struct {
	Name    string            `json:"name"`
	Version int               `json:"version,omitempty"`
	Body    string            `json:"body"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// New returns an unversioned template.
func New(name, body string) Template {
	return Template{Name: name, Body: body}
}

func (t Template) parse() (*template.Template, error) {
	name := t.Name
	if name == "" {
		name = "prompt"
	}
	return template.New(name).Option("missingkey=error").Parse(t.Body)
}

// Format renders the template. A missing argument is a schema error, never an empty string.
func (t Template) Format(args map[string]any) (string, error) {
	tpl, err := t.parse()
	if err != nil {
		return "", errmodel.Schema("template_syntax", "prompt template does not parse", map[string]any{"template": t.Name}, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	var b strings.Builder
	if err := tpl.Execute(&b, args); err != nil {
		return "", errmodel.Schema("template_args", "prompt template arguments do not satisfy the template", map[string]any{"template": t.Name}, err)
	}
	return b.String(), nil
}

// Variables lists the top-level field names the template references, sorted.
func (t Template) Variables() []string {
	tpl, err := t.parse()
	if err != nil || tpl.Tree == nil {
		return nil
	}
	seen := map[string]bool{}
	walk(tpl.Tree.Root, seen)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func walk(n parse.Node, seen map[string]bool) {
	switch x := n.(type) {
	case *parse.ListNode:
		if x == nil {
			return
		}
		for _, c := range x.Nodes {
			walk(c, seen)
		}
	case *parse.ActionNode:
		walk(x.Pipe, seen)
	case *parse.PipeNode:
		if x == nil {
			return
		}
		for _, c := range x.Cmds {
			for _, a := range c.Args {
				walk(a, seen)
			}
		}
	case *parse.FieldNode:
		if len(x.Ident) > 0 {
			seen[x.Ident[0]] = true
		}
	case *parse.IfNode:
		walkBranch(&x.BranchNode, seen)
	case *parse.RangeNode:
		walkBranch(&x.BranchNode, seen)
	case *parse.WithNode:
		walkBranch(&x.BranchNode, seen)
	}
}

func walkBranch(b *parse.BranchNode, seen map[string]bool) {
	walk(b.Pipe, seen)
	walk(b.List, seen)
	walk(b.ElseList, seen)
}
