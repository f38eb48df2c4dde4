// Package eval runs offline agent evaluations from fixture files.
package eval

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/prompt"
)

// Fixture is one evaluation case. Prompt is a prompt template rendered with Vars and sent as
// the user message. When Template is set the body comes from the shared templates instead;
// TemplateVersion 0 picks the latest version.
type Fixture struct {
	Name            string         `json:"name"`
	Prompt          string         `json:"prompt,omitempty"`
	Template        string         `json:"template,omitempty"`
	TemplateVersion int            `json:"template_version,omitempty"`
	Vars            map[string]any `json:"vars,omitempty"`
	History         []llm.Message  `json:"history,omitempty"`
	Expect          Expectation    `json:"expect"`
}

type Expectation struct {
	Contains    []string `json:"contains,omitempty"`
	NotContains []string `json:"not_contains,omitempty"`
	// Tools must all have been called at least once during the turn.
	Tools []string `json:"tools,omitempty"`
	// MaxToolCalls fails the case when the turn invoked more tools; 0 disables the check.
	MaxToolCalls int `json:"max_tool_calls,omitempty"`
}

// Chatter runs one agent turn. *fnagent.Agent implements it.
type Chatter interface {
	Chat(ctx context.Context, message string, history []llm.Message) (*agent.Response, error)
}

// NewChatter builds a fresh agent per fixture so cases do not share memory.
type NewChatter func(ctx context.Context, fx Fixture) (Chatter, error)

// Report summarizes a run. Score is Passed/Total, or 1 when there were no fixtures.
type Report struct {
	Score   float64
	Total   int
	Passed  int
	Details []string
}

// Options tunes Run.
type Options struct {
	// Parallelism bounds concurrent fixtures; values <= 0 mean one at a time.
	Parallelism int
}

// LoadFixtures reads every .json, .yaml and .yml file in dir, sorted by file name.
func LoadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []Fixture
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch path.Ext(e.Name()) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var fx Fixture
		if err := yaml.Unmarshal(b, &fx); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if fx.Name == "" {
			fx.Name = strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		}
		out = append(out, fx)
	}
	return out, nil
}

// TemplatesDir is the subdirectory of a fixture directory holding shared templates.
const TemplatesDir = "prompts"

// LoadTemplates saves every .tmpl file in dir into a versioned store. The file name up to the
// first dot is the template name and files are saved in lexical order, so greet.1.tmpl and
// greet.2.tmpl become versions 1 and 2 of "greet". A missing dir yields an empty store.
func LoadTemplates(fsys fs.FS, dir string) (*prompt.Store, error) {
	st := prompt.NewStore()
	matches, err := fs.Glob(fsys, path.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		b, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, err
		}
		name, _, _ := strings.Cut(path.Base(m), ".")
		if _, issues, err := st.Save(prompt.New(name, string(b))); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", path.Base(m), err, issues)
		}
	}
	return st, nil
}

// Run evaluates the fixtures in dir against agents from newChatter.
func Run(ctx context.Context, fsys fs.FS, dir string, newChatter NewChatter, opts Options) (Report, error) {
	fixtures, err := LoadFixtures(fsys, dir)
	if err != nil {
		return Report{}, err
	}
	templates, err := LoadTemplates(fsys, path.Join(dir, TemplatesDir))
	if err != nil {
		return Report{}, err
	}
	if len(fixtures) == 0 {
		return Report{Score: 1}, nil
	}
	results := make([][]string, len(fixtures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallelism, 1))
	for i, fx := range fixtures {
		g.Go(func() error {
			failures, err := runOne(gctx, fx, templates, newChatter)
			if err != nil {
				return err
			}
			results[i] = failures
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{Total: len(fixtures)}
	for i, failures := range results {
		if len(failures) == 0 {
			rep.Passed++
			continue
		}
		for _, f := range failures {
			rep.Details = append(rep.Details, fixtures[i].Name+": "+f)
		}
	}
	rep.Score = float64(rep.Passed) / float64(rep.Total)
	klog.FromContext(ctx).V(1).Info("eval finished", "total", rep.Total, "passed", rep.Passed)
	return rep, nil
}

// runOne returns the failed expectations of fx. Only a failure to build the agent or a
// cancelled context is returned as an error; a failed turn is a failed case.
func runOne(ctx context.Context, fx Fixture, templates *prompt.Store, newChatter NewChatter) ([]string, error) {
	tmpl := prompt.New(fx.Name, fx.Prompt)
	if fx.Template != "" {
		t, ok := templates.Get(fx.Template, fx.TemplateVersion)
		if !ok {
			return []string{fmt.Sprintf("unknown template: %s (version %d)", fx.Template, fx.TemplateVersion)}, nil
		}
		tmpl = t
	}
	msg, err := tmpl.Format(fx.Vars)
	if err != nil {
		return []string{"render error: " + err.Error()}, nil
	}
	c, err := newChatter(ctx, fx)
	if err != nil {
		return nil, err
	}
	resp, err := c.Chat(ctx, msg, fx.History)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []string{"chat error: " + err.Error()}, nil
	}
	return check(fx.Expect, resp), nil
}

func check(exp Expectation, resp *agent.Response) []string {
	var failures []string
	for _, s := range exp.Contains {
		if !strings.Contains(resp.Text, s) {
			failures = append(failures, "missing contains: "+s)
		}
	}
	for _, s := range exp.NotContains {
		if strings.Contains(resp.Text, s) {
			failures = append(failures, "unexpected contains: "+s)
		}
	}
	called := make([]string, len(resp.Tools))
	for i, t := range resp.Tools {
		called[i] = t.Name
	}
	for _, name := range exp.Tools {
		if !slices.Contains(called, name) {
			failures = append(failures, "tool not called: "+name)
		}
	}
	if exp.MaxToolCalls > 0 && len(resp.Tools) > exp.MaxToolCalls {
		failures = append(failures, fmt.Sprintf("too many tool calls: %d > %d", len(resp.Tools), exp.MaxToolCalls))
	}
	return failures
}
