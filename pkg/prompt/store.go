package prompt

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Issue describes a lint finding.
type Issue struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Lint runs basic checks on templates.
func Lint(t Template) []Issue {
	var issues []Issue
	if t.Name == "" {
		issues = append(issues, Issue{Rule: "name.required", Message: "name is required"})
	}
	if len(t.Body) == 0 {
		issues = append(issues, Issue{Rule: "body.required", Message: "body is empty"})
	} else if _, err := t.parse(); err != nil {
		issues = append(issues, Issue{Rule: "syntax.invalid", Message: err.Error()})
	}
	if containsSecretLike(t.Body) {
		issues = append(issues, Issue{Rule: "security.secrets", Message: "body appears to contain secrets-like content"})
	}
	return issues
}

var secretNeedles = []string{"aws_secret_access_key", "begin private key", "sk-"}

func containsSecretLike(s string) bool {
	ls := strings.ToLower(s)
	return slices.ContainsFunc(secretNeedles, func(n string) bool { return strings.Contains(ls, n) })
}

// ErrLintFailed is returned by Save when Lint reports issues.
var ErrLintFailed = errmodel.Validation("lint_failed", "prompt failed lint checks", nil)

// Store is an in-memory versioned template store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]Template // name -> versions (ascending)
}

func NewStore() *Store { return &Store{data: make(map[string][]Template)} }

// Save adds a new version. If name exists, version increments by 1; otherwise starts at 1.
func (s *Store) Save(t Template) (Template, []Issue, error) {
	if issues := Lint(t); len(issues) > 0 {
		return Template{}, issues, ErrLintFailed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.data[t.Name]
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}
	nt := Template{Name: t.Name, Version: next, Body: t.Body}
	if len(t.Meta) > 0 {
		nt.Meta = make(map[string]string, len(t.Meta))
		for k, v := range t.Meta {
			nt.Meta[k] = v
		}
	}
	s.data[t.Name] = append(versions, nt)
	return nt, nil, nil
}

// Get retrieves specific version; if version==0 returns latest.
func (s *Store) Get(name string, version int) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.data[name]
	if len(versions) == 0 {
		return Template{}, false
	}
	if version <= 0 {
		return versions[len(versions)-1], true
	}
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= version })
	if i < len(versions) && versions[i].Version == version {
		return versions[i], true
	}
	return Template{}, false
}

// List returns all versions for a name in ascending order.
func (s *Store) List(name string) []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Template(nil), s.data[name]...)
}

// Names returns the stored template names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for n := range s.data {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
