package prompt

import (
	"fmt"
	"strings"
)

// UnifiedDiff returns a line-oriented diff between two bodies; equal lines are skipped.
func UnifiedDiff(a, b string) string {
	if a == b {
		return ""
	}
	var buf strings.Builder
	buf.WriteString("--- a\n")
	buf.WriteString("+++ b\n")
	al := strings.Split(a, "\n")
	bl := strings.Split(b, "\n")
	i, j := 0, 0
	for i < len(al) || j < len(bl) {
		if i < len(al) && j < len(bl) && al[i] == bl[j] {
			i++
			j++
			continue
		}
		if i < len(al) {
			fmt.Fprintf(&buf, "-%s\n", al[i])
			i++
		}
		if j < len(bl) {
			fmt.Fprintf(&buf, "+%s\n", bl[j])
			j++
		}
	}
	return buf.String()
}

// Diff returns the diff between two versions of a template, or false if either is missing.
func (s *Store) Diff(name string, v1, v2 int) (string, bool) {
	t1, ok1 := s.Get(name, v1)
	t2, ok2 := s.Get(name, v2)
	if !ok1 || !ok2 {
		return "", false
	}
	return UnifiedDiff(t1.Body, t2.Body), true
}
