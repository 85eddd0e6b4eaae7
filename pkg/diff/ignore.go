package diff

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// Matcher matches repository paths against gitignore-like glob patterns.
// A pattern without a leading "/" matches at any depth; a trailing "/" matches
// everything under a directory.
type Matcher struct {
	patterns []string
}

// NewMatcher compiles patterns. Invalid patterns are logged and skipped.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		np := normalizePattern(p)
		if !doublestar.ValidatePattern(np) {
			slog.Warn("Ignoring invalid path pattern", "pattern", p)
			continue
		}
		m.patterns = append(m.patterns, np)
	}
	return m
}

// normalizePattern rewrites a pattern into a form doublestar matches against "/"-prefixed paths.
func normalizePattern(pattern string) string {
	if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		pattern = "**/" + pattern
	}
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	return pattern
}

// Match reports whether path matches any pattern.
func (m *Matcher) Match(path string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return slices.ContainsFunc(m.patterns, func(p string) bool {
		ok, err := doublestar.Match(p, path)
		return err == nil && ok
	})
}

// Filter drops changes whose path matches the ignore matcher. For renamed files
// only the new path is considered.
func Filter(changes []types.FileChange, ignore *Matcher) []types.FileChange {
	kept := make([]types.FileChange, 0, len(changes))
	for _, fc := range changes {
		if ignore.Match(fc.Path) {
			slog.Debug("Skipping ignored file", "path", fc.Path)
			continue
		}
		kept = append(kept, fc)
	}
	return kept
}

// TopN keeps the n files with the most changed lines, preserving input order among
// the survivors. n <= 0 keeps everything.
func TopN(changes []types.FileChange, n int) []types.FileChange {
	if n <= 0 || len(changes) <= n {
		return changes
	}

	idx := make([]int, len(changes))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return changes[b].ChangedLines() - changes[a].ChangedLines()
	})
	idx = idx[:n]
	slices.Sort(idx)

	top := make([]types.FileChange, 0, n)
	for _, i := range idx {
		top = append(top, changes[i])
	}
	return top
}
