// Package testutil provides mock implementations and testing utilities for the mention-bot project.
package testutil

import (
	"context"
	"sync"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// MockBlameSource implements blame.Source for testing.
// It's a programmable mock: configure per-path line authors and per-path errors.
type MockBlameSource struct {
	lines  map[string]map[int]string // path -> line -> author
	errors map[string]error
	block  map[string]chan struct{}
	calls  []BlameCall
	mu     sync.RWMutex
}

// BlameCall records a single call to Blame.
type BlameCall struct {
	RepositoryURL string
	CommitID      string
	Path          string
	Ranges        []types.LineRange
}

// NewMockBlameSource creates a new MockBlameSource.
func NewMockBlameSource() *MockBlameSource {
	return &MockBlameSource{
		lines:  make(map[string]map[int]string),
		errors: make(map[string]error),
		block:  make(map[string]chan struct{}),
	}
}

// SetLines attributes lines [start, start+count) of path to author.
func (m *MockBlameSource) SetLines(path string, start, count int, author string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lines[path] == nil {
		m.lines[path] = make(map[int]string)
	}
	for i := start; i < start+count; i++ {
		m.lines[path][i] = author
	}
}

// SetError makes lookups for path fail with err.
func (m *MockBlameSource) SetError(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[path] = err
}

// Block makes lookups for path wait until the returned channel is closed or the context ends.
func (m *MockBlameSource) Block(path string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.block[path] = ch
	return ch
}

// Calls returns the recorded calls.
func (m *MockBlameSource) Calls() []BlameCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]BlameCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Blame returns every configured line of path in line order. Like real hosts
// it returns whole blame blocks and leaves clipping to the caller.
func (m *MockBlameSource) Blame(ctx context.Context, repositoryURL, commitID, path string, ranges []types.LineRange) ([]types.BlameEntry, error) {
	m.mu.Lock()
	m.calls = append(m.calls, BlameCall{RepositoryURL: repositoryURL, CommitID: commitID, Path: path, Ranges: ranges})
	wait := m.block[path]
	err := m.errors[path]
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []types.BlameEntry
	maxLine := 0
	for line := range m.lines[path] {
		maxLine = max(maxLine, line)
	}
	for line := 1; line <= maxLine; line++ {
		author, ok := m.lines[path][line]
		if !ok {
			continue
		}
		entries = append(entries, types.BlameEntry{
			Path:     path,
			Line:     line,
			Author:   author,
			CommitID: "c-" + author,
		})
	}
	return entries, nil
}
