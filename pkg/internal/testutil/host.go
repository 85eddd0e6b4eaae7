package testutil

import (
	"context"
	"sync"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// MockHost is a programmable code host: merge request changes and repository
// config files are keyed by repository URL, posted comments are recorded.
type MockHost struct {
	changes    map[string][]types.FileChange
	configs    map[string][]byte
	changesErr error
	configErr  error
	commentErr error
	comments   []Comment
	mu         sync.RWMutex
}

// Comment records a single call to PostComment.
type Comment struct {
	RepositoryURL string
	Body          string
	Number        int
}

// NewMockHost creates an empty MockHost.
func NewMockHost() *MockHost {
	return &MockHost{
		changes: make(map[string][]types.FileChange),
		configs: make(map[string][]byte),
	}
}

// SetChanges sets the changes returned for every merge request of repositoryURL.
func (m *MockHost) SetChanges(repositoryURL string, changes []types.FileChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes[repositoryURL] = changes
}

// SetConfig sets the .mention-bot content of repositoryURL.
func (m *MockHost) SetConfig(repositoryURL, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[repositoryURL] = []byte(content)
}

// SetChangesError makes Changes fail.
func (m *MockHost) SetChangesError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changesErr = err
}

// SetConfigError makes RepoConfig fail.
func (m *MockHost) SetConfigError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configErr = err
}

// SetCommentError makes PostComment fail.
func (m *MockHost) SetCommentError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commentErr = err
}

// Comments returns the posted comments.
func (m *MockHost) Comments() []Comment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Comment, len(m.comments))
	copy(out, m.comments)
	return out
}

// Changes implements the host interface.
func (m *MockHost) Changes(ctx context.Context, repositoryURL string, _ int) ([]types.FileChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.changesErr != nil {
		return nil, m.changesErr
	}
	return m.changes[repositoryURL], nil
}

// RepoConfig implements the host interface. A repository without a config returns nil, nil.
func (m *MockHost) RepoConfig(ctx context.Context, repositoryURL, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.configErr != nil {
		return nil, m.configErr
	}
	return m.configs[repositoryURL], nil
}

// PostComment implements the host interface.
func (m *MockHost) PostComment(ctx context.Context, repositoryURL string, number int, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commentErr != nil {
		return m.commentErr
	}
	m.comments = append(m.comments, Comment{RepositoryURL: repositoryURL, Number: number, Body: body})
	return nil
}
