// Package blame resolves line authorship for the files of a change set.
//
// A Source is the host's blame facility (GitLab, GitHub, or a test fake).
// The Resolver fans out one lookup per file, waits for all of them, and turns
// any per-file failure into an empty result so one bad file never sinks the
// whole change set.
package blame

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// Per-file failures a Source may report. They are logged, never returned to callers of Resolver.
var (
	ErrBinary   = errors.New("binary file")
	ErrTooLarge = errors.New("file too large to blame")
	ErrNotFound = errors.New("file not found at commit")
)

const defaultConcurrency = 8

// Source retrieves blame information from a code host as of a specific commit.
// A nil ranges slice asks for the whole file.
type Source interface {
	Blame(ctx context.Context, repositoryURL, commitID, path string, ranges []types.LineRange) ([]types.BlameEntry, error)
}

// Resolver resolves blame for file changes.
type Resolver struct {
	source      Source
	concurrency int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConcurrency bounds the number of lookups in flight.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewResolver creates a Resolver backed by source.
func NewResolver(source Source, opts ...Option) *Resolver {
	r := &Resolver{source: source, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the blame entries for the touched lines of one file.
// Removed files and files without touched lines yield nothing. Renamed files are
// looked up by their post-rename path. Errors are returned as-is; ResolveAll is
// where they are absorbed.
func (r *Resolver) Resolve(ctx context.Context, repositoryURL, commitID string, fc types.FileChange) ([]types.BlameEntry, error) {
	if fc.Status == types.StatusRemoved || len(fc.Ranges) == 0 {
		return nil, nil
	}
	entries, err := r.source.Blame(ctx, repositoryURL, commitID, fc.Path, fc.Ranges)
	if err != nil {
		return nil, err
	}
	return clip(entries, fc.Path, fc.Ranges), nil
}

// ResolveFile returns blame entries for every line of a file, used when looking
// for potential reviewers beyond the touched lines.
func (r *Resolver) ResolveFile(ctx context.Context, repositoryURL, commitID string, fc types.FileChange) ([]types.BlameEntry, error) {
	if fc.Status == types.StatusRemoved {
		return nil, nil
	}
	entries, err := r.source.Blame(ctx, repositoryURL, commitID, fc.Path, nil)
	if err != nil {
		return nil, err
	}
	return clip(entries, fc.Path, nil), nil
}

// ResolveAll resolves every file concurrently and waits for all lookups to settle.
// The result has one slot per input change, in input order. A failed lookup leaves
// its slot empty.
func (r *Resolver) ResolveAll(ctx context.Context, repositoryURL, commitID string, changes []types.FileChange) [][]types.BlameEntry {
	return r.fanOut(ctx, repositoryURL, commitID, changes, r.Resolve)
}

// ResolveAllFiles is ResolveAll over whole files.
func (r *Resolver) ResolveAllFiles(ctx context.Context, repositoryURL, commitID string, changes []types.FileChange) [][]types.BlameEntry {
	return r.fanOut(ctx, repositoryURL, commitID, changes, r.ResolveFile)
}

type lookupFunc func(ctx context.Context, repositoryURL, commitID string, fc types.FileChange) ([]types.BlameEntry, error)

func (r *Resolver) fanOut(ctx context.Context, repositoryURL, commitID string, changes []types.FileChange, lookup lookupFunc) [][]types.BlameEntry {
	results := make([][]types.BlameEntry, len(changes))

	// Tasks never return an error: the group is a settle-all barrier, not fail-fast.
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, fc := range changes {
		g.Go(func() error {
			start := time.Now()
			entries, err := lookup(ctx, repositoryURL, commitID, fc)
			if err != nil {
				logFailure(ctx, fc, err)
				return nil
			}
			slog.DebugContext(ctx, "Resolved blame", "path", fc.Path, "entries", len(entries), "duration", time.Since(start))
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // tasks always return nil

	return results
}

func logFailure(ctx context.Context, fc types.FileChange, err error) {
	reason := "host error"
	switch {
	case errors.Is(err, ErrBinary):
		reason = "binary"
	case errors.Is(err, ErrTooLarge):
		reason = "too large"
	case errors.Is(err, ErrNotFound):
		reason = "not found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "cancelled"
	}
	slog.WarnContext(ctx, "Blame lookup failed (continuing without this file)", "path", fc.Path, "reason", reason, "error", err)
}

// clip keeps entries that fall inside ranges (all of them for nil ranges) and
// stamps the requested path, since hosts may report the pre-rename path.
func clip(entries []types.BlameEntry, path string, ranges []types.LineRange) []types.BlameEntry {
	kept := make([]types.BlameEntry, 0, len(entries))
	for _, e := range entries {
		if ranges != nil && !inRanges(e.Line, ranges) {
			continue
		}
		if e.Author == "" {
			continue
		}
		e.Path = path
		e.Author = types.NormalizeIdentity(e.Author)
		kept = append(kept, e)
	}
	return kept
}

func inRanges(line int, ranges []types.LineRange) bool {
	for _, r := range ranges {
		if r.Contains(line) {
			return true
		}
	}
	return false
}
