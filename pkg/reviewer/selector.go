package reviewer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/codeGROOVE-dev/mention-bot/pkg/blame"
	"github.com/codeGROOVE-dev/mention-bot/pkg/diff"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// Selector guesses the owners of a change set from blame data.
// It keeps no state between calls and is safe for concurrent use.
type Selector struct {
	source   blame.Source
	validate *validator.Validate
}

// New creates a Selector that reads blame from source.
func New(source blame.Source) *Selector {
	return &Selector{
		source:   source,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// GuessOwners returns up to cfg.MaxReviewers suggested reviewers for changes made by
// author at commitID, best first. A nil cfg means DefaultConfig.
//
// It fails only with ErrInvalidInput (empty repository URL or commit id) or when ctx
// ends. Files whose blame cannot be resolved contribute nothing, and finding nobody
// returns an empty list with a nil error.
func (s *Selector) GuessOwners(ctx context.Context, repositoryURL, commitID string, changes []types.FileChange, author string, cfg *Config) ([]string, error) {
	return s.GuessOwnersForEvent(ctx, types.ChangeEvent{
		RepositoryURL: repositoryURL,
		CommitID:      commitID,
		Author:        author,
		Changes:       changes,
	}, cfg)
}

// GuessOwnersForEvent is GuessOwners for a ChangeEvent.
func (s *Selector) GuessOwnersForEvent(ctx context.Context, ev types.ChangeEvent, cfg *Config) ([]string, error) {
	ev.RepositoryURL = strings.TrimSpace(ev.RepositoryURL)
	ev.CommitID = strings.TrimSpace(ev.CommitID)
	if err := s.validate.StructCtx(ctx, ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	c := cfg.effective()
	author := types.NormalizeIdentity(ev.Author)
	start := time.Now()

	if identitySet(c.UserBlacklistForPR)[author] {
		slog.InfoContext(ctx, "Skipping change from blacklisted author", "author", author, "repository", ev.RepositoryURL)
		return []string{}, nil
	}

	changes := diff.Filter(prepare(ctx, ev.Changes), diff.NewMatcher(c.FileBlacklist))
	changes = diff.TopN(changes, c.NumFilesToCheck)
	slog.InfoContext(ctx, "Guessing owners", "repository", ev.RepositoryURL, "commit", ev.CommitID,
		"author", author, "files", len(changes), "submitted_files", len(ev.Changes))

	resolver := blame.NewResolver(s.source, blame.WithConcurrency(c.Concurrency))
	opts := AggregateOptions{PathRules: c.PathRules, PerFileCap: c.PerFileCap}

	perFile := resolver.ResolveAll(ctx, ev.RepositoryURL, ev.CommitID, changes)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("abandoned while resolving blame: %w", err)
	}
	reviewers := Filter(Aggregate(perFile, author, opts), &c, author)

	if c.FindPotentialReviewers && len(reviewers) < c.MaxReviewers {
		whole := resolver.ResolveAllFiles(ctx, ev.RepositoryURL, ev.CommitID, changes)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("abandoned while resolving potential reviewers: %w", err)
		}
		potential := Filter(Aggregate(whole, author, opts), &c, author)
		reviewers = fill(reviewers, potential, c.MaxReviewers)
	}

	slog.InfoContext(ctx, "Guessed owners", "repository", ev.RepositoryURL, "reviewers", reviewers,
		"duration", time.Since(start))
	return reviewers, nil
}

// prepare drops unusable changes and derives line ranges from raw hunk text
// when the caller supplied a patch instead of ranges.
func prepare(ctx context.Context, changes []types.FileChange) []types.FileChange {
	out := make([]types.FileChange, 0, len(changes))
	for _, fc := range changes {
		if strings.TrimSpace(fc.Path) == "" {
			slog.WarnContext(ctx, "Dropping file change without a path")
			continue
		}
		if len(fc.Ranges) == 0 && fc.Hunk != "" {
			p, err := diff.ParsePatch(fc.Hunk)
			if err != nil {
				slog.WarnContext(ctx, "Dropping file with malformed patch", "path", fc.Path, "error", err)
				continue
			}
			fc.Ranges = p.Ranges
			if fc.Additions == 0 && fc.Deletions == 0 {
				fc.Additions, fc.Deletions = p.Additions, p.Deletions
			}
		}
		out = append(out, fc)
	}
	return out
}

// fill appends candidates not already chosen until limit is reached.
func fill(chosen, candidates []string, limit int) []string {
	for _, c := range candidates {
		if len(chosen) >= limit {
			break
		}
		if !slices.Contains(chosen, c) {
			chosen = append(chosen, c)
		}
	}
	return chosen
}
