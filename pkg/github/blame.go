package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/mention-bot/pkg/blame"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

const blameQuery = `
query($owner: String!, $repo: String!, $expression: String!, $path: String!) {
	repository(owner: $owner, name: $repo) {
		object(expression: $expression) {
			... on Commit {
				blame(path: $path) {
					ranges {
						startingLine
						endingLine
						commit {
							oid
							author {
								email
								user {
									login
								}
							}
						}
					}
				}
			}
		}
	}
}`

// Blame implements blame.Source with the GraphQL blame of path at commitID.
// GitHub always returns the whole file; only blocks overlapping ranges are expanded.
func (c *Client) Blame(ctx context.Context, repositoryURL, commitID, path string, ranges []types.LineRange) ([]types.BlameEntry, error) {
	owner, repo, err := repoPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	result, err := c.MakeGraphQLRequest(ctx, "blame", blameQuery, map[string]any{
		"owner":      owner,
		"repo":       repo,
		"expression": commitID,
		"path":       path,
	})
	if err != nil {
		return nil, classify(err)
	}

	entries, err := parseBlame(result, path, ranges)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "Fetched blame", "component", "github", "repo", owner+"/"+repo, "path", path, "lines", len(entries))
	return entries, nil
}

// classify maps GraphQL failures onto the blame sentinels.
func classify(err error) error {
	var gqlErr *graphQLError
	if !errors.As(err, &gqlErr) {
		return err
	}
	msg := strings.ToLower(gqlErr.Error())
	switch {
	case gqlErr.hasType("NOT_FOUND"), strings.Contains(msg, "could not resolve"):
		return fmt.Errorf("%w: %w", blame.ErrNotFound, err)
	case strings.Contains(msg, "binary"):
		return fmt.Errorf("%w: %w", blame.ErrBinary, err)
	case strings.Contains(msg, "too large"), strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %w", blame.ErrTooLarge, err)
	}
	return err
}

// parseBlame extracts per-line entries from a blame response.
func parseBlame(result map[string]any, path string, ranges []types.LineRange) ([]types.BlameEntry, error) {
	data, ok := mapValue(result, "data")
	if !ok {
		return nil, errors.New("no data field in blame response")
	}
	repository, ok := mapValue(data, "repository")
	if !ok {
		return nil, fmt.Errorf("%w: repository", blame.ErrNotFound)
	}
	object, ok := mapValue(repository, "object")
	if !ok {
		return nil, fmt.Errorf("%w: commit", blame.ErrNotFound)
	}
	blameData, ok := mapValue(object, "blame")
	if !ok {
		return nil, fmt.Errorf("%w: %s", blame.ErrNotFound, path)
	}
	blocks, ok := blameData["ranges"].([]any)
	if !ok {
		return nil, nil
	}

	var entries []types.BlameEntry
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		start, ok := block["startingLine"].(float64)
		if !ok {
			continue
		}
		end, ok := block["endingLine"].(float64)
		if !ok {
			continue
		}
		if !overlaps(int(start), int(end), ranges) {
			continue
		}

		commit, ok := mapValue(block, "commit")
		if !ok {
			continue
		}
		oid, _ := commit["oid"].(string) //nolint:errcheck // missing oid is tolerated
		author := commitAuthor(commit)
		if author == "" {
			slog.Debug("Skipping blame block with no author", "path", path, "commit", oid)
			continue
		}

		for line := int(start); line <= int(end); line++ {
			entries = append(entries, types.BlameEntry{Path: path, Line: line, Author: author, CommitID: oid})
		}
	}
	return entries, nil
}

// commitAuthor prefers the GitHub login and falls back to the email's local part.
func commitAuthor(commit map[string]any) string {
	author, ok := mapValue(commit, "author")
	if !ok {
		return ""
	}
	if user, ok := mapValue(author, "user"); ok {
		if login, ok := user["login"].(string); ok && login != "" {
			return login
		}
	}
	if email, ok := author["email"].(string); ok {
		local, _, _ := strings.Cut(email, "@")
		// <id>+<login>@users.noreply.github.com
		if _, login, found := strings.Cut(local, "+"); found {
			return login
		}
		return local
	}
	return ""
}

func overlaps(start, end int, ranges []types.LineRange) bool {
	if ranges == nil {
		return true
	}
	for _, r := range ranges {
		if start <= r.End() && end >= r.Start {
			return true
		}
	}
	return false
}
