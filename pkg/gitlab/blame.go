package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/codeGROOVE-dev/mention-bot/pkg/blame"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// Blame implements blame.Source using the repository files blame API at commitID.
// GitLab accepts one line range per request, so each range is a separate call.
func (c *Client) Blame(ctx context.Context, repositoryURL, commitID, path string, ranges []types.LineRange) ([]types.BlameEntry, error) {
	pid, err := c.ProjectPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	type span struct{ start, end int }
	spans := []span{{}} // whole file
	if ranges != nil {
		spans = spans[:0]
		for _, r := range ranges {
			spans = append(spans, span{r.Start, r.End()})
		}
	}

	var entries []types.BlameEntry
	for _, s := range spans {
		opt := &gitlab.GetFileBlameOptions{Ref: gitlab.Ptr(commitID)}
		first := 1
		if s.start > 0 {
			opt.RangeStart = gitlab.Ptr(s.start)
			opt.RangeEnd = gitlab.Ptr(s.end)
			first = s.start
		}

		var blocks []*gitlab.FileBlameRange
		err := c.retryWithBackoff(ctx, "blame "+path, func() error {
			var err error
			blocks, _, err = c.api.RepositoryFiles.GetFileBlame(pid, path, opt, gitlab.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, classify(err)
		}

		line := first
		for _, b := range blocks {
			author := c.username(ctx, b.Commit.AuthorName, b.Commit.AuthorEmail)
			for range b.Lines {
				entries = append(entries, types.BlameEntry{
					Path:     path,
					Line:     line,
					Author:   author,
					CommitID: b.Commit.ID,
				})
				line++
			}
		}
	}

	slog.DebugContext(ctx, "Fetched blame", "component", "gitlab", "project", pid, "path", path, "lines", len(entries))
	return entries, nil
}

// classify maps GitLab errors onto the blame sentinels.
func classify(err error) error {
	var er *gitlab.ErrorResponse
	if !errors.As(err, &er) {
		return err
	}
	msg := strings.ToLower(er.Message)
	switch {
	case statusCode(err) == http.StatusNotFound:
		return fmt.Errorf("%w: %w", blame.ErrNotFound, err)
	case strings.Contains(msg, "binary"):
		return fmt.Errorf("%w: %w", blame.ErrBinary, err)
	case statusCode(err) == http.StatusRequestEntityTooLarge, strings.Contains(msg, "too large"):
		return fmt.Errorf("%w: %w", blame.ErrTooLarge, err)
	}
	return err
}

// username maps a commit author onto a GitLab username. Blame only carries the
// commit's name and email, so the email is looked up once and remembered.
func (c *Client) username(ctx context.Context, name, email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return types.NormalizeIdentity(name)
	}
	if u, ok := c.users.Get(email); ok {
		return u
	}

	users, _, err := c.api.Users.ListUsers(&gitlab.ListUsersOptions{Search: gitlab.Ptr(email)}, gitlab.WithContext(ctx))
	if err != nil {
		slog.DebugContext(ctx, "User lookup failed (falling back to email)", "component", "gitlab", "error", err)
		return fallbackUsername(email)
	}

	username := ""
	for _, u := range users {
		if strings.EqualFold(u.Email, email) || strings.EqualFold(u.PublicEmail, email) || len(users) == 1 {
			username = u.Username
			break
		}
	}
	if username == "" {
		username = fallbackUsername(email)
	}
	username = types.NormalizeIdentity(username)
	c.users.Set(email, username)
	return username
}

// fallbackUsername guesses a username from an email address. GitLab's private
// commit emails look like "1234-alice@users.noreply.gitlab.com".
func fallbackUsername(email string) string {
	local, domain, _ := strings.Cut(email, "@")
	if strings.HasPrefix(domain, "users.noreply.") {
		if id, rest, ok := strings.Cut(local, "-"); ok && isDigits(id) {
			local = rest
		}
	}
	return types.NormalizeIdentity(local)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
