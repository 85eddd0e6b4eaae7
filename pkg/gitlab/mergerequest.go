package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/codeGROOVE-dev/mention-bot/pkg/diff"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

const (
	perPageLimit   = 100
	maxDiffPages   = 30
	repoConfigPath = ".mention-bot"
)

// MergeRequest is the subset of a merge request the bot needs.
type MergeRequest struct {
	RepositoryURL string
	URL           string
	Title         string
	Author        string
	HeadSHA       string
	IID           int
}

// MergeRequest fetches a single merge request.
func (c *Client) MergeRequest(ctx context.Context, repositoryURL string, iid int) (*MergeRequest, error) {
	pid, err := c.ProjectPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	var mr *gitlab.MergeRequest
	err = c.retryWithBackoff(ctx, fmt.Sprintf("get merge request %s!%d", pid, iid), func() error {
		var err error
		mr, _, err = c.api.MergeRequests.GetMergeRequest(pid, iid, nil, gitlab.WithContext(ctx))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get merge request: %w", err)
	}

	out := &MergeRequest{
		RepositoryURL: repositoryURL,
		URL:           mr.WebURL,
		Title:         mr.Title,
		HeadSHA:       mr.SHA,
		IID:           mr.IID,
	}
	if mr.Author != nil {
		out.Author = mr.Author.Username
	}
	return out, nil
}

// Changes lists the files changed by a merge request, normalized to FileChange.
func (c *Client) Changes(ctx context.Context, repositoryURL string, iid int) ([]types.FileChange, error) {
	pid, err := c.ProjectPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	var files []diff.ChangedFile
	opt := &gitlab.ListMergeRequestDiffsOptions{ListOptions: gitlab.ListOptions{PerPage: perPageLimit, Page: 1}}
	for range maxDiffPages {
		var diffs []*gitlab.MergeRequestDiff
		var resp *gitlab.Response
		err := c.retryWithBackoff(ctx, fmt.Sprintf("list diffs %s!%d", pid, iid), func() error {
			var err error
			diffs, resp, err = c.api.MergeRequests.ListMergeRequestDiffs(pid, iid, opt, gitlab.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list merge request diffs: %w", err)
		}

		for _, d := range diffs {
			files = append(files, diff.ChangedFile{
				OldPath:     d.OldPath,
				NewPath:     d.NewPath,
				Patch:       d.Diff,
				NewFile:     d.NewFile,
				RenamedFile: d.RenamedFile,
				DeletedFile: d.DeletedFile,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	slog.InfoContext(ctx, "Fetched merge request changes", "component", "gitlab", "project", pid, "mr", iid, "files", len(files))
	return diff.FromChangedFiles(files), nil
}

// RepoConfig returns the contents of the repository's .mention-bot file at ref.
// A missing file is not an error: it returns nil content.
func (c *Client) RepoConfig(ctx context.Context, repositoryURL, ref string) ([]byte, error) {
	pid, err := c.ProjectPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = c.retryWithBackoff(ctx, "get "+repoConfigPath, func() error {
		var err error
		data, _, err = c.api.RepositoryFiles.GetRawFile(pid, repoConfigPath, &gitlab.GetRawFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
		return err
	})
	if statusCode(err) == http.StatusNotFound {
		slog.DebugContext(ctx, "No repository config", "component", "gitlab", "project", pid)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", repoConfigPath, err)
	}
	return data, nil
}

// PostComment adds a note to a merge request.
func (c *Client) PostComment(ctx context.Context, repositoryURL string, iid int, body string) error {
	pid, err := c.ProjectPath(repositoryURL)
	if err != nil {
		return err
	}

	err = c.retryWithBackoff(ctx, fmt.Sprintf("create note %s!%d", pid, iid), func() error {
		_, _, err := c.api.Notes.CreateMergeRequestNote(pid, iid, &gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create merge request note: %w", err)
	}

	slog.InfoContext(ctx, "Posted merge request note", "component", "gitlab", "project", pid, "mr", iid)
	return nil
}
