package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/mention-bot/pkg/diff"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

const (
	perPageLimit   = 100
	maxFilePages   = 30 // GitHub stops listing files at 3000
	repoConfigPath = ".mention-bot"
	maxConfigSize  = 1 << 20
)

// PullRequest is the subset of a pull request the bot needs.
type PullRequest struct {
	CreatedAt     time.Time
	RepositoryURL string
	URL           string
	Title         string
	State         string
	Author        string
	HeadSHA       string
	Number        int
}

// PullRequest fetches a single pull request.
func (c *Client) PullRequest(ctx context.Context, repositoryURL string, number int) (*PullRequest, error) {
	owner, repo, err := repoPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}
	defer drainAndCloseBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, readError("get pull request", resp)
	}

	var pr struct {
		CreatedAt time.Time `json:"created_at"`
		HTMLURL   string    `json:"html_url"`
		Title     string    `json:"title"`
		State     string    `json:"state"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Number int `json:"number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode pull request: %w", err)
	}

	return &PullRequest{
		RepositoryURL: repositoryURL,
		URL:           pr.HTMLURL,
		Title:         pr.Title,
		State:         pr.State,
		CreatedAt:     pr.CreatedAt,
		Author:        pr.User.Login,
		HeadSHA:       pr.Head.SHA,
		Number:        pr.Number,
	}, nil
}

// Changes lists the files changed by a pull request, normalized to FileChange.
func (c *Client) Changes(ctx context.Context, repositoryURL string, number int) ([]types.FileChange, error) {
	owner, repo, err := repoPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	var files []diff.ChangedFile
	for page := 1; page <= maxFilePages; page++ {
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d", owner, repo, number, perPageLimit, page)
		batch, err := c.listFiles(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, f := range batch {
			files = append(files, diff.ChangedFile{
				OldPath:     f.PreviousFilename,
				NewPath:     f.Filename,
				Patch:       f.Patch,
				NewFile:     f.Status == "added",
				RenamedFile: f.Status == "renamed",
				DeletedFile: f.Status == "removed",
				TooLarge:    f.Patch == "" && f.Changes > 0,
			})
		}
		if len(batch) < perPageLimit {
			break
		}
	}

	slog.DebugContext(ctx, "Listed pull request files", "component", "github", "repo", owner+"/"+repo, "pr", number, "files", len(files))
	return diff.FromChangedFiles(files), nil
}

type prFile struct {
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename"`
	Status           string `json:"status"`
	Patch            string `json:"patch"`
	Changes          int    `json:"changes"`
}

func (c *Client) listFiles(ctx context.Context, path string) ([]prFile, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list pull request files: %w", err)
	}
	defer drainAndCloseBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, readError("list pull request files", resp)
	}

	var files []prFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode pull request files: %w", err)
	}
	return files, nil
}

// RepoConfig returns the raw .mention-bot file at ref, or nil if the repository has none.
func (c *Client) RepoConfig(ctx context.Context, repositoryURL, ref string) ([]byte, error) {
	owner, repo, err := repoPath(repositoryURL)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, repoConfigPath, url.QueryEscape(ref))
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, "application/vnd.github.raw+json")
	if err != nil {
		return nil, fmt.Errorf("failed to get repository config: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, readError("get repository config", resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read repository config: %w", err)
	}
	return data, nil
}

// PostComment adds a comment to the pull request conversation.
func (c *Client) PostComment(ctx context.Context, repositoryURL string, number int, body string) error {
	owner, repo, err := repoPath(repositoryURL)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	resp, err := c.doRequest(ctx, http.MethodPost, path, map[string]string{"body": body}, "")
	if err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}
	defer drainAndCloseBody(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return readError("post comment", resp)
	}

	slog.InfoContext(ctx, "Posted comment", "component", "github", "repo", owner+"/"+repo, "pr", number)
	return nil
}
