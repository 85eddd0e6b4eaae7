package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/prx/pkg/prx"
)

// prxSource is the part of prx.Client the bot uses.
type prxSource interface {
	PullRequestWithReferenceTime(ctx context.Context, owner, repo string, prNumber int, referenceTime time.Time) (*prx.PullRequestData, error)
}

// prxEntry is the prx client for one org, valid while its token is current.
type prxEntry struct {
	client prxSource
	token  string
}

func newPrxClient(token string) prxSource {
	return prx.NewClient(token, prx.WithLogger(slog.Default()))
}

// PullRequestDetails fetches pull request metadata through prx, authenticated
// with the token for ctx's org (see WithOrg). prx only talks to api.github.com,
// so a client with a custom API URL uses PullRequest instead.
func (c *Client) PullRequestDetails(ctx context.Context, repositoryURL string, number int) (*PullRequest, error) {
	if c.apiURL != defaultAPIURL {
		return c.PullRequest(ctx, repositoryURL, number)
	}
	owner, repo, err := repoPath(repositoryURL)
	if err != nil {
		return nil, err
	}
	client, err := c.prxFor(ctx)
	if err != nil {
		return nil, err
	}

	data, err := client.PullRequestWithReferenceTime(ctx, owner, repo, number, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	pr := data.PullRequest
	return &PullRequest{
		RepositoryURL: repositoryURL,
		URL:           fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, pr.Number),
		Title:         pr.Title,
		State:         pr.State,
		CreatedAt:     pr.CreatedAt,
		Author:        pr.Author,
		HeadSHA:       pr.HeadSHA,
		Number:        pr.Number,
	}, nil
}

// prxFor returns the prx client for ctx's org, replacing it when the org's
// installation token has rotated.
func (c *Client) prxFor(ctx context.Context) (prxSource, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	org := c.org(ctx)

	c.prxMutex.Lock()
	defer c.prxMutex.Unlock()
	if e, ok := c.prxClients[org]; ok && e.token == token {
		return e.client, nil
	}
	if c.prxClients == nil {
		c.prxClients = make(map[string]prxEntry)
	}
	newClient := c.newPrx
	if newClient == nil {
		newClient = newPrxClient
	}
	client := newClient(token)
	c.prxClients[org] = prxEntry{client: client, token: token}
	slog.DebugContext(ctx, "Created prx client", "component", "github", "org", org)
	return client, nil
}
