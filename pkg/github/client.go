// Package github provides the GitHub side of the bot: blame at a commit, pull
// request files, repository config files and comments.
package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	defaultAPIURL = "https://api.github.com"

	maxRetryAttempts  = 5
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Client handles all GitHub API interactions.
type Client struct {
	jwtExpiry  time.Time
	httpClient HTTPDoer
	appKey     *rsa.PrivateKey
	installs   map[string]*installation // by account login
	prxClients map[string]prxEntry      // by org
	newPrx     func(token string) prxSource
	apiURL     string
	appID      string
	token      string // app JWT or personal access token
	retryDelay time.Duration
	tokenMutex sync.RWMutex
	prxMutex   sync.Mutex
	isAppAuth  bool
}

// Config holds configuration for creating a new GitHub client.
type Config struct {
	Token       string // personal access token; empty falls back to "gh auth token"
	AppID       string
	AppKeyPath  string
	AppKey      string // PEM content, preferred over AppKeyPath
	APIURL      string // defaults to https://api.github.com
	HTTPTimeout time.Duration
	UseAppAuth  bool
}

// New creates a new GitHub API client using a personal token or GitHub App authentication.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var c *Client
	var err error
	if cfg.UseAppAuth {
		c, err = newAppAuthClient(cfg)
	} else {
		c, err = newPersonalTokenClient(ctx, cfg.Token)
	}
	if err != nil {
		return nil, err
	}
	c.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	c.apiURL = strings.TrimSuffix(cfg.APIURL, "/")
	if c.apiURL == "" {
		c.apiURL = defaultAPIURL
	}
	c.retryDelay = initialRetryDelay
	return c, nil
}

type orgKey struct{}

// WithOrg scopes requests made with ctx to org's installation token, so concurrent
// runs for different orgs can share a Client.
func WithOrg(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, orgKey{}, org)
}

func (*Client) org(ctx context.Context) string {
	org, _ := ctx.Value(orgKey{}).(string)
	return org
}

// IsUserAccount checks if the given account is a user account (not an organization).
func (c *Client) IsUserAccount(account string) bool {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	inst, ok := c.installs[account]
	return ok && inst.accountType == "User"
}

// Token returns the current GitHub token for external use (e.g., sprinkler).
// For App authentication with an org on ctx (see WithOrg), returns the installation token.
// Otherwise returns the base token (JWT or personal access token).
func (c *Client) Token(ctx context.Context) (string, error) {
	if org := c.org(ctx); c.isAppAuth && org != "" {
		return c.installationToken(ctx, org)
	}
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.token, nil
}

// authToken picks the token for an API call.
func (c *Client) authToken(ctx context.Context) string {
	org := c.org(ctx)
	if c.isAppAuth && org != "" {
		installToken, err := c.installationToken(ctx, org)
		if err == nil {
			return installToken
		}
		// Graceful degradation: try with JWT token
		slog.WarnContext(ctx, "Failed to get installation token, attempting with JWT (may have limited access)", "org", org, "error", err)
	}
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.token
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "error", err)
	}
}

// repoPath splits a repository URL ("https://github.com/owner/repo" or "owner/repo")
// into owner and name.
func repoPath(repositoryURL string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(repositoryURL))
	if err != nil {
		return "", "", fmt.Errorf("invalid repository URL %q: %w", repositoryURL, err)
	}
	parts := strings.Split(strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository URL %q has no owner/repo", repositoryURL)
	}
	return parts[0], parts[1], nil
}

// doRequest makes an HTTP request to the GitHub API with retry logic.
// The caller owns the returned body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	if err := c.ensureFreshJWT(); err != nil {
		return nil, fmt.Errorf("failed to refresh JWT: %w", err)
	}

	apiURL := c.apiURL + path
	slog.DebugContext(ctx, "HTTP request", "component", "http", "method", method, "url", apiURL)
	if accept == "" {
		accept = "application/vnd.github.v3+json"
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var resp *http.Response
	err := c.retryWithBackoff(ctx, method+" "+path, func() error {
		req, err := http.NewRequestWithContext(ctx, method, apiURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.authToken(ctx))
		req.Header.Set("Accept", accept)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		localResp, err := c.httpClient.Do(req) //nolint:bodyclose // body is closed via drainAndCloseBody or passed to caller
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if localResp.StatusCode == http.StatusTooManyRequests {
			drainAndCloseBody(localResp.Body)
			slog.WarnContext(ctx, "Rate limited - will retry with backoff", "method", method, "url", apiURL, "status", 429)
			return fmt.Errorf("http %d: rate limited", localResp.StatusCode)
		}
		if localResp.StatusCode >= http.StatusInternalServerError && localResp.StatusCode < 600 {
			drainAndCloseBody(localResp.Body)
			slog.WarnContext(ctx, "Server error - will retry with backoff", "method", method, "url", apiURL, "status", localResp.StatusCode)
			return fmt.Errorf("http %d: server error", localResp.StatusCode)
		}

		resp = localResp
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "HTTP response", "component", "http", "method", method, "url", apiURL, "status", resp.StatusCode)
	return resp, nil
}

// retryWithBackoff executes a function with exponential backoff using the codeGROOVE retry library.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(maxRetryAttempts)),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.retryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.InfoContext(ctx, "Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", maxRetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if err == nil {
				return false
			}
			errStr := err.Error()
			return strings.Contains(errStr, "rate limited") ||
				strings.Contains(errStr, "server error") ||
				strings.Contains(errStr, "connection refused") ||
				strings.Contains(errStr, "connection reset") ||
				strings.Contains(errStr, "timeout") ||
				strings.Contains(errStr, "temporary failure") ||
				strings.Contains(errStr, "EOF")
		}),
	)
}

// readError builds an error from a non-success response.
func readError(operation string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to %s: status %d (could not read body: %w)", operation, resp.StatusCode, err)
	}
	return fmt.Errorf("failed to %s: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(body)))
}
