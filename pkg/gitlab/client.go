// Package gitlab provides the GitLab side of the bot: blame, merge request diffs,
// repository config files, notes and webhook parsing.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/mention-bot/pkg/cache"
)

// Retry and cache constants.
const (
	maxRetryAttempts  = 5
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
	userCacheTTL      = 6 * time.Hour
	userCacheSize     = 5000

	defaultRequestsPerSecond = 10
	requestBurst             = 20
)

// errThrottled wraps a failure to wait for the client-side rate limiter.
var errThrottled = errors.New("rate limiter wait failed")

// Client talks to one GitLab instance.
type Client struct {
	api        *gitlab.Client
	baseURL    *url.URL
	users      *cache.Cache[string] // commit email -> username
	limiter    *rate.Limiter
	retryDelay time.Duration
}

// Config holds configuration for creating a new GitLab client.
type Config struct {
	BaseURL     string // e.g. https://gitlab.example.com
	Token       string
	HTTPTimeout time.Duration
	// RequestsPerSecond caps API calls from this client; zero means 10.
	RequestsPerSecond float64
}

// New creates a GitLab client. The context bounds the lifetime of the client's caches.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("GitLab token is required")
	}
	base, err := parseBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	api, err := gitlab.NewClient(cfg.Token,
		gitlab.WithBaseURL(base.String()),
		gitlab.WithHTTPClient(httpClient),
		gitlab.WithCustomRetryMax(0), // retries are done here, bounded by the caller's context
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	slog.Info("GitLab client ready", "component", "gitlab", "url", base.String(), "requests_per_second", rps)
	return &Client{
		api:        api,
		baseURL:    base,
		users:      cache.New[string](ctx, userCacheTTL, userCacheSize),
		limiter:    rate.NewLimiter(rate.Limit(rps), requestBurst),
		retryDelay: initialRetryDelay,
	}, nil
}

func parseBase(raw string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(raw), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid GitLab URL %q", raw)
	}
	return base, nil
}

// ProjectPath maps a project web URL (or a bare "group/project" path) to the
// namespaced path the API accepts as a project id.
func (c *Client) ProjectPath(repositoryURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(repositoryURL))
	if err != nil {
		return "", fmt.Errorf("invalid repository URL %q: %w", repositoryURL, err)
	}
	p := u.Path
	if u.Host != "" {
		if !strings.EqualFold(u.Host, c.baseURL.Host) {
			return "", fmt.Errorf("repository %q is not on %s", repositoryURL, c.baseURL.Host)
		}
		p = strings.TrimPrefix(p, strings.TrimSuffix(c.baseURL.Path, "/"))
	}
	if i := strings.Index(p, "/-/"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	if !strings.Contains(p, "/") {
		return "", fmt.Errorf("repository URL %q has no project path", repositoryURL)
	}
	return p, nil
}

// retryWithBackoff executes fn with exponential backoff using the codeGROOVE retry library.
// Only transient failures are retried: rate limits, server errors and transport errors.
// Every attempt first waits for the client's rate limiter.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %w", errThrottled, err)
			}
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxRetryAttempts)),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.retryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.InfoContext(ctx, "Retry attempt", "component", "retry", "operation", operation,
				"attempt", n+1, "max_attempts", maxRetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
}

func isTransient(err error) bool {
	if err == nil || errors.Is(err, errThrottled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var er *gitlab.ErrorResponse
	if errors.As(err, &er) {
		if er.Response == nil {
			return false
		}
		code := er.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	// Anything else came from the transport.
	return true
}

// statusCode returns the HTTP status of a GitLab API error, or 0.
func statusCode(err error) int {
	var er *gitlab.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}
