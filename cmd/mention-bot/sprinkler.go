package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sprinkler/pkg/client"

	"github.com/codeGROOVE-dev/mention-bot/pkg/cache"
	"github.com/codeGROOVE-dev/mention-bot/pkg/github"
	"github.com/codeGROOVE-dev/mention-bot/pkg/server"
)

const (
	eventChannelSize      = 100              // buffered PR URLs awaiting processing
	eventDedupWindow      = 5 * time.Second  // repeated events for one URL inside this window are dropped
	newPullRequestWindow  = 10 * time.Minute // only PRs opened this recently get a comment
	handledTTL            = 24 * time.Hour
	handledCacheSize      = 10000
	fetchMaxRetries       = 3
	fetchMaxDelay         = 10 * time.Second
	connectionHealthCheck = 2 * time.Minute
	maxReconnectAttempts  = 100
	reconnectBackoff      = 30 * time.Second
	maxReconnectBackoff   = 5 * time.Minute
)

// pullRequests is the part of the GitHub client the monitor needs.
type pullRequests interface {
	PullRequestDetails(ctx context.Context, repositoryURL string, number int) (*github.PullRequest, error)
	Token(ctx context.Context) (string, error)
}

// submitter runs the bot for one pull request.
type submitter interface {
	Submit(ctx context.Context, req server.Request)
}

// sprinklerMonitor follows pull request events for one GitHub org and submits
// newly opened pull requests to the bot.
type sprinklerMonitor struct {
	lastConnectedAt   time.Time
	lastEventAt       time.Time
	gh                pullRequests
	bot               submitter
	client            *client.Client
	handled           *cache.Cache[bool] // PR URLs already submitted
	eventChan         chan string
	lastEventMap      map[string]time.Time
	stopChan          chan struct{}
	org               string
	serverURL         string
	reconnectAttempts int
	mu                sync.RWMutex
	isRunning         bool
	isConnected       bool
}

func newSprinklerMonitor(ctx context.Context, gh pullRequests, bot submitter, org, serverURL string) *sprinklerMonitor {
	if serverURL == "" {
		serverURL = "wss://" + client.DefaultServerAddress + "/ws"
	}
	return &sprinklerMonitor{
		gh:           gh,
		bot:          bot,
		org:          org,
		serverURL:    serverURL,
		handled:      cache.New[bool](ctx, handledTTL, handledCacheSize),
		eventChan:    make(chan string, eventChannelSize),
		lastEventMap: make(map[string]time.Time),
		stopChan:     make(chan struct{}),
	}
}

// start begins monitoring the org in the background.
func (sm *sprinklerMonitor) start(ctx context.Context) {
	sm.mu.Lock()
	if sm.isRunning {
		sm.mu.Unlock()
		return
	}
	sm.isRunning = true
	sm.mu.Unlock()

	slog.Info("Starting event monitor", "component", "sprinkler", "org", sm.org)
	go sm.processEvents(ctx)
	go sm.manageConnection(ctx)
	go sm.monitorHealth(ctx)
}

// manageConnection restarts the sprinkler client whenever it gives up.
// The client reconnects on its own; this only handles fatal exits.
func (sm *sprinklerMonitor) manageConnection(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Connection manager panic", "component", "sprinkler", "org", sm.org, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		default:
		}

		err := sm.connect(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}

		backoff := 5 * time.Second
		if err != nil {
			sm.mu.Lock()
			sm.reconnectAttempts++
			attempts := sm.reconnectAttempts
			sm.mu.Unlock()

			if attempts >= maxReconnectAttempts {
				slog.Error("Max reconnection attempts reached, giving up", "component", "sprinkler", "org", sm.org, "attempts", attempts)
				return
			}
			backoff = min(reconnectBackoff*time.Duration(attempts), maxReconnectBackoff)
			slog.Warn("Sprinkler client gave up, restarting after backoff",
				"component", "sprinkler", "org", sm.org, "attempt", attempts, "backoff", backoff, "error", err)
		} else {
			sm.mu.Lock()
			sm.reconnectAttempts = 0
			sm.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case <-time.After(backoff):
		}
	}
}

// connect runs one sprinkler client until it exits.
func (sm *sprinklerMonitor) connect(ctx context.Context) error {
	wsClient, err := client.New(client.Config{
		ServerURL:    sm.serverURL,
		Organization: sm.org,
		TokenProvider: func() (string, error) {
			token, err := sm.gh.Token(github.WithOrg(ctx, sm.org))
			if err != nil {
				return "", fmt.Errorf("failed to get token: %w", err)
			}
			return token, nil
		},
		EventTypes: []string{"pull_request"},
		OnConnect: func() {
			sm.mu.Lock()
			sm.isConnected = true
			sm.lastConnectedAt = time.Now()
			sm.mu.Unlock()
			slog.Info("Sprinkler connected", "component", "sprinkler", "org", sm.org)
		},
		OnDisconnect: func(err error) {
			sm.mu.Lock()
			wasConnected := sm.isConnected
			sm.isConnected = false
			sm.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) && wasConnected {
				slog.Warn("Sprinkler disconnected", "component", "sprinkler", "org", sm.org, "error", err)
			}
		},
		OnEvent: func(event client.Event) {
			sm.handleEvent(event.Type, event.URL)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create sprinkler client: %w", err)
	}

	sm.mu.Lock()
	sm.client = wsClient
	sm.mu.Unlock()

	start := time.Now()
	if err := wsClient.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Sprinkler client stopped with error", "component", "sprinkler", "org", sm.org,
			"uptime", time.Since(start).Round(time.Second), "error", err)
		return err
	}
	return ctx.Err()
}

func (sm *sprinklerMonitor) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(connectionHealthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case <-ticker.C:
			sm.mu.RLock()
			connected, since := sm.isConnected, sm.lastConnectedAt
			sm.mu.RUnlock()
			if connected {
				slog.Debug("Sprinkler connected", "component", "sprinkler", "org", sm.org, "connected_for", time.Since(since).Round(time.Second))
			} else if !since.IsZero() {
				slog.Warn("Sprinkler disconnected", "component", "sprinkler", "org", sm.org, "disconnected_for", time.Since(since).Round(time.Second))
			}
		}
	}
}

// handleEvent queues pull request URLs for this org, dropping repeats inside eventDedupWindow.
func (sm *sprinklerMonitor) handleEvent(eventType, url string) {
	if eventType != "pull_request" || url == "" {
		return
	}
	ref, err := parsePRURL(url)
	if err != nil || !strings.EqualFold(ref.owner, sm.org) {
		slog.Debug("Ignoring event", "component", "sprinkler", "url", url, "org", sm.org)
		return
	}

	now := time.Now()
	sm.mu.Lock()
	if last, ok := sm.lastEventMap[url]; ok && now.Sub(last) < eventDedupWindow {
		sm.mu.Unlock()
		return
	}
	sm.lastEventMap[url] = now
	sm.lastEventAt = now
	for u, t := range sm.lastEventMap {
		if now.Sub(t) > eventDedupWindow {
			delete(sm.lastEventMap, u)
		}
	}
	sm.mu.Unlock()

	select {
	case sm.eventChan <- url:
	default:
		slog.Warn("Event channel full, dropping event", "component", "sprinkler", "url", url)
	}
}

func (sm *sprinklerMonitor) processEvents(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event processor panic", "component", "sprinkler", "org", sm.org, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case url := <-sm.eventChan:
			sm.processEvent(ctx, url)
		}
	}
}

// processEvent submits the pull request at url if it was opened recently and
// has not been submitted before.
func (sm *sprinklerMonitor) processEvent(ctx context.Context, url string) {
	if _, done := sm.handled.Get(url); done {
		return
	}
	ref, err := parsePRURL(url)
	if err != nil {
		slog.Warn("Failed to parse PR URL", "component", "sprinkler", "url", url, "error", err)
		return
	}
	ctx = github.WithOrg(ctx, ref.owner)

	var pr *github.PullRequest
	err = retry.Do(func() error {
		var err error
		pr, err = sm.gh.PullRequestDetails(ctx, ref.repositoryURL(), ref.number)
		return err
	},
		retry.Attempts(fetchMaxRetries),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(fetchMaxDelay),
		retry.Context(ctx),
	)
	if err != nil {
		slog.Error("Failed to fetch pull request", "component", "sprinkler", "url", url, "error", err)
		return
	}

	if pr.State != "open" || time.Since(pr.CreatedAt) > newPullRequestWindow {
		slog.Debug("Not a newly opened pull request", "component", "sprinkler", "url", url, "state", pr.State, "created", pr.CreatedAt)
		return
	}

	sm.handled.Set(url, true)
	sm.bot.Submit(ctx, server.Request{
		RepositoryURL: pr.RepositoryURL,
		URL:           pr.URL,
		Title:         pr.Title,
		CommitID:      pr.HeadSHA,
		Author:        pr.Author,
		Number:        pr.Number,
	})
}

func (sm *sprinklerMonitor) stop() {
	sm.mu.Lock()
	if !sm.isRunning {
		sm.mu.Unlock()
		return
	}
	sm.isRunning = false
	wsClient := sm.client
	sm.mu.Unlock()

	close(sm.stopChan)
	if wsClient != nil {
		wsClient.Stop()
	}
	slog.Info("Event monitor stopped", "component", "sprinkler", "org", sm.org)
}

func (sm *sprinklerMonitor) healthStatus() map[string]any {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := map[string]any{
		"is_running":         sm.isRunning,
		"is_connected":       sm.isConnected,
		"reconnect_attempts": sm.reconnectAttempts,
	}
	if !sm.lastConnectedAt.IsZero() {
		status["last_connected_at"] = sm.lastConnectedAt
	}
	if !sm.lastEventAt.IsZero() {
		status["last_event_at"] = sm.lastEventAt
	}
	return status
}

type prRef struct {
	owner  string
	repo   string
	number int
}

func (r prRef) repositoryURL() string {
	return "https://github.com/" + r.owner + "/" + r.repo
}

// parsePRURL splits https://github.com/owner/repo/pull/123.
func parsePRURL(url string) (prRef, error) {
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	if len(parts) != 7 || parts[2] != "github.com" || parts[5] != "pull" {
		return prRef{}, fmt.Errorf("invalid GitHub PR URL: %s", url)
	}
	n, err := strconv.Atoi(parts[6])
	if err != nil || n <= 0 {
		return prRef{}, fmt.Errorf("invalid PR number in URL: %s", url)
	}
	return prRef{owner: parts[3], repo: parts[4], number: n}, nil
}
