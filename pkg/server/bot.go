package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/mention-bot/pkg/config"
	"github.com/codeGROOVE-dev/mention-bot/pkg/message"
	"github.com/codeGROOVE-dev/mention-bot/pkg/reviewer"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

var errSuperseded = errors.New("superseded by a newer event")

// Host is a code host the bot reads merge requests from and comments on.
type Host interface {
	Changes(ctx context.Context, repositoryURL string, number int) ([]types.FileChange, error)
	RepoConfig(ctx context.Context, repositoryURL, ref string) ([]byte, error)
	PostComment(ctx context.Context, repositoryURL string, number int, body string) error
}

// Request is a newly opened merge request.
type Request struct {
	RepositoryURL string
	URL           string
	Title         string
	CommitID      string
	Author        string
	Number        int
}

// Key identifies the merge request across events.
func (r Request) Key() string {
	return fmt.Sprintf("%s#%d", r.RepositoryURL, r.Number)
}

// Outcome says how a run ended.
type Outcome int

// Run outcomes.
const (
	OutcomeFailed Outcome = iota
	OutcomeCommented
	OutcomeDryRun
	OutcomeNoReviewers
	OutcomeSkipped
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommented:
		return "commented"
	case OutcomeDryRun:
		return "dry-run"
	case OutcomeNoReviewers:
		return "no-reviewers"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "failed"
	}
}

// Result is what a run produced.
type Result struct {
	Comment   string
	Reviewers []string
	Outcome   Outcome
}

// BotConfig configures a Bot.
type BotConfig struct {
	Policy  *reviewer.Config // used when a repository has no .mention-bot file
	Message string           // default comment template, empty for message.Default
	Timeout time.Duration    // per-run limit, zero for none
	DryRun  bool             // compute reviewers but never comment
}

type run struct {
	cancel context.CancelCauseFunc
	id     uint64
}

// Bot turns merge request events into reviewer comments. At most one run per
// merge request is in flight: a newer event for the same merge request cancels
// the older run.
type Bot struct {
	host     Host
	selector *reviewer.Selector
	metrics  *Metrics
	runs     map[string]*run
	cfg      BotConfig
	wg       sync.WaitGroup
	mu       sync.Mutex
	seq      uint64
}

// NewBot creates a Bot. A nil metrics gets a private collector.
func NewBot(host Host, selector *reviewer.Selector, metrics *Metrics, cfg BotConfig) *Bot {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if cfg.Policy == nil {
		cfg.Policy = reviewer.DefaultConfig()
	}
	return &Bot{
		host:     host,
		selector: selector,
		metrics:  metrics,
		runs:     make(map[string]*run),
		cfg:      cfg,
	}
}

// Submit handles req in the background, cancelling any run still in flight for
// the same merge request. ctx bounds the run; it should outlive the webhook request.
func (b *Bot) Submit(ctx context.Context, req Request) {
	runCtx, cancel := context.WithCancelCause(ctx)
	key := req.Key()

	b.mu.Lock()
	if prev, ok := b.runs[key]; ok {
		prev.cancel(errSuperseded)
	}
	b.seq++
	id := b.seq
	b.runs[key] = &run{cancel: cancel, id: id}
	b.mu.Unlock()

	b.metrics.RecordSeen(req)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			if r, ok := b.runs[key]; ok && r.id == id {
				delete(b.runs, key)
			}
			b.mu.Unlock()
			cancel(nil)
		}()

		res, err := b.Handle(runCtx, req)
		switch {
		case res.Outcome == OutcomeSuperseded:
			slog.Info("Run superseded by a newer event", "component", "bot", "mr", req.URL)
		case err != nil:
			slog.Error("Failed to handle merge request", "component", "bot", "mr", req.URL, "error", err)
		}
	}()
}

// Wait blocks until every submitted run has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Handle runs the whole flow for req synchronously: repository config, changes,
// reviewer selection, then the comment.
func (b *Bot) Handle(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}
	defer func() {
		if err != nil {
			res.Outcome = OutcomeFailed
			if errors.Is(context.Cause(ctx), errSuperseded) {
				res.Outcome = OutcomeSuperseded
			}
		}
		b.metrics.RecordRun(res.Outcome)
		slog.InfoContext(ctx, "Merge request handled",
			"component", "bot",
			"mr", req.URL,
			"outcome", res.Outcome.String(),
			"reviewers", res.Reviewers,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}()

	repo := b.repoConfig(ctx, req)
	if repo.SkipTitle != "" && strings.Contains(req.Title, repo.SkipTitle) {
		slog.InfoContext(ctx, "Skipping merge request by title", "component", "bot", "mr", req.URL, "skip_title", repo.SkipTitle)
		return Result{Outcome: OutcomeSkipped}, nil
	}

	changes, err := b.host.Changes(ctx, req.RepositoryURL, req.Number)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list changes: %w", err)
	}

	reviewers, err := b.selector.GuessOwners(ctx, req.RepositoryURL, req.CommitID, changes, req.Author, repo.Policy)
	if err != nil {
		return Result{}, fmt.Errorf("failed to guess reviewers: %w", err)
	}
	if len(reviewers) == 0 {
		slog.InfoContext(ctx, "No reviewers found", "component", "bot", "mr", req.URL, "files", len(changes))
		return Result{Outcome: OutcomeNoReviewers}, nil
	}

	res = Result{
		Reviewers: reviewers,
		Comment:   message.Render(repo.Message, reviewers, req.Author),
		Outcome:   OutcomeDryRun,
	}
	if b.cfg.DryRun {
		return res, nil
	}

	if err := b.host.PostComment(ctx, req.RepositoryURL, req.Number, res.Comment); err != nil {
		return res, fmt.Errorf("failed to post comment: %w", err)
	}
	b.metrics.RecordCommented(req)
	res.Outcome = OutcomeCommented
	return res, nil
}

// repoConfig reads .mention-bot at the merge request's commit. Any failure falls
// back to the service defaults.
func (b *Bot) repoConfig(ctx context.Context, req Request) *config.Repo {
	fallback := &config.Repo{Policy: b.cfg.Policy, Message: b.cfg.Message}

	data, err := b.host.RepoConfig(ctx, req.RepositoryURL, req.CommitID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read .mention-bot (continuing with defaults)", "component", "bot", "repo", req.RepositoryURL, "error", err)
		return fallback
	}
	repo, err := config.LoadRepo(b.cfg.Policy, b.cfg.Message, data)
	if err != nil {
		slog.WarnContext(ctx, "Invalid .mention-bot (continuing with defaults)", "component", "bot", "repo", req.RepositoryURL, "error", err)
		return fallback
	}
	return repo
}
