// Package main implements a CLI that prints the reviewers mention-bot would
// suggest for one GitLab merge request or GitHub pull request.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/codeGROOVE-dev/mention-bot/pkg/blame"
	"github.com/codeGROOVE-dev/mention-bot/pkg/github"
	"github.com/codeGROOVE-dev/mention-bot/pkg/gitlab"
	"github.com/codeGROOVE-dev/mention-bot/pkg/reviewer"
	"github.com/codeGROOVE-dev/mention-bot/pkg/server"
)

const httpTimeout = 30 * time.Second

// host is a code host that can also blame files.
type host interface {
	server.Host
	blame.Source
}

func main() {
	cmd := &cli.Command{
		Name:      "guess-reviewers",
		Usage:     "Print the reviewers mention-bot would suggest for a merge request",
		ArgsUsage: "<https://gitlab.example.com/group/project/-/merge_requests/1 | https://github.com/owner/repo/pull/1 | owner/repo#1>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "gitlab-token",
				Usage:   "GitLab personal access token",
				Sources: cli.EnvVars("GITLAB_TOKEN", "MENTION_BOT_GITLAB_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "github-token",
				Usage:   "GitHub token (default: gh auth token)",
				Sources: cli.EnvVars("GITHUB_TOKEN", "MENTION_BOT_GITHUB_TOKEN"),
			},
			&cli.IntFlag{
				Name:  "max-reviewers",
				Usage: "maximum number of reviewers to suggest",
				Value: reviewer.DefaultConfig().MaxReviewers,
			},
			&cli.BoolFlag{
				Name:  "find-potential",
				Usage: "fill up with owners of the whole changed files",
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "persist blame lookups under this directory",
				Sources: cli.EnvVars("MENTION_BOT_CACHE_DIR"),
			},
			&cli.BoolFlag{
				Name:  "post",
				Usage: "post the comment instead of only printing it",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug logging",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly})))

	if cmd.Args().Len() != 1 {
		return errors.New("expected exactly one merge request URL")
	}
	t, err := parseTarget(cmd.Args().First())
	if err != nil {
		return err
	}

	h, req, err := fetch(ctx, cmd, t)
	if err != nil {
		return err
	}

	policy := reviewer.DefaultConfig()
	policy.MaxReviewers = cmd.Int("max-reviewers")
	policy.FindPotentialReviewers = cmd.Bool("find-potential")

	store := blame.OpenStore(ctx, blame.DefaultCacheTTL, cmd.String("cache-dir"))
	bot := server.NewBot(h, reviewer.New(blame.NewCachedStore(h, store)), nil, server.BotConfig{
		Policy: policy,
		DryRun: !cmd.Bool("post"),
	})

	fmt.Printf("\n📋 %s\n", req.URL)
	fmt.Printf("   Title: %s\n", req.Title)
	fmt.Printf("   Author: %s\n", req.Author)
	fmt.Printf("   Commit: %s\n\n", req.CommitID)

	res, err := bot.Handle(ctx, req)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case server.OutcomeSkipped:
		fmt.Println("⏭️  Skipped by the repository's skipTitle setting")
		return nil
	case server.OutcomeNoReviewers:
		fmt.Println("❌ No suitable reviewers found")
		return nil
	default:
	}

	fmt.Println("🏆 Suggested reviewers:")
	for i, r := range res.Reviewers {
		fmt.Printf("%d. @%s\n", i+1, r)
	}
	fmt.Printf("\n💬 %s\n", res.Comment)
	if res.Outcome == server.OutcomeCommented {
		fmt.Println("\n✅ Comment posted")
	}
	return nil
}

// fetch creates the host client for t and loads the merge request.
func fetch(ctx context.Context, cmd *cli.Command, t target) (host, server.Request, error) {
	if t.gitlab {
		gl, err := gitlab.New(ctx, gitlab.Config{BaseURL: t.baseURL, Token: cmd.String("gitlab-token"), HTTPTimeout: httpTimeout})
		if err != nil {
			return nil, server.Request{}, err
		}
		mr, err := gl.MergeRequest(ctx, t.repositoryURL, t.number)
		if err != nil {
			return nil, server.Request{}, err
		}
		return gl, server.Request{
			RepositoryURL: mr.RepositoryURL,
			URL:           mr.URL,
			Title:         mr.Title,
			CommitID:      mr.HeadSHA,
			Author:        mr.Author,
			Number:        mr.IID,
		}, nil
	}

	gh, err := github.New(ctx, github.Config{Token: cmd.String("github-token"), HTTPTimeout: httpTimeout})
	if err != nil {
		return nil, server.Request{}, err
	}
	pr, err := gh.PullRequest(ctx, t.repositoryURL, t.number)
	if err != nil {
		return nil, server.Request{}, err
	}
	return gh, server.Request{
		RepositoryURL: pr.RepositoryURL,
		URL:           pr.URL,
		Title:         pr.Title,
		CommitID:      pr.HeadSHA,
		Author:        pr.Author,
		Number:        pr.Number,
	}, nil
}

// target is a parsed merge request reference.
type target struct {
	baseURL       string
	repositoryURL string
	number        int
	gitlab        bool
}

// parseTarget accepts a GitLab merge request URL, a GitHub pull request URL, or
// the owner/repo#123 shorthand for GitHub.
func parseTarget(raw string) (target, error) {
	raw = strings.TrimSpace(raw)

	if !strings.Contains(raw, "://") {
		repo, num, ok := strings.Cut(raw, "#")
		if !ok || strings.Count(repo, "/") != 1 || strings.HasPrefix(repo, "/") || strings.HasSuffix(repo, "/") {
			return target{}, fmt.Errorf("invalid shorthand %q (expected owner/repo#number)", raw)
		}
		n, err := parseNumber(num)
		if err != nil {
			return target{}, err
		}
		return target{repositoryURL: "https://github.com/" + repo, number: n}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return target{}, fmt.Errorf("invalid URL %q", raw)
	}
	base := u.Scheme + "://" + u.Host

	if repo, rest, ok := strings.Cut(u.Path, "/-/merge_requests/"); ok {
		num, _, _ := strings.Cut(rest, "/")
		n, err := parseNumber(num)
		if err != nil {
			return target{}, err
		}
		return target{gitlab: true, baseURL: base, repositoryURL: base + repo, number: n}, nil
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 4 && parts[2] == "pull" {
		n, err := parseNumber(parts[3])
		if err != nil {
			return target{}, err
		}
		return target{baseURL: base, repositoryURL: base + "/" + parts[0] + "/" + parts[1], number: n}, nil
	}
	return target{}, fmt.Errorf("unrecognized merge request URL %q", raw)
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid merge request number %q", s)
	}
	return n, nil
}
