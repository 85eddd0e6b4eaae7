// Package main runs the mention-bot service: a GitLab merge request webhook
// receiver and, optionally, a GitHub pull request event stream per organization.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/codeGROOVE-dev/mention-bot/pkg/blame"
	"github.com/codeGROOVE-dev/mention-bot/pkg/cache"
	"github.com/codeGROOVE-dev/mention-bot/pkg/config"
	"github.com/codeGROOVE-dev/mention-bot/pkg/github"
	"github.com/codeGROOVE-dev/mention-bot/pkg/gitlab"
	"github.com/codeGROOVE-dev/mention-bot/pkg/reviewer"
	"github.com/codeGROOVE-dev/mention-bot/pkg/server"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

const httpTimeout = 30 * time.Second

func main() {
	cmd := &cli.Command{
		Name:    "mention-bot",
		Usage:   "Mention likely reviewers on new merge requests, based on blame",
		Version: version(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML config file (default ./mention-bot.toml, then ~/.mention-bot.toml)",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "colored human-readable logs instead of JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug logging",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Usage:   "log suggested reviewers without commenting",
				Sources: cli.EnvVars(config.EnvPrefix + "DRY_RUN"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("mention-bot failed", "error", err)
		os.Exit(1)
	}
}

func version() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		return bi.Main.Version
	}
	return "devel"
}

// initLog installs the default logger: JSON for production, tint for --dev.
func initLog(dev, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var h slog.Handler
	if dev {
		h = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(h))
}

func run(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("dev"), cmd.Bool("verbose"))

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := server.NewMetrics()
	store := blame.OpenStore(ctx, cfg.Cache.TTL, cfg.Cache.Dir)
	botCfg := server.BotConfig{
		Policy:  &cfg.Reviewer,
		Message: cfg.Message,
		Timeout: cfg.Server.EventTimeout,
		DryRun:  cmd.Bool("dry-run"),
	}

	var glBot *server.Bot
	if cfg.GitLab.Token != "" {
		gl, err := gitlab.New(ctx, gitlab.Config{
			BaseURL:           cfg.GitLab.URL,
			Token:             cfg.GitLab.Token,
			HTTPTimeout:       httpTimeout,
			RequestsPerSecond: cfg.GitLab.RequestsPerSecond,
		})
		if err != nil {
			return fmt.Errorf("failed to create GitLab client: %w", err)
		}
		glBot = server.NewBot(gl, reviewer.New(blame.NewCachedStore(gl, store)), metrics, botCfg)
	} else {
		slog.Info("No GitLab token configured, webhooks are disabled")
	}

	srv := server.New(ctx, server.Config{
		Addr:          cfg.Server.Addr,
		WebhookSecret: cfg.GitLab.WebhookSecret,
	}, glBot, metrics)

	var ghBot *server.Bot
	if cfg.GitHub.Token != "" || cfg.GitHub.AppID != "" {
		var monitors []*sprinklerMonitor
		ghBot, monitors, err = startGitHub(ctx, cfg, store, metrics, botCfg)
		if err != nil {
			return err
		}
		if ghBot != nil {
			srv.AddBot(ghBot)
		}
		for _, m := range monitors {
			srv.AddHealthCheck("github:"+m.org, func() any { return m.healthStatus() })
			defer m.stop()
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// startGitHub starts one event monitor per configured organization, or per app
// installation when no organizations are listed. The returned bot is nil when
// there is nothing to watch.
func startGitHub(ctx context.Context, cfg *config.Config, store cache.Store[[]types.BlameEntry], metrics *server.Metrics, botCfg server.BotConfig) (*server.Bot, []*sprinklerMonitor, error) {
	gh, err := github.New(ctx, github.Config{
		Token:       cfg.GitHub.Token,
		AppID:       cfg.GitHub.AppID,
		AppKeyPath:  cfg.GitHub.AppKeyPath,
		AppKey:      cfg.GitHub.AppKey,
		APIURL:      cfg.GitHub.APIURL,
		HTTPTimeout: httpTimeout,
		UseAppAuth:  cfg.GitHub.AppID != "",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	orgs := cfg.GitHub.Orgs
	if cfg.GitHub.AppID != "" {
		installed, err := gh.ListAppInstallations(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list app installations: %w", err)
		}
		if len(orgs) == 0 {
			for _, login := range installed {
				// The event stream is subscribed per organization.
				if gh.IsUserAccount(login) {
					slog.Info("Skipping personal account installation", "account", login)
					continue
				}
				orgs = append(orgs, login)
			}
		}
	}
	if len(orgs) == 0 {
		slog.Warn("GitHub credentials set but no organizations to watch")
		return nil, nil, nil
	}

	bot := server.NewBot(gh, reviewer.New(blame.NewCachedStore(gh, store)), metrics, botCfg)
	monitors := make([]*sprinklerMonitor, 0, len(orgs))
	for _, org := range orgs {
		m := newSprinklerMonitor(ctx, gh, bot, org, cfg.GitHub.SprinklerURL)
		m.start(ctx)
		monitors = append(monitors, m)
	}
	slog.Info("Watching GitHub organizations", "count", len(monitors))
	return bot, monitors, nil
}
