// Package config loads the service configuration and per-repository overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/codeGROOVE-dev/mention-bot/pkg/reviewer"
)

// EnvPrefix marks environment variables that override the config file,
// e.g. MENTION_BOT_GITLAB_TOKEN sets gitlab.token.
const EnvPrefix = "MENTION_BOT_"

// Config is the service configuration.
type Config struct {
	Server struct {
		Addr         string        `koanf:"addr" validate:"required"`
		EventTimeout time.Duration `koanf:"event_timeout" validate:"gt=0"`
	} `koanf:"server"`

	GitLab struct {
		URL           string `koanf:"url" validate:"omitempty,url"`
		Token         string `koanf:"token"`
		WebhookSecret string `koanf:"webhook_secret"`
		// RequestsPerSecond caps GitLab API calls.
		RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
	} `koanf:"gitlab"`

	GitHub struct {
		Token        string   `koanf:"token"`
		AppID        string   `koanf:"app_id"`
		AppKeyPath   string   `koanf:"app_key_path"`
		AppKey       string   `koanf:"app_key"` // PEM content, e.g. from MENTION_BOT_GITHUB_APP_KEY
		APIURL       string   `koanf:"api_url" validate:"omitempty,url"`
		SprinklerURL string   `koanf:"sprinkler_url"`
		Orgs         []string `koanf:"orgs"`
	} `koanf:"github"`

	Cache struct {
		Dir string        `koanf:"dir"`
		TTL time.Duration `koanf:"ttl" validate:"gt=0"`
	} `koanf:"cache"`

	// Reviewer is the policy used when a repository has no .mention-bot file.
	Reviewer reviewer.Config `koanf:"reviewer"`
	Message  string          `koanf:"message"`
}

// defaults are loaded before the file and environment.
func defaults() map[string]any {
	m := map[string]any{
		"server.addr":                ":5000",
		"server.event_timeout":       "2m",
		"gitlab.url":                 "https://gitlab.com",
		"gitlab.requests_per_second": 10,
		"cache.ttl":                  "24h",
		"github.orgs":                []string{},
	}
	for k, v := range policyMap(reviewer.DefaultConfig()) {
		m["reviewer."+k] = v
	}
	return m
}

// defaultPaths are tried in order when no config file is given.
var defaultPaths = []string{"./mention-bot.toml", "$HOME/.mention-bot.toml"}

// Load reads defaults, then the TOML file at path (or the first default path that
// exists), then MENTION_BOT_* environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, p := range defaultPaths {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config %s: %w", p, err)
			}
			break
		}
	}

	// Environment keys are case-insensitive; map them back onto the known spelling
	// so they override instead of sitting next to the file value. List values are
	// comma separated.
	canonical := make(map[string]string)
	lists := make(map[string]bool)
	for _, key := range k.Keys() {
		canonical[strings.ToLower(key)] = key
		if v := k.Get(key); v != nil && reflect.TypeOf(v).Kind() == reflect.Slice {
			lists[key] = true
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(name, value string) (string, any) {
		key := strings.Replace(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_", ".", 1)
		if c, ok := canonical[key]; ok {
			key = c
		}
		if lists[key] {
			return key, strings.Split(value, ",")
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and that at least one host is configured.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.GitLab.Token == "" && c.GitHub.Token == "" && c.GitHub.AppID == "" {
		return errors.New("invalid config: a GitLab token or GitHub credentials are required")
	}
	if c.GitHub.AppID != "" && c.GitHub.AppKeyPath == "" && c.GitHub.AppKey == "" {
		return errors.New("invalid config: github.app_key or github.app_key_path is required with github.app_id")
	}
	return nil
}
