package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/codeGROOVE-dev/mention-bot/pkg/reviewer"
)

// Repo is the effective configuration for one repository.
type Repo struct {
	Policy    *reviewer.Config
	Message   string // custom comment template, see message.Render
	SkipTitle string // merge requests whose title contains this get no comment
}

// policyMap lists the policy keys so a .mention-bot file only overrides what it sets.
func policyMap(c *reviewer.Config) map[string]any {
	return map[string]any{
		"userBlacklist":          c.UserBlacklist,
		"userBlacklistForPR":     c.UserBlacklistForPR,
		"fileBlacklist":          c.FileBlacklist,
		"pathRules":              c.PathRules,
		"maxReviewers":           c.MaxReviewers,
		"numFilesToCheck":        c.NumFilesToCheck,
		"perFileCap":             c.PerFileCap,
		"minScore":               c.MinScore,
		"concurrency":            c.Concurrency,
		"findPotentialReviewers": c.FindPotentialReviewers,
		"skipBots":               c.SkipBots,
	}
}

// LoadRepo merges a .mention-bot JSON document onto base. Empty data yields base.
func LoadRepo(base *reviewer.Config, message string, data []byte) (*Repo, error) {
	if base == nil {
		base = reviewer.DefaultConfig()
	}
	k := koanf.New(".")

	m := policyMap(base)
	m["message"] = message
	m["skipTitle"] = ""
	if err := k.Load(confmap.Provider(m, ""), nil); err != nil {
		return nil, fmt.Errorf("error loading base policy: %w", err)
	}
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), json.Parser()); err != nil {
			return nil, fmt.Errorf("error parsing .mention-bot: %w", err)
		}
	}

	var policy reviewer.Config
	if err := k.Unmarshal("", &policy); err != nil {
		return nil, fmt.Errorf("error unmarshalling .mention-bot: %w", err)
	}
	return &Repo{
		Policy:    &policy,
		Message:   k.String("message"),
		SkipTitle: k.String("skipTitle"),
	}, nil
}
