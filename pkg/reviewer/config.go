// Package reviewer suggests merge request reviewers from the blame of the changed lines.
package reviewer

import "github.com/codeGROOVE-dev/mention-bot/pkg/types"

// Defaults.
const (
	defaultMaxReviewers    = 3
	defaultNumFilesToCheck = 5
	defaultMinScore        = 1
	defaultConcurrency     = 8
	topCandidatesToLog     = 5
)

// PathRule excludes authors from the lines of matching paths.
type PathRule struct {
	Pattern string   `koanf:"pattern"`
	Exclude []string `koanf:"exclude"`
}

// Config controls reviewer selection. It is read-only during a run.
type Config struct {
	UserBlacklist          []string   `koanf:"userBlacklist"`
	UserBlacklistForPR     []string   `koanf:"userBlacklistForPR"` // authors whose merge requests get no suggestions
	FileBlacklist          []string   `koanf:"fileBlacklist"`
	PathRules              []PathRule `koanf:"pathRules"`
	MaxReviewers           int        `koanf:"maxReviewers"`    // zero means 3, negative means none
	NumFilesToCheck        int        `koanf:"numFilesToCheck"` // zero or negative checks every file
	PerFileCap             int        `koanf:"perFileCap"`      // zero means no cap
	MinScore               int        `koanf:"minScore"`
	Concurrency            int        `koanf:"concurrency"`
	FindPotentialReviewers bool       `koanf:"findPotentialReviewers"`
	SkipBots               bool       `koanf:"skipBots"` // drop automation accounts such as dependabot
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		MaxReviewers:    defaultMaxReviewers,
		NumFilesToCheck: defaultNumFilesToCheck,
		MinScore:        defaultMinScore,
		Concurrency:     defaultConcurrency,
		SkipBots:        true,
	}
}

// effective returns a copy of c with unusable values replaced. A nil config means defaults.
// A zero MaxReviewers means the default; a negative one yields no reviewers.
func (c *Config) effective() Config {
	if c == nil {
		return *DefaultConfig()
	}
	out := *c
	if out.MaxReviewers == 0 {
		out.MaxReviewers = defaultMaxReviewers
	}
	if out.MinScore < defaultMinScore {
		out.MinScore = defaultMinScore
	}
	if out.Concurrency <= 0 {
		out.Concurrency = defaultConcurrency
	}
	return out
}

func identitySet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = types.NormalizeIdentity(id); id != "" {
			set[id] = true
		}
	}
	return set
}
