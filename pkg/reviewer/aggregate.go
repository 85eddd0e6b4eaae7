package reviewer

import (
	"github.com/codeGROOVE-dev/mention-bot/pkg/diff"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// AggregateOptions tunes Aggregate.
type AggregateOptions struct {
	PathRules  []PathRule
	PerFileCap int // at most this many lines per author per file; zero means no cap
}

type pathRule struct {
	match   *diff.Matcher
	exclude map[string]bool
}

type pathRules []pathRule

func compileRules(rules []PathRule) pathRules {
	compiled := make(pathRules, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == "" || len(r.Exclude) == 0 {
			continue
		}
		compiled = append(compiled, pathRule{
			match:   diff.NewMatcher([]string{r.Pattern}),
			exclude: identitySet(r.Exclude),
		})
	}
	return compiled
}

func (rs pathRules) excludes(path, author string) bool {
	for _, r := range rs {
		if r.exclude[author] && r.match.Match(path) {
			return true
		}
	}
	return false
}

// Aggregate sums blame entries into one score per author. perFile holds one slice
// per file. Each entry adds 1 to its author's weight. Entries by exclude (the change
// author) and by authors excluded for the entry's path are dropped here, before any
// ranking. Scores come back in first-seen order with Order set accordingly.
func Aggregate(perFile [][]types.BlameEntry, exclude string, opts AggregateOptions) []types.OwnerScore {
	exclude = types.NormalizeIdentity(exclude)
	rules := compileRules(opts.PathRules)

	index := make(map[string]int)
	var scores []types.OwnerScore
	for _, entries := range perFile {
		counted := make(map[string]int)
		for _, e := range entries {
			author := types.NormalizeIdentity(e.Author)
			if author == "" || author == exclude || rules.excludes(e.Path, author) {
				continue
			}
			if opts.PerFileCap > 0 && counted[author] >= opts.PerFileCap {
				continue
			}

			i, ok := index[author]
			if !ok {
				i = len(scores)
				index[author] = i
				scores = append(scores, types.OwnerScore{Author: author, Order: i})
			}
			if counted[author] == 0 {
				scores[i].Files++
			}
			counted[author]++
			scores[i].Weight++
		}
	}
	return scores
}
