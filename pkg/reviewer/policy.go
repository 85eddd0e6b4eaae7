package reviewer

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// Filter applies the selection policy to aggregated scores: the event author,
// blacklisted users, bots (with SkipBots) and scores below MinScore are removed; the rest are ranked by
// weight (ties keep first-seen order) and truncated to MaxReviewers.
// An empty result is a valid outcome and is returned as an empty, non-nil slice.
func Filter(scores []types.OwnerScore, cfg *Config, eventAuthor string) []string {
	c := cfg.effective()
	author := types.NormalizeIdentity(eventAuthor)
	blacklist := identitySet(c.UserBlacklist)

	seen := make(map[string]bool, len(scores))
	kept := make([]types.OwnerScore, 0, len(scores))
	for _, s := range scores {
		s.Author = types.NormalizeIdentity(s.Author)
		if s.Author == "" || s.Author == author || blacklist[s.Author] || seen[s.Author] {
			continue
		}
		if s.Weight < c.MinScore {
			continue
		}
		if c.SkipBots && isLikelyBot(s.Author) {
			slog.Debug("Skipping bot candidate", "username", s.Author)
			continue
		}
		seen[s.Author] = true
		kept = append(kept, s)
	}

	slices.SortStableFunc(kept, func(a, b types.OwnerScore) int {
		if n := cmp.Compare(b.Weight, a.Weight); n != 0 {
			return n
		}
		return cmp.Compare(a.Order, b.Order)
	})

	for i, s := range kept {
		if i >= topCandidatesToLog {
			break
		}
		slog.Debug("Candidate scored", "rank", i+1, "username", s.Author, "weight", s.Weight, "files", s.Files)
	}

	n := min(len(kept), max(c.MaxReviewers, 0))
	reviewers := make([]string, 0, n)
	for _, s := range kept[:n] {
		reviewers = append(reviewers, s.Author)
	}
	return reviewers
}
