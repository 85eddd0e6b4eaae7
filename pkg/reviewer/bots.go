package reviewer

import (
	"regexp"
	"strings"
)

// knownBots are exact usernames of common automation accounts.
var knownBots = map[string]bool{
	"dependabot":           true,
	"dependabot-preview":   true,
	"renovate":             true,
	"renovate-bot":         true,
	"renovatebot":          true,
	"github-actions":       true,
	"gitlab-bot":           true,
	"mergify":              true,
	"codecov-io":           true,
	"codecov-commenter":    true,
	"snyk-bot":             true,
	"greenkeeperio-bot":    true,
	"imgbot":               true,
	"allcontributors":      true,
	"semantic-release-bot": true,
	"release-drafter":      true,
	"ci-bot":               true,
	"ghost":                true,
	"gitlab-runner":        true,
	"gitlab-security-bot":  true,
	"project-access-token": true,
	"web-flow":             true,
	"pre-commit-ci":        true,
	"copilot-swe-agent":    true,
	"octokitbot":           true,
	"probot":               true,
	"whitesource-bolt":     true,
	"sonarcloud":           true,
	"deepsource-autofix":   true,
	"stale":                true,
}

// GitLab project and group access tokens commit as "project_<id>_bot_<hash>" and
// "group_<id>_bot_<hash>".
var tokenBot = regexp.MustCompile(`^(project|group)_\d+_bot(_[0-9a-z]+)?$`)

// isLikelyBot reports whether username is an automation account. Only structural
// markers and whole known names count, so people named like a CI product are kept.
func isLikelyBot(username string) bool {
	lower := strings.ToLower(username)
	if strings.HasSuffix(lower, "[bot]") {
		return true
	}
	return tokenBot.MatchString(lower) || knownBots[lower]
}
