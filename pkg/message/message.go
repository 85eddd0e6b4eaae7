// Package message builds the comment that mentions the suggested reviewers.
package message

import (
	"fmt"
	"strings"
)

// Placeholders recognized in custom templates.
const (
	ReviewersPlaceholder = "@reviewers"
	RequesterPlaceholder = "@pullRequester"
)

// MentionSentence joins reviewers as "@a", "@a and @b" or "@a, @b and @c".
func MentionSentence(reviewers []string) string {
	at := make([]string, len(reviewers))
	for i, r := range reviewers {
		at[i] = "@" + r
	}
	switch len(at) {
	case 0:
		return ""
	case 1:
		return at[0]
	}
	return strings.Join(at[:len(at)-1], ", ") + " and " + at[len(at)-1]
}

// Default is the comment posted when the repository configures no template.
func Default(reviewers []string) string {
	article, plural := " a", ""
	if len(reviewers) > 1 {
		article, plural = "", "s"
	}
	return fmt.Sprintf("By analyzing the blame information on this pull request, we identified %s to be%s potential reviewer%s",
		MentionSentence(reviewers), article, plural)
}

// Render fills a custom template. An empty template falls back to Default.
func Render(tmpl string, reviewers []string, requester string) string {
	if strings.TrimSpace(tmpl) == "" {
		return Default(reviewers)
	}
	return strings.NewReplacer(
		ReviewersPlaceholder, MentionSentence(reviewers),
		RequesterPlaceholder, "@"+requester,
	).Replace(tmpl)
}
