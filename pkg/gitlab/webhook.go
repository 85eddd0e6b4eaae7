package gitlab

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

const maxWebhookBody = 10 << 20

// Webhook errors.
var (
	ErrUnauthorized = errors.New("invalid webhook token")
	ErrIgnored      = errors.New("event ignored")
)

// Event is a merge request opened notification.
type Event struct {
	RepositoryURL string
	URL           string
	Title         string
	CommitID      string
	Author        string
	ProjectID     int
	IID           int
}

// ParseMergeEvent reads a webhook request. It returns ErrUnauthorized when secret is
// set and the X-Gitlab-Token header does not match, and ErrIgnored (wrapped with the
// reason) for anything other than a newly opened merge request.
func ParseMergeEvent(r *http.Request, secret string) (*Event, error) {
	if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Gitlab-Token")), []byte(secret)) != 1 {
		return nil, ErrUnauthorized
	}

	eventType := gitlab.HookEventType(r)
	if eventType != gitlab.EventTypeMergeRequest {
		return nil, fmt.Errorf("%w: event type %q", ErrIgnored, eventType)
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}
	parsed, err := gitlab.ParseWebhook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}
	mr, ok := parsed.(*gitlab.MergeEvent)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload %T", ErrIgnored, parsed)
	}

	if mr.ObjectAttributes.Action != "open" {
		return nil, fmt.Errorf("%w: action is %q, only open is handled", ErrIgnored, mr.ObjectAttributes.Action)
	}

	ev := &Event{
		RepositoryURL: mr.Project.WebURL,
		URL:           mr.ObjectAttributes.URL,
		Title:         mr.ObjectAttributes.Title,
		CommitID:      mr.ObjectAttributes.LastCommit.ID,
		ProjectID:     mr.Project.ID,
		IID:           mr.ObjectAttributes.IID,
	}
	if mr.User != nil {
		ev.Author = mr.User.Username
	}
	return ev, nil
}
