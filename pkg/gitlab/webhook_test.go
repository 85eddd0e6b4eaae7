package gitlab

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mergeHook(action string) string {
	return `{
		"object_kind": "merge_request",
		"user": {"username": "carol"},
		"project": {"id": 17, "web_url": "https://gitlab.example.com/group/project"},
		"object_attributes": {
			"iid": 4,
			"action": "` + action + `",
			"title": "Fix flaky cache test",
			"url": "https://gitlab.example.com/group/project/-/merge_requests/4",
			"last_commit": {"id": "abc123"}
		}
	}`
}

func hookRequest(event, token, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if event != "" {
		r.Header.Set("X-Gitlab-Event", event)
	}
	if token != "" {
		r.Header.Set("X-Gitlab-Token", token)
	}
	return r
}

func TestParseMergeEvent_Open(t *testing.T) {
	ev, err := ParseMergeEvent(hookRequest("Merge Request Hook", "s3cret", mergeHook("open")), "s3cret")
	if err != nil {
		t.Fatalf("ParseMergeEvent: %v", err)
	}
	want := &Event{
		RepositoryURL: "https://gitlab.example.com/group/project",
		URL:           "https://gitlab.example.com/group/project/-/merge_requests/4",
		Title:         "Fix flaky cache test",
		CommitID:      "abc123",
		Author:        "carol",
		ProjectID:     17,
		IID:           4,
	}
	if diff := cmp.Diff(want, ev); diff != "" {
		t.Errorf("ParseMergeEvent() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMergeEvent_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
		want error
	}{
		{"wrong token", hookRequest("Merge Request Hook", "guess", mergeHook("open")), ErrUnauthorized},
		{"missing token", hookRequest("Merge Request Hook", "", mergeHook("open")), ErrUnauthorized},
		{"push event", hookRequest("Push Hook", "s3cret", `{"object_kind":"push"}`), ErrIgnored},
		{"no event header", hookRequest("", "s3cret", mergeHook("open")), ErrIgnored},
		{"update action", hookRequest("Merge Request Hook", "s3cret", mergeHook("update")), ErrIgnored},
		{"merge action", hookRequest("Merge Request Hook", "s3cret", mergeHook("merge")), ErrIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMergeEvent(tt.req, "s3cret")
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseMergeEvent() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseMergeEvent_NoSecretConfigured(t *testing.T) {
	if _, err := ParseMergeEvent(hookRequest("Merge Request Hook", "", mergeHook("open")), ""); err != nil {
		t.Fatalf("ParseMergeEvent: %v", err)
	}
}

func TestParseMergeEvent_BadJSON(t *testing.T) {
	_, err := ParseMergeEvent(hookRequest("Merge Request Hook", "", "{not json"), "")
	if err == nil || errors.Is(err, ErrIgnored) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}
