package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/mention-bot/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

func TestPullRequest(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testAPI+"/repos/o/r/pulls/9", http.StatusOK, map[string]any{
		"html_url":   "https://github.com/o/r/pull/9",
		"number":     9,
		"title":      "Add retries",
		"state":      "open",
		"created_at": "2024-03-01T10:00:00Z",
		"user":       map[string]any{"login": "carol"},
		"head":       map[string]any{"sha": "deadbeef"},
	})
	c := newTestClient(mock)

	pr, err := c.PullRequest(t.Context(), "https://github.com/o/r", 9)
	if err != nil {
		t.Fatalf("PullRequest: %v", err)
	}
	want := &PullRequest{
		RepositoryURL: "https://github.com/o/r",
		URL:           "https://github.com/o/r/pull/9",
		Title:         "Add retries",
		State:         "open",
		CreatedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Author:        "carol",
		HeadSHA:       "deadbeef",
		Number:        9,
	}
	if diff := cmp.Diff(want, pr); diff != "" {
		t.Errorf("PullRequest() mismatch (-want +got):\n%s", diff)
	}
}

func TestChanges(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testAPI+"/repos/o/r/pulls/9/files", http.StatusOK, []map[string]any{
		{"filename": "src/a.go", "status": "modified", "changes": 1, "patch": "@@ -1,2 +1,3 @@\n a\n+b\n c"},
		{"filename": "src/new.go", "previous_filename": "src/old.go", "status": "renamed", "changes": 0},
		{"filename": "gone.go", "status": "removed", "changes": 2, "patch": "@@ -1,2 +0,0 @@\n-x\n-y"},
	})
	c := newTestClient(mock)

	got, err := c.Changes(t.Context(), "o/r", 9)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	want := []types.FileChange{
		{Path: "src/a.go", Status: types.StatusModified, Hunk: "@@ -1,2 +1,3 @@\n a\n+b\n c", Ranges: []types.LineRange{{Start: 1, Len: 3}}, Additions: 1},
		{Path: "src/new.go", OldPath: "src/old.go", Status: types.StatusRenamed},
		{Path: "gone.go", Status: types.StatusRemoved, Hunk: "@@ -1,2 +0,0 @@\n-x\n-y", Ranges: []types.LineRange{{Start: 1, Len: 1}}, Deletions: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Changes() mismatch (-want +got):\n%s", diff)
	}
	if n := len(mock.Calls()); n != 1 {
		t.Errorf("expected a single page request, got %d", n)
	}
}

func TestChanges_Paginates(t *testing.T) {
	full := make([]map[string]any, perPageLimit)
	for i := range full {
		full[i] = map[string]any{"filename": fmt.Sprintf("f%03d.go", i), "status": "added"}
	}
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, fmt.Sprintf("%s/repos/o/r/pulls/9/files?per_page=%d&page=1", testAPI, perPageLimit), http.StatusOK, full)
	mock.SetResponse(http.MethodGet, fmt.Sprintf("%s/repos/o/r/pulls/9/files?per_page=%d&page=2", testAPI, perPageLimit), http.StatusOK,
		[]map[string]any{{"filename": "last.go", "status": "added"}})
	c := newTestClient(mock)

	got, err := c.Changes(t.Context(), "o/r", 9)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(got) != perPageLimit+1 {
		t.Fatalf("expected %d files, got %d", perPageLimit+1, len(got))
	}
	if got[perPageLimit].Path != "last.go" {
		t.Errorf("last file = %q", got[perPageLimit].Path)
	}
}

func TestRepoConfig(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testAPI+"/repos/o/r/contents/.mention-bot", http.StatusOK, `{"maxReviewers": 2}`)
	c := newTestClient(mock)

	data, err := c.RepoConfig(t.Context(), "o/r", "main")
	if err != nil {
		t.Fatalf("RepoConfig: %v", err)
	}
	if string(data) != `{"maxReviewers": 2}` {
		t.Errorf("RepoConfig() = %q", data)
	}

	calls := mock.Calls()
	if calls[0].URL != testAPI+"/repos/o/r/contents/.mention-bot?ref=main" {
		t.Errorf("unexpected URL %s", calls[0].URL)
	}
	if got := calls[0].Header.Get("Accept"); got != "application/vnd.github.raw+json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestRepoConfig_Missing(t *testing.T) {
	c := newTestClient(testutil.NewMockHTTPDoer())

	data, err := c.RepoConfig(t.Context(), "o/r", "main")
	if err != nil {
		t.Fatalf("RepoConfig: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil config, got %q", data)
	}
}

func TestPostComment(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodPost, testAPI+"/repos/o/r/issues/9/comments", http.StatusCreated, `{"id": 1}`)
	c := newTestClient(mock)

	if err := c.PostComment(t.Context(), "o/r", 9, "hello @alice"); err != nil {
		t.Fatalf("PostComment: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(mock.Calls()[0].Body, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body["body"] != "hello @alice" {
		t.Errorf("comment body = %q", body["body"])
	}
}

func TestPostComment_Failure(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodPost, testAPI+"/repos/o/r/issues/9/comments", http.StatusForbidden, `{"message":"Resource not accessible"}`)
	c := newTestClient(mock)

	if err := c.PostComment(t.Context(), "o/r", 9, "hi"); err == nil {
		t.Fatal("expected error")
	}
}
