package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/prx/pkg/prx"
	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/mention-bot/pkg/internal/testutil"
)

type fakePrx struct {
	data  *prx.PullRequestData
	err   error
	calls []string // owner/repo#number
}

func (f *fakePrx) PullRequestWithReferenceTime(_ context.Context, owner, repo string, prNumber int, _ time.Time) (*prx.PullRequestData, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s#%d", owner, repo, prNumber))
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

// newPrxTestClient returns a github.com client whose prx clients are fake and
// records the token each one was created with.
func newPrxTestClient(fake *fakePrx) (*Client, *[]string) {
	c := newTestClient(testutil.NewMockHTTPDoer())
	c.apiURL = defaultAPIURL
	var tokens []string
	c.newPrx = func(token string) prxSource {
		tokens = append(tokens, token)
		return fake
	}
	return c, &tokens
}

func TestPullRequestDetails(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakePrx{data: &prx.PullRequestData{PullRequest: prx.PullRequest{
		CreatedAt: created,
		Title:     "Add retries",
		State:     "open",
		Author:    "carol",
		HeadSHA:   "deadbeef",
		Number:    9,
	}}}
	c, tokens := newPrxTestClient(fake)

	pr, err := c.PullRequestDetails(t.Context(), "https://github.com/o/r", 9)
	if err != nil {
		t.Fatalf("PullRequestDetails: %v", err)
	}
	want := &PullRequest{
		RepositoryURL: "https://github.com/o/r",
		URL:           "https://github.com/o/r/pull/9",
		Title:         "Add retries",
		State:         "open",
		CreatedAt:     created,
		Author:        "carol",
		HeadSHA:       "deadbeef",
		Number:        9,
	}
	if diff := cmp.Diff(want, pr); diff != "" {
		t.Errorf("PullRequestDetails() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"test-token"}, *tokens); diff != "" {
		t.Errorf("prx client tokens mismatch (-want +got):\n%s", diff)
	}
	if len(fake.calls) != 1 {
		t.Errorf("expected 1 prx call, got %d", len(fake.calls))
	}
}

func TestPullRequestDetails_ReusesClientUntilTokenRotates(t *testing.T) {
	fake := &fakePrx{data: &prx.PullRequestData{PullRequest: prx.PullRequest{State: "open", Number: 1}}}
	c, tokens := newPrxTestClient(fake)

	for range 3 {
		if _, err := c.PullRequestDetails(t.Context(), "https://github.com/o/r", 1); err != nil {
			t.Fatalf("PullRequestDetails: %v", err)
		}
	}
	c.tokenMutex.Lock()
	c.token = "rotated-token"
	c.tokenMutex.Unlock()
	if _, err := c.PullRequestDetails(t.Context(), "https://github.com/o/r", 1); err != nil {
		t.Fatalf("PullRequestDetails: %v", err)
	}

	if diff := cmp.Diff([]string{"test-token", "rotated-token"}, *tokens); diff != "" {
		t.Errorf("prx client tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestPullRequestDetails_UsesOrgInstallationToken(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodPost, testAPI+"/app/installations/9/access_tokens", http.StatusCreated, map[string]any{
		"token":      "ghs_globex",
		"expires_at": time.Now().Add(time.Hour),
	})
	fake := &fakePrx{data: &prx.PullRequestData{PullRequest: prx.PullRequest{State: "open", Number: 3}}}
	c := newTestClient(mock)
	c.isAppAuth = true
	c.jwtExpiry = time.Now().Add(time.Hour)
	c.installs["globex"] = &installation{id: 9}
	var tokens []string
	c.newPrx = func(token string) prxSource {
		tokens = append(tokens, token)
		return fake
	}
	// Installation tokens are minted against testAPI; prx itself only targets github.com.
	if _, err := c.Token(WithOrg(t.Context(), "globex")); err != nil {
		t.Fatalf("Token: %v", err)
	}
	c.apiURL = defaultAPIURL

	if _, err := c.PullRequestDetails(WithOrg(t.Context(), "globex"), "https://github.com/globex/api", 3); err != nil {
		t.Fatalf("PullRequestDetails: %v", err)
	}
	if diff := cmp.Diff([]string{"ghs_globex"}, tokens); diff != "" {
		t.Errorf("prx client tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestPullRequestDetails_Error(t *testing.T) {
	fake := &fakePrx{err: errors.New("graphql: rate limited")}
	c, _ := newPrxTestClient(fake)

	if _, err := c.PullRequestDetails(t.Context(), "https://github.com/o/r", 9); err == nil {
		t.Fatal("expected error")
	}
}

func TestPullRequestDetails_CustomAPIURLUsesREST(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testAPI+"/repos/o/r/pulls/9", http.StatusOK, map[string]any{
		"html_url": "https://github.com/o/r/pull/9",
		"number":   9,
		"state":    "open",
		"user":     map[string]any{"login": "carol"},
		"head":     map[string]any{"sha": "deadbeef"},
	})
	c := newTestClient(mock)
	c.newPrx = func(string) prxSource {
		t.Error("prx must not be used with a custom API URL")
		return &fakePrx{}
	}

	pr, err := c.PullRequestDetails(t.Context(), "https://github.com/o/r", 9)
	if err != nil {
		t.Fatalf("PullRequestDetails: %v", err)
	}
	if pr.Author != "carol" || pr.HeadSHA != "deadbeef" {
		t.Errorf("unexpected pull request %+v", pr)
	}
}
