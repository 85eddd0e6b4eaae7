package github

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/codeGROOVE-dev/mention-bot/pkg/blame"
	"github.com/codeGROOVE-dev/mention-bot/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

const blameResponse = `{
	"data": {
		"repository": {
			"object": {
				"blame": {
					"ranges": [
						{"startingLine": 1, "endingLine": 10, "commit": {"oid": "aaa", "author": {"email": "alice@example.com", "user": {"login": "Alice"}}}},
						{"startingLine": 11, "endingLine": 20, "commit": {"oid": "bbb", "author": {"email": "123+bob@users.noreply.github.com", "user": null}}},
						{"startingLine": 21, "endingLine": 22, "commit": {"oid": "ccc", "author": {"email": "", "user": null}}}
					]
				}
			}
		}
	}
}`

func TestBlame_ExpandsOverlappingBlocks(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodPost, testAPI+"/graphql", http.StatusOK, blameResponse)
	c := newTestClient(mock)

	entries, err := c.Blame(t.Context(), "https://github.com/o/r", "abc123", "src/a.go", []types.LineRange{{Start: 12, Len: 2}})
	if err != nil {
		t.Fatalf("Blame: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected the 10 lines of the overlapping block, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Author != "bob" || e.CommitID != "bbb" || e.Path != "src/a.go" {
			t.Fatalf("unexpected entry %+v", e)
		}
	}
	if entries[0].Line != 11 || entries[9].Line != 20 {
		t.Errorf("unexpected line numbers %d..%d", entries[0].Line, entries[9].Line)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 request, got %d", len(calls))
	}
	var req struct {
		Variables map[string]string `json:"variables"`
	}
	if err := json.Unmarshal(calls[0].Body, &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if req.Variables["owner"] != "o" || req.Variables["repo"] != "r" ||
		req.Variables["expression"] != "abc123" || req.Variables["path"] != "src/a.go" {
		t.Errorf("unexpected variables %v", req.Variables)
	}
}

func TestBlame_WholeFile(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodPost, testAPI+"/graphql", http.StatusOK, blameResponse)
	c := newTestClient(mock)

	entries, err := c.Blame(t.Context(), "o/r", "abc123", "src/a.go", nil)
	if err != nil {
		t.Fatalf("Blame: %v", err)
	}
	// The authorless block is skipped.
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(entries))
	}
	if entries[0].Author != "Alice" {
		t.Errorf("expected login to win over email, got %q", entries[0].Author)
	}
}

func TestBlame_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{
			name: "missing path",
			body: `{"data":null,"errors":[{"type":"NOT_FOUND","message":"Could not resolve to a Blob"}]}`,
			want: blame.ErrNotFound,
		},
		{
			name: "timeout on huge file",
			body: `{"errors":[{"message":"Something went wrong: timeout"}]}`,
			want: blame.ErrTooLarge,
		},
		{
			name: "no commit object",
			body: `{"data":{"repository":{"object":null}}}`,
			want: blame.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockHTTPDoer()
			mock.SetResponse(http.MethodPost, testAPI+"/graphql", http.StatusOK, tt.body)
			c := newTestClient(mock)

			_, err := c.Blame(t.Context(), "o/r", "abc", "a.go", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Blame() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMakeGraphQLRequest_InvalidVariables(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	c := newTestClient(mock)

	_, err := c.MakeGraphQLRequest(t.Context(), "test", "query { viewer { login } }", map[string]any{"owner": "../etc"})
	if err == nil || !strings.Contains(err.Error(), "invalid GraphQL variables") {
		t.Fatalf("expected invalid variables error, got %v", err)
	}
	if n := len(mock.Calls()); n != 0 {
		t.Errorf("expected no request, got %d", n)
	}
}

func TestMakeGraphQLRequest_NonOKStatus(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodPost, testAPI+"/graphql", http.StatusUnauthorized, `{"message":"Bad credentials"}`)
	c := newTestClient(mock)

	_, err := c.MakeGraphQLRequest(t.Context(), "test", "query { viewer { login } }", nil)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCommitAuthor(t *testing.T) {
	tests := []struct {
		name   string
		commit map[string]any
		want   string
	}{
		{"login", map[string]any{"author": map[string]any{"user": map[string]any{"login": "alice"}}}, "alice"},
		{"noreply email", map[string]any{"author": map[string]any{"email": "9+bob@users.noreply.github.com"}}, "bob"},
		{"plain email", map[string]any{"author": map[string]any{"email": "carol@example.com"}}, "carol"},
		{"no author", map[string]any{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commitAuthor(tt.commit); got != tt.want {
				t.Errorf("commitAuthor() = %q, want %q", got, tt.want)
			}
		})
	}
}
