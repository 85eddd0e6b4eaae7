package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/codeGROOVE-dev/mention-bot/pkg/reviewer"
)

func TestLoadRepo_Empty(t *testing.T) {
	base := reviewer.DefaultConfig()
	base.UserBlacklist = []string{"root"}

	repo, err := LoadRepo(base, "hello @reviewers", nil)
	if err != nil {
		t.Fatalf("LoadRepo: %v", err)
	}
	if diff := cmp.Diff(base, repo.Policy, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Policy mismatch (-want +got):\n%s", diff)
	}
	if repo.Message != "hello @reviewers" {
		t.Errorf("Message = %q", repo.Message)
	}
}

func TestLoadRepo_Overrides(t *testing.T) {
	data := []byte(`{
		"maxReviewers": 5,
		"userBlacklist": ["alice"],
		"fileBlacklist": ["*.md"],
		"findPotentialReviewers": true,
		"pathRules": [{"pattern": "vendor/**", "exclude": ["robot"]}],
		"message": "@pullRequester: @reviewers",
		"skipTitle": "WIP"
	}`)

	repo, err := LoadRepo(reviewer.DefaultConfig(), "", data)
	if err != nil {
		t.Fatalf("LoadRepo: %v", err)
	}

	want := reviewer.DefaultConfig()
	want.MaxReviewers = 5
	want.UserBlacklist = []string{"alice"}
	want.FileBlacklist = []string{"*.md"}
	want.FindPotentialReviewers = true
	want.PathRules = []reviewer.PathRule{{Pattern: "vendor/**", Exclude: []string{"robot"}}}
	if diff := cmp.Diff(want, repo.Policy, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Policy mismatch (-want +got):\n%s", diff)
	}
	if repo.Message != "@pullRequester: @reviewers" || repo.SkipTitle != "WIP" {
		t.Errorf("unexpected repo settings %+v", repo)
	}
}

func TestLoadRepo_NilBase(t *testing.T) {
	repo, err := LoadRepo(nil, "", []byte(`{"numFilesToCheck": 10}`))
	if err != nil {
		t.Fatalf("LoadRepo: %v", err)
	}
	if repo.Policy.NumFilesToCheck != 10 || repo.Policy.MaxReviewers != 3 {
		t.Errorf("unexpected policy %+v", repo.Policy)
	}
}

func TestLoadRepo_InvalidJSON(t *testing.T) {
	if _, err := LoadRepo(nil, "", []byte(`{"maxReviewers": `)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
