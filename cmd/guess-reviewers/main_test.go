package main

import "testing"

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    target
		wantErr bool
	}{
		{
			in:   "https://gitlab.example.com/group/sub/project/-/merge_requests/42",
			want: target{gitlab: true, baseURL: "https://gitlab.example.com", repositoryURL: "https://gitlab.example.com/group/sub/project", number: 42},
		},
		{
			in:   "https://gitlab.com/group/project/-/merge_requests/7/diffs",
			want: target{gitlab: true, baseURL: "https://gitlab.com", repositoryURL: "https://gitlab.com/group/project", number: 7},
		},
		{
			in:   "https://github.com/owner/repo/pull/123",
			want: target{baseURL: "https://github.com", repositoryURL: "https://github.com/owner/repo", number: 123},
		},
		{
			in:   "owner/repo#9",
			want: target{repositoryURL: "https://github.com/owner/repo", number: 9},
		},
		{in: "owner/repo", wantErr: true},
		{in: "repo#9", wantErr: true},
		{in: "owner/repo#x", wantErr: true},
		{in: "https://github.com/owner/repo/issues/1", wantErr: true},
		{in: "https://gitlab.com/group/project/-/merge_requests/0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTarget(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseTarget() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
