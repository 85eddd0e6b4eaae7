package diff

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

func TestParsePatch_SingleHunk(t *testing.T) {
	patch := `@@ -10,4 +10,5 @@ func main() {
 	a := 1
-	b := 2
+	b := 3
+	c := 4
 	return
 }`

	p, err := ParsePatch(patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.LineRange{{Start: 10, Len: 5}}
	if diff := cmp.Diff(want, p.Ranges); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
	if p.Additions != 2 {
		t.Errorf("expected 2 additions, got %d", p.Additions)
	}
	if p.Deletions != 1 {
		t.Errorf("expected 1 deletion, got %d", p.Deletions)
	}
}

func TestParsePatch_MergesOverlappingHunks(t *testing.T) {
	patch := `@@ -1,3 +1,3 @@
 a
-b
+B
 c
@@ -4,2 +4,2 @@
-d
+D
 e
@@ -40 +40 @@
-x
+y`

	p, err := ParsePatch(patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.LineRange{{Start: 1, Len: 5}, {Start: 40, Len: 1}}
	if diff := cmp.Diff(want, p.Ranges); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePatch_PureDeletion(t *testing.T) {
	patch := `@@ -5,2 +4,0 @@
-gone
-also gone`

	p, err := ParsePatch(patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.LineRange{{Start: 4, Len: 1}}
	if diff := cmp.Diff(want, p.Ranges); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
	if p.Deletions != 2 {
		t.Errorf("expected 2 deletions, got %d", p.Deletions)
	}
}

func TestParsePatch_Empty(t *testing.T) {
	p, err := ParsePatch("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Ranges) != 0 {
		t.Errorf("expected no ranges, got %v", p.Ranges)
	}
}

func TestParsePatch_NoNewlineMarker(t *testing.T) {
	patch := "@@ -1 +1 @@\n-old\n\\ No newline at end of file\n+new\n\\ No newline at end of file\n"

	p, err := ParsePatch(patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Ranges) != 1 || p.Ranges[0] != (types.LineRange{Start: 1, Len: 1}) {
		t.Errorf("unexpected ranges: %v", p.Ranges)
	}
}

func TestParsePatch_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		patch string
	}{
		{"bad header", "@@ -x,y +1,2 @@\n a\n b"},
		{"content without header", "just some text\n+added"},
		{"truncated hunk", "@@ -1,3 +1,3 @@\n a\n"},
		{"body longer than header", "@@ -1 +1 @@\n-a\n+b\n+c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePatch(tt.patch)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestMergeRanges(t *testing.T) {
	in := []types.LineRange{{Start: 20, Len: 2}, {Start: 1, Len: 3}, {Start: 4, Len: 1}, {Start: 21, Len: 5}}
	want := []types.LineRange{{Start: 1, Len: 4}, {Start: 20, Len: 6}}

	if diff := cmp.Diff(want, MergeRanges(in)); diff != "" {
		t.Errorf("MergeRanges mismatch (-want +got):\n%s", diff)
	}
	if MergeRanges(nil) != nil {
		t.Error("expected nil for no ranges")
	}
}
