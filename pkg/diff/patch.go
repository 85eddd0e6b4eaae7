// Package diff normalizes merge request changes into types.FileChange records.
//
// Two input shapes are supported: raw unified diff text (git diff output) and the
// structured per-file lists that GitLab and GitHub return from their APIs. Both
// produce the same FileChange shape so nothing downstream branches on the source.
package diff

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// ErrMalformed is returned when a patch cannot be parsed.
var ErrMalformed = errors.New("malformed patch")

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Patch is the parsed form of a single file's hunks.
type Patch struct {
	Ranges    []types.LineRange // new-side line ranges, sorted and merged
	Additions int
	Deletions int
}

// hunk is a parsed hunk header.
type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
}

// parseHunkHeader parses "@@ -a,b +c,d @@". Counts default to 1 when omitted.
func parseHunkHeader(line string) (hunk, error) {
	m := hunkHeader.FindStringSubmatch(line)
	if m == nil {
		return hunk{}, fmt.Errorf("%w: bad hunk header %q", ErrMalformed, line)
	}
	num := func(s string, def int) int {
		if s == "" {
			return def
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return -1
		}
		return n
	}
	h := hunk{
		oldStart: num(m[1], 0),
		oldCount: num(m[2], 1),
		newStart: num(m[3], 0),
		newCount: num(m[4], 1),
	}
	if h.oldStart < 0 || h.oldCount < 0 || h.newStart < 0 || h.newCount < 0 {
		return hunk{}, fmt.Errorf("%w: bad hunk header %q", ErrMalformed, line)
	}
	return h, nil
}

// touched returns the new-side range a hunk covers. Pure deletions have no
// new-side lines, so the line next to the deletion point stands in for them.
func (h hunk) touched() types.LineRange {
	if h.newCount == 0 {
		return types.LineRange{Start: max(h.newStart, 1), Len: 1}
	}
	return types.LineRange{Start: h.newStart, Len: h.newCount}
}

// ParsePatch parses the hunks of a single file (no "diff --git" or ---/+++ headers).
// An empty patch is valid and yields no ranges.
func ParsePatch(patch string) (Patch, error) {
	var p Patch
	if strings.TrimSpace(patch) == "" {
		return p, nil
	}

	var oldLeft, newLeft int
	inHunk := false
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			if oldLeft > 0 || newLeft > 0 {
				return Patch{}, fmt.Errorf("%w: truncated hunk before %q", ErrMalformed, line)
			}
			h, err := parseHunkHeader(line)
			if err != nil {
				return Patch{}, err
			}
			p.Ranges = append(p.Ranges, h.touched())
			oldLeft, newLeft = h.oldCount, h.newCount
			inHunk = true
			continue
		}

		if !inHunk {
			// Leading file headers are tolerated; anything else is not a patch.
			if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") || line == "" {
				continue
			}
			return Patch{}, fmt.Errorf("%w: content before first hunk header", ErrMalformed)
		}

		if strings.HasPrefix(line, `\`) { // "\ No newline at end of file"
			continue
		}
		if oldLeft == 0 && newLeft == 0 {
			if line == "" {
				continue
			}
			return Patch{}, fmt.Errorf("%w: hunk body longer than its header", ErrMalformed)
		}

		switch {
		case strings.HasPrefix(line, "+"):
			newLeft--
			p.Additions++
		case strings.HasPrefix(line, "-"):
			oldLeft--
			p.Deletions++
		default: // context, including whitespace-stripped empty context lines
			oldLeft--
			newLeft--
		}
		if oldLeft < 0 || newLeft < 0 {
			return Patch{}, fmt.Errorf("%w: hunk body longer than its header", ErrMalformed)
		}
	}

	if oldLeft > 0 || newLeft > 0 {
		return Patch{}, fmt.Errorf("%w: truncated hunk at end of patch", ErrMalformed)
	}
	p.Ranges = MergeRanges(p.Ranges)
	return p, nil
}

// MergeRanges sorts ranges and merges overlapping or adjacent ones.
func MergeRanges(ranges []types.LineRange) []types.LineRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b types.LineRange) int {
		return a.Start - b.Start
	})

	merged := []types.LineRange{sorted[0]}
	for _, r := range sorted[1:] {
		if r.Len <= 0 {
			continue
		}
		last := &merged[len(merged)-1]
		if r.Start <= last.End()+1 {
			if r.End() > last.End() {
				last.Len = r.End() - last.Start + 1
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
