package diff

import (
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

const devNull = "/dev/null"

// section accumulates the lines of one file in a unified diff.
type section struct {
	oldPath string
	newPath string
	status  types.FileStatus
	body    []string
	binary  bool
	broken  bool // hunk header unparsable; skip until the next file
}

// ParseUnified parses multi-file unified diff text, as produced by git diff.
// A file whose hunks cannot be parsed is dropped with a warning; the other files
// are still returned.
func ParseUnified(text string) []types.FileChange {
	var (
		changes []types.FileChange
		cur     *section
		oldLeft int
		newLeft int
	)

	flush := func() {
		if cur == nil {
			return
		}
		if fc, ok := cur.fileChange(); ok {
			changes = append(changes, fc)
		}
		cur = nil
		oldLeft, newLeft = 0, 0
	}

	for _, line := range strings.Split(text, "\n") {
		if cur != nil && !cur.broken && (oldLeft > 0 || newLeft > 0) && strings.HasPrefix(line, "diff --git ") {
			slog.Warn("Dropping file with malformed diff", "path", cur.path(), "error", "truncated hunk")
			cur.broken = true
		}

		// Inside a hunk every line belongs to the body until the header counts are used up.
		if cur != nil && !cur.broken && (oldLeft > 0 || newLeft > 0) {
			cur.body = append(cur.body, line)
			switch {
			case strings.HasPrefix(line, `\`):
			case strings.HasPrefix(line, "+"):
				newLeft--
			case strings.HasPrefix(line, "-"):
				oldLeft--
			default:
				oldLeft--
				newLeft--
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "diff --git "):
			flush()
			cur = &section{status: types.StatusModified}
			cur.oldPath, cur.newPath = gitHeaderPaths(strings.TrimPrefix(line, "diff --git "))

		case strings.HasPrefix(line, "--- ") && (cur == nil || len(cur.body) > 0):
			// Plain unified diff without git headers: "---" starts the next file.
			flush()
			cur = &section{status: types.StatusModified}
			cur.oldPath = headerPath(strings.TrimPrefix(line, "--- "))
			if cur.oldPath == "" {
				cur.status = types.StatusAdded
			}

		case cur == nil:
			// Preamble (commit message, index lines of a format-patch mail, ...).

		case cur.broken:

		case strings.HasPrefix(line, "--- "):
			if p := headerPath(strings.TrimPrefix(line, "--- ")); p != "" {
				cur.oldPath = p
			}
			if strings.TrimSpace(strings.TrimPrefix(line, "--- ")) == devNull {
				cur.status = types.StatusAdded
			}

		case strings.HasPrefix(line, "+++ "):
			if p := headerPath(strings.TrimPrefix(line, "+++ ")); p != "" {
				cur.newPath = p
			}
			if strings.TrimSpace(strings.TrimPrefix(line, "+++ ")) == devNull {
				cur.status = types.StatusRemoved
			}

		case strings.HasPrefix(line, "new file mode"):
			cur.status = types.StatusAdded
		case strings.HasPrefix(line, "deleted file mode"):
			cur.status = types.StatusRemoved
		case strings.HasPrefix(line, "rename from "):
			cur.oldPath = strings.TrimPrefix(line, "rename from ")
			cur.status = types.StatusRenamed
		case strings.HasPrefix(line, "rename to "):
			cur.newPath = strings.TrimPrefix(line, "rename to ")
			cur.status = types.StatusRenamed
		case strings.HasPrefix(line, "Binary files ") || strings.HasPrefix(line, "GIT binary patch"):
			cur.binary = true

		case strings.HasPrefix(line, "@@"):
			h, err := parseHunkHeader(line)
			if err != nil {
				slog.Warn("Dropping file with malformed diff", "path", cur.path(), "error", err)
				cur.broken = true
				continue
			}
			cur.body = append(cur.body, line)
			oldLeft, newLeft = h.oldCount, h.newCount
		}
	}
	flush()

	return changes
}

// path returns the best known path for the section.
func (s *section) path() string {
	if s.newPath != "" {
		return s.newPath
	}
	return s.oldPath
}

// fileChange converts a finished section. It returns false for sections that must be dropped.
func (s *section) fileChange() (types.FileChange, bool) {
	if s.broken {
		return types.FileChange{}, false
	}

	fc := types.FileChange{
		Path:   s.path(),
		Status: s.status,
	}
	if s.status == types.StatusRemoved {
		fc.Path = s.oldPath
	}
	renamed := s.status == types.StatusModified && s.oldPath != "" && s.newPath != "" && s.oldPath != s.newPath
	if s.status == types.StatusRenamed || renamed {
		fc.Status = types.StatusRenamed
		fc.OldPath = s.oldPath
	}
	if fc.Path == "" {
		slog.Warn("Dropping diff section without a file path")
		return types.FileChange{}, false
	}
	if s.binary || len(s.body) == 0 {
		return fc, true
	}

	fc.Hunk = strings.Join(s.body, "\n")
	p, err := ParsePatch(fc.Hunk)
	if err != nil {
		slog.Warn("Dropping file with malformed diff", "path", fc.Path, "error", err)
		return types.FileChange{}, false
	}
	fc.Ranges = p.Ranges
	fc.Additions = p.Additions
	fc.Deletions = p.Deletions
	return fc, true
}

// gitHeaderPaths splits "a/old b/new" from a diff --git header.
func gitHeaderPaths(rest string) (oldPath, newPath string) {
	// Paths may contain spaces; the header is symmetric so split at " b/".
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return strings.TrimPrefix(rest[:i], "a/"), rest[i+len(" b/"):]
	}
	fields := strings.Fields(rest)
	if len(fields) == 2 {
		return strings.TrimPrefix(fields[0], "a/"), strings.TrimPrefix(fields[1], "b/")
	}
	return "", ""
}

// headerPath extracts the path from a ---/+++ line, dropping the a/ or b/ prefix and any timestamp.
func headerPath(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	if s == devNull {
		return ""
	}
	if strings.HasPrefix(s, "a/") || strings.HasPrefix(s, "b/") {
		return s[2:]
	}
	return s
}
