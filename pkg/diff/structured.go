package diff

import (
	"log/slog"

	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// ChangedFile is one entry of a structured file-change list, as returned by a host API.
type ChangedFile struct {
	OldPath     string
	NewPath     string
	Patch       string // per-file hunks, without "diff --git" headers
	NewFile     bool
	RenamedFile bool
	DeletedFile bool
	TooLarge    bool // the host omitted the patch
}

// FromChangedFiles converts a structured change list into FileChange records.
// Files with unparsable patches are dropped with a warning.
func FromChangedFiles(files []ChangedFile) []types.FileChange {
	changes := make([]types.FileChange, 0, len(files))
	for _, f := range files {
		fc := types.FileChange{
			Path:   f.NewPath,
			Status: types.StatusModified,
			Hunk:   f.Patch,
		}
		switch {
		case f.DeletedFile:
			fc.Status = types.StatusRemoved
			if f.OldPath != "" {
				fc.Path = f.OldPath
			}
		case f.NewFile:
			fc.Status = types.StatusAdded
		case f.RenamedFile || (f.OldPath != "" && f.NewPath != "" && f.OldPath != f.NewPath):
			fc.Status = types.StatusRenamed
			fc.OldPath = f.OldPath
		}
		if fc.Path == "" {
			fc.Path = f.OldPath
		}
		if fc.Path == "" {
			slog.Warn("Dropping changed file without a path")
			continue
		}

		if f.TooLarge {
			slog.Debug("Patch omitted by host", "path", fc.Path)
		}

		p, err := ParsePatch(f.Patch)
		if err != nil {
			slog.Warn("Dropping file with malformed diff", "path", fc.Path, "error", err)
			continue
		}
		fc.Ranges = p.Ranges
		fc.Additions = p.Additions
		fc.Deletions = p.Deletions
		changes = append(changes, fc)
	}
	return changes
}
