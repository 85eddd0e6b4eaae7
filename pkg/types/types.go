// Package types contains shared data structures used across the reviewer system.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import "strings"

// FileStatus describes how a file was changed in a merge request.
type FileStatus string

// File statuses.
const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusRemoved  FileStatus = "removed"
	StatusRenamed  FileStatus = "renamed"
)

// ChangeEvent is the normalized form of a single "merge request opened" notification.
type ChangeEvent struct {
	RepositoryURL string `validate:"required"`
	CommitID      string `validate:"required"`
	Author        string
	Changes       []FileChange
}

// LineRange is a run of Len lines starting at Start (1-based).
type LineRange struct {
	Start int
	Len   int
}

// End returns the last line covered by the range.
func (r LineRange) End() int {
	return r.Start + r.Len - 1
}

// Contains reports whether line falls inside the range.
func (r LineRange) Contains(line int) bool {
	return line >= r.Start && line <= r.End()
}

// FileChange represents a file changed in a merge request.
type FileChange struct {
	Path      string
	OldPath   string // set for renamed files
	Status    FileStatus
	Hunk      string // raw patch text, if the host supplied one
	Ranges    []LineRange
	Additions int
	Deletions int
}

// ChangedLines returns the number of added plus deleted lines.
func (f FileChange) ChangedLines() int {
	return f.Additions + f.Deletions
}

// BlameEntry attributes one touched line to the author who last modified it.
type BlameEntry struct {
	Path     string
	Author   string
	CommitID string
	Line     int
}

// OwnerScore is the aggregated weight of one author across a change set.
type OwnerScore struct {
	Author string
	Weight int // attributed lines
	Files  int // files the author contributed lines to
	Order  int // first-seen position, used to break ties
}

// NormalizeIdentity case-folds a user identity so that "@Alice" and "alice" compare equal.
func NormalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "@"))
}
