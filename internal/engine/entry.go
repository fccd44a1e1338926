package engine

import (
	"io/fs"
	"time"
)

// EntryKind is the filesystem type of a snapshot entry.
type EntryKind string

const (
	KindFile    EntryKind = "file"
	KindDir     EntryKind = "dir"
	KindSymlink EntryKind = "symlink"
)

// Entry is an immutable snapshot record for one path in one root.
// Paths are slash-separated and relative to the root.
type Entry struct {
	Path       string      `json:"path"`
	Kind       EntryKind   `json:"kind"`
	Size       int64       `json:"size"`
	ModTime    time.Time   `json:"mod_time"`
	Mode       fs.FileMode `json:"mode"`
	Digest     string      `json:"digest,omitempty"`
	LinkTarget string      `json:"link_target,omitempty"`
}

// SameContent reports whether two entries carry identical content,
// ignoring metadata. Directories always match each other; symlinks
// match on target; files match on size+digest, never on mtime alone.
func (e *Entry) SameContent(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Kind != other.Kind {
		return false
	}
	switch e.Kind {
	case KindDir:
		return true
	case KindSymlink:
		return e.LinkTarget == other.LinkTarget
	default:
		return e.Size == other.Size && e.Digest == other.Digest
	}
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e != nil && e.Kind == KindDir
}

// Snapshot is the state of one root at one instant: every non-ignored
// entry keyed by relative path, plus the scan errors encountered.
type Snapshot struct {
	Root    string
	TakenAt time.Time
	Entries map[string]*Entry
	Errors  []*ScanError
}

// Side names one half of a sync pair.
type Side string

const (
	SideAlpha Side = "alpha"
	SideBeta  Side = "beta"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideAlpha {
		return SideBeta
	}
	return SideAlpha
}
