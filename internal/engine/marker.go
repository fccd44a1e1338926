package engine

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Conflict markers keep the losing version of a keep-both resolution next
// to the file, named so the ignore defaults exclude it from future runs:
// "notes.txt" -> "notes.conflict.20260102150405.txt".
const (
	conflictMarker = ".conflict"
	// markerTimeFormat sorts lexicographically by time.
	markerTimeFormat = "20060102150405"
)

var conflictMarkerRe = regexp.MustCompile(regexp.QuoteMeta(conflictMarker) + `\.\d{14}`)

// conflictMarkerPath constructs the marker path for a losing version.
func conflictMarkerPath(path string, t time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s%s.%s%s", base, conflictMarker, t.Format(markerTimeFormat), ext)
}

// IsConflictMarkerPath reports whether a path names a kept losing version.
func IsConflictMarkerPath(path string) bool {
	return conflictMarkerRe.MatchString(path)
}

// UnmarkedPath strips the conflict marker, recovering the original path.
func UnmarkedPath(path string) string {
	return conflictMarkerRe.ReplaceAllString(path, "")
}
