package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConflictMarkerPath(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	cases := []struct {
		path string
		want string
	}{
		{"notes.txt", "notes.conflict.20260102150405.txt"},
		{"docs/readme.md", "docs/readme.conflict.20260102150405.md"},
		{"noext", "noext.conflict.20260102150405"},
		{"a/b/archive.tar.gz", "a/b/archive.tar.conflict.20260102150405.gz"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, conflictMarkerPath(tc.path, at))
	}
}

func TestIsConflictMarkerPath(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.True(t, IsConflictMarkerPath(conflictMarkerPath("notes.txt", at)))
	assert.True(t, IsConflictMarkerPath(conflictMarkerPath("noext", at)))
	assert.False(t, IsConflictMarkerPath("notes.txt"))
	assert.False(t, IsConflictMarkerPath("conflict.txt"))
	assert.False(t, IsConflictMarkerPath("a.conflict.txt")) // no timestamp
}

func TestUnmarkedPath(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	for _, path := range []string{"notes.txt", "docs/readme.md", "noext"} {
		marked := conflictMarkerPath(path, at)
		assert.Equal(t, path, UnmarkedPath(marked))
	}
	assert.Equal(t, "plain.txt", UnmarkedPath("plain.txt"))
}

func TestMarkerMatchesDefaultIgnores(t *testing.T) {
	matcher := NewIgnoreMatcher(nil)
	marked := conflictMarkerPath("docs/notes.txt", time.Now())
	assert.True(t, matcher.ShouldIgnore(marked))
	assert.False(t, matcher.ShouldIgnore("docs/notes.txt"))
}
