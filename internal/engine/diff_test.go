package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffSnapshot(t *testing.T) {
	cases := []struct {
		name     string
		current  map[string]*Entry
		baseline map[string]*Entry
		want     map[string]ChangeKind
	}{
		{
			name:    "new path is created",
			current: entryMap(fe("a.txt", "d1")),
			want:    map[string]ChangeKind{"a.txt": ChangeCreated},
		},
		{
			name:     "same content is unchanged",
			current:  entryMap(fe("a.txt", "d1")),
			baseline: entryMap(fe("a.txt", "d1")),
			want:     map[string]ChangeKind{"a.txt": ChangeUnchanged},
		},
		{
			name:     "different digest is modified",
			current:  entryMap(fe("a.txt", "d2")),
			baseline: entryMap(fe("a.txt", "d1")),
			want:     map[string]ChangeKind{"a.txt": ChangeModified},
		},
		{
			name:     "baseline only is deleted",
			baseline: entryMap(fe("a.txt", "d1")),
			want:     map[string]ChangeKind{"a.txt": ChangeDeleted},
		},
		{
			name:     "kind change is modified",
			current:  entryMap(dirEntry("x")),
			baseline: entryMap(fe("x", "d1")),
			want:     map[string]ChangeKind{"x": ChangeModified},
		},
		{
			name:     "mixed set",
			current:  entryMap(fe("keep.txt", "d1"), fe("edit.txt", "d2"), fe("new.txt", "d3")),
			baseline: entryMap(fe("keep.txt", "d1"), fe("edit.txt", "d1"), fe("old.txt", "d4")),
			want: map[string]ChangeKind{
				"keep.txt": ChangeUnchanged,
				"edit.txt": ChangeModified,
				"new.txt":  ChangeCreated,
				"old.txt":  ChangeDeleted,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changes := DiffSnapshot(&Snapshot{Entries: tc.current}, tc.baseline)
			require.Len(t, changes, len(tc.want))
			for path, kind := range tc.want {
				require.Contains(t, changes, path)
				assert.Equal(t, kind, changes[path].Kind, "path %s", path)
			}
		})
	}
}

func TestDiffSnapshot_RecordsCarryOldAndNew(t *testing.T) {
	oldEntry := fe("a.txt", "d1")
	newEntry := fe("a.txt", "d2")

	changes := DiffSnapshot(&Snapshot{Entries: entryMap(newEntry)}, entryMap(oldEntry))

	rec := changes["a.txt"]
	require.NotNil(t, rec)
	assert.Same(t, oldEntry, rec.Old)
	assert.Same(t, newEntry, rec.New)

	deleted := DiffSnapshot(&Snapshot{Entries: nil}, entryMap(oldEntry))["a.txt"]
	require.NotNil(t, deleted)
	assert.Same(t, oldEntry, deleted.Old)
	assert.Nil(t, deleted.New)
}

func TestEntry_SameContent(t *testing.T) {
	assert.True(t, fe("a", "d1").SameContent(fe("b", "d1")))
	assert.False(t, fe("a", "d1").SameContent(fe("a", "d2")))
	assert.True(t, dirEntry("a").SameContent(dirEntry("b")))
	assert.False(t, dirEntry("a").SameContent(fe("a", "d1")))

	link1 := &Entry{Path: "l", Kind: KindSymlink, LinkTarget: "target"}
	link2 := &Entry{Path: "l", Kind: KindSymlink, LinkTarget: "target"}
	link3 := &Entry{Path: "l", Kind: KindSymlink, LinkTarget: "other"}
	assert.True(t, link1.SameContent(link2))
	assert.False(t, link1.SameContent(link3))

	var nilEntry *Entry
	assert.False(t, nilEntry.SameContent(link1))
	assert.False(t, link1.SameContent(nil))
	assert.True(t, nilEntry.SameContent(nil))
}
