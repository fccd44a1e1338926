package engine

// ChangeKind classifies how a path moved relative to the baseline.
type ChangeKind string

const (
	ChangeUnchanged ChangeKind = "unchanged"
	ChangeCreated   ChangeKind = "created"
	ChangeModified  ChangeKind = "modified"
	ChangeDeleted   ChangeKind = "deleted"
)

// ChangeRecord describes one path's transition on one side: Old is the
// baseline entry, New the current one. Created records have no Old,
// deleted records no New.
type ChangeRecord struct {
	Path string
	Kind ChangeKind
	Old  *Entry
	New  *Entry
}

// DiffSnapshot compares a current snapshot against that side's baseline,
// producing one record per path in either. Modification is detected by
// kind, size and digest; mtime alone is never trusted (cross-filesystem
// clock skew). A kind change (file to dir and so on) counts as modified.
func DiffSnapshot(current *Snapshot, baseline map[string]*Entry) map[string]*ChangeRecord {
	changes := make(map[string]*ChangeRecord, len(current.Entries))

	for path, entry := range current.Entries {
		old, known := baseline[path]
		switch {
		case !known:
			changes[path] = &ChangeRecord{Path: path, Kind: ChangeCreated, New: entry}
		case !old.SameContent(entry):
			changes[path] = &ChangeRecord{Path: path, Kind: ChangeModified, Old: old, New: entry}
		default:
			changes[path] = &ChangeRecord{Path: path, Kind: ChangeUnchanged, Old: old, New: entry}
		}
	}

	// baseline-only paths are deletions
	for path, old := range baseline {
		if _, exists := current.Entries[path]; !exists {
			changes[path] = &ChangeRecord{Path: path, Kind: ChangeDeleted, Old: old}
		}
	}

	return changes
}
