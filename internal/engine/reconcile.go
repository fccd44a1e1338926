package engine

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tandemsync/tandem/internal/config"
)

// Op is the operation an Action performs.
type Op string

const (
	OpCopyToBeta  Op = "copy-to-beta"
	OpCopyToAlpha Op = "copy-to-alpha"
	OpDeleteAlpha Op = "delete-alpha"
	OpDeleteBeta  Op = "delete-beta"
	OpSkip        Op = "skip"
)

// Action is one planned mutation of one root.
type Action struct {
	Op     Op     `json:"op"`
	Path   string `json:"path"`
	Source *Entry `json:"source,omitempty"` // content being propagated; nil for deletes
	Target *Entry `json:"target,omitempty"` // current entry at the destination; nil when absent
	// Backup preserves the target content in the backup store before the change.
	Backup bool `json:"backup,omitempty"`
	// Marker renames the target to a conflict marker first (keep-both).
	Marker bool `json:"marker,omitempty"`
	// MetaOnly propagates mode/mtime without a content copy.
	MetaOnly bool   `json:"meta_only,omitempty"`
	Reason   string `json:"reason"`
}

// Dest is the side the action mutates.
func (a *Action) Dest() Side {
	switch a.Op {
	case OpCopyToAlpha, OpDeleteAlpha:
		return SideAlpha
	default:
		return SideBeta
	}
}

func (a *Action) IsCopy() bool {
	return a.Op == OpCopyToAlpha || a.Op == OpCopyToBeta
}

func (a *Action) IsDelete() bool {
	return a.Op == OpDeleteAlpha || a.Op == OpDeleteBeta
}

func (a *Action) String() string {
	return fmt.Sprintf("%s %s (%s)", a.Op, a.Path, a.Reason)
}

// Resolution records how a conflict was settled.
type Resolution string

const (
	ResolvedAlpha    Resolution = "alpha-wins"
	ResolvedBeta     Resolution = "beta-wins"
	ResolvedKeepBoth Resolution = "keep-both"
)

// Conflict is a path changed incompatibly on both sides since baseline.
// Every conflict carries its resolution; keep-both preserves the losing
// version as a conflict marker instead of discarding it.
type Conflict struct {
	Path        string     `json:"path"`
	AlphaChange ChangeKind `json:"alpha_change"`
	BetaChange  ChangeKind `json:"beta_change"`
	Alpha       *Entry     `json:"alpha,omitempty"`
	Beta        *Entry     `json:"beta,omitempty"`
	Resolution  Resolution `json:"resolution"`
	Reason      string     `json:"reason"`
}

// EntryPair is the per-side state of one path after a run.
type EntryPair struct {
	Alpha *Entry
	Beta  *Entry
}

// Plan is the reconciler's output: the actions to execute, the conflicts
// behind them, baseline rows to clear, and paths already in sync whose
// baseline rows only need refreshing.
type Plan struct {
	Actions   []*Action
	Conflicts []*Conflict
	Cleanups  []string
	InSync    map[string]*EntryPair
	Unchanged int
}

func NewPlan() *Plan {
	return &Plan{InSync: make(map[string]*EntryPair)}
}

// HasChanges reports whether executing the plan would touch either root
// or clear baseline rows.
func (p *Plan) HasChanges() bool {
	return len(p.Actions) > 0 || len(p.Cleanups) > 0
}

// CopyCount counts content and metadata copies per destination side.
func (p *Plan) CopyCount(dest Side) int {
	n := 0
	for _, a := range p.Actions {
		if a.IsCopy() && a.Dest() == dest {
			n++
		}
	}
	return n
}

// DeleteCount counts deletes per destination side.
func (p *Plan) DeleteCount(dest Side) int {
	n := 0
	for _, a := range p.Actions {
		if a.IsDelete() && a.Dest() == dest {
			n++
		}
	}
	return n
}

// Reconciler merges the per-side change sets into a Plan according to the
// profile's policies.
type Reconciler struct {
	profile *config.Profile
}

func NewReconciler(profile *config.Profile) *Reconciler {
	return &Reconciler{profile: profile}
}

// Reconcile walks the union of changed paths in sorted order and decides
// one outcome per path. At most one action is planned per path.
func (r *Reconciler) Reconcile(alpha, beta map[string]*ChangeRecord) *Plan {
	paths := mapset.NewThreadUnsafeSet[string]()
	for path := range alpha {
		paths.Add(path)
	}
	for path := range beta {
		paths.Add(path)
	}
	sorted := paths.ToSlice()
	sort.Strings(sorted)

	plan := NewPlan()

	forceSide, forced := r.forceSide()
	for _, path := range sorted {
		a, b := alpha[path], beta[path]
		if forced {
			r.reconcileForced(plan, path, a, b, forceSide)
			continue
		}
		r.reconcilePath(plan, path, a, b)
	}

	r.pruneConflictSubtrees(plan)
	return plan
}

// pruneConflictSubtrees handles directory-versus-file conflicts. When the
// losing side holds the directory, settling the conflict renames or
// removes that whole subtree, so planned work beneath it would read from
// paths that no longer exist. Those actions are deferred; the next run
// sees the settled root and converges the remainder.
func (r *Reconciler) pruneConflictSubtrees(plan *Plan) {
	var roots []string
	for _, c := range plan.Conflicts {
		if c.Alpha == nil || c.Beta == nil || c.Alpha.IsDir() == c.Beta.IsDir() {
			continue
		}
		loserIsDir := false
		switch c.Resolution {
		case ResolvedAlpha, ResolvedKeepBoth:
			loserIsDir = c.Beta.IsDir()
		case ResolvedBeta:
			loserIsDir = c.Alpha.IsDir()
		}
		if loserIsDir {
			roots = append(roots, c.Path+"/")
		}
	}
	if len(roots) == 0 {
		return
	}

	keep := plan.Actions[:0]
	for _, a := range plan.Actions {
		if underAny(a.Path, roots) {
			continue
		}
		keep = append(keep, a)
	}
	plan.Actions = keep
}

func underAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (r *Reconciler) forceSide() (Side, bool) {
	if r.profile.Force == "" {
		return "", false
	}
	if r.profile.Force == r.profile.Alpha() {
		return SideAlpha, true
	}
	return SideBeta, true
}

func (r *Reconciler) reconcilePath(plan *Plan, path string, a, b *ChangeRecord) {
	// A nil record means the side has no current entry and no baseline row.
	switch {
	case a == nil && b == nil:
		return
	case a == nil:
		r.oneSided(plan, path, b, SideBeta)
		return
	case b == nil:
		r.oneSided(plan, path, a, SideAlpha)
		return
	}

	aDel, bDel := a.Kind == ChangeDeleted, b.Kind == ChangeDeleted
	aChanged := a.Kind == ChangeCreated || a.Kind == ChangeModified
	bChanged := b.Kind == ChangeCreated || b.Kind == ChangeModified

	switch {
	case aDel && bDel:
		plan.Cleanups = append(plan.Cleanups, path)

	case aDel && bChanged:
		r.deleteVsChange(plan, path, a, b, SideBeta)
	case bDel && aChanged:
		r.deleteVsChange(plan, path, b, a, SideAlpha)

	case aDel: // beta unchanged
		plan.Actions = append(plan.Actions, &Action{
			Op:     OpDeleteBeta,
			Path:   path,
			Target: b.New,
			Backup: r.wantBackup(path),
			Reason: "deleted on alpha",
		})
	case bDel: // alpha unchanged
		plan.Actions = append(plan.Actions, &Action{
			Op:     OpDeleteAlpha,
			Path:   path,
			Target: a.New,
			Backup: r.wantBackup(path),
			Reason: "deleted on beta",
		})

	case aChanged && !bChanged:
		plan.Actions = append(plan.Actions, &Action{
			Op:     OpCopyToBeta,
			Path:   path,
			Source: a.New,
			Target: b.New,
			Backup: b.New != nil && r.wantBackup(path),
			Reason: fmt.Sprintf("%s on alpha", a.Kind),
		})
	case bChanged && !aChanged:
		plan.Actions = append(plan.Actions, &Action{
			Op:     OpCopyToAlpha,
			Path:   path,
			Source: b.New,
			Target: a.New,
			Backup: a.New != nil && r.wantBackup(path),
			Reason: fmt.Sprintf("%s on beta", b.Kind),
		})

	default:
		// both unchanged, or both changed
		r.bothPresent(plan, path, a, b)
	}
}

// oneSided handles paths only one side has ever seen.
func (r *Reconciler) oneSided(plan *Plan, path string, c *ChangeRecord, side Side) {
	if c.Kind == ChangeDeleted {
		// deleted here, never existed on the other side
		plan.Cleanups = append(plan.Cleanups, path)
		return
	}

	op := OpCopyToBeta
	if side == SideBeta {
		op = OpCopyToAlpha
	}
	reason := fmt.Sprintf("%s on %s", c.Kind, side)
	if c.Kind == ChangeUnchanged {
		reason = fmt.Sprintf("only present on %s", side)
	}
	plan.Actions = append(plan.Actions, &Action{
		Op:     op,
		Path:   path,
		Source: c.New,
		Reason: reason,
	})
}

// bothPresent handles paths with current entries on both sides where
// neither side deleted: identical content converges, divergent content
// is a conflict resolved by the prefer policy.
func (r *Reconciler) bothPresent(plan *Plan, path string, a, b *ChangeRecord) {
	bothUnchanged := a.Kind == ChangeUnchanged && b.Kind == ChangeUnchanged

	if a.New.SameContent(b.New) {
		if r.metaDrift(plan, path, a, b) {
			return
		}
		plan.InSync[path] = &EntryPair{Alpha: a.New, Beta: b.New}
		if bothUnchanged {
			plan.Unchanged++
		}
		return
	}

	conflict := &Conflict{
		Path:        path,
		AlphaChange: a.Kind,
		BetaChange:  b.Kind,
		Alpha:       a.New,
		Beta:        b.New,
	}
	resolution, reason := r.resolve(a.New, b.New)
	conflict.Resolution = resolution
	conflict.Reason = reason
	plan.Conflicts = append(plan.Conflicts, conflict)

	switch resolution {
	case ResolvedAlpha:
		plan.Actions = append(plan.Actions, &Action{
			Op: OpCopyToBeta, Path: path,
			Source: a.New, Target: b.New,
			Backup: r.wantBackup(path),
			Reason: reason,
		})
	case ResolvedBeta:
		plan.Actions = append(plan.Actions, &Action{
			Op: OpCopyToAlpha, Path: path,
			Source: b.New, Target: a.New,
			Backup: r.wantBackup(path),
			Reason: reason,
		})
	case ResolvedKeepBoth:
		// beta's version survives as a conflict marker next to the file;
		// alpha's content propagates so both roots converge. The marker
		// itself preserves the losing copy, no backup needed.
		plan.Actions = append(plan.Actions, &Action{
			Op: OpCopyToBeta, Path: path,
			Source: a.New, Target: b.New,
			Marker: true,
			Reason: reason,
		})
	}
}

// deleteVsChange: one side deleted, the other created or modified. The
// changed copy wins by default and is re-propagated to the deleting side;
// the conflict is still reported.
func (r *Reconciler) deleteVsChange(plan *Plan, path string, deleted, changed *ChangeRecord, changedSide Side) {
	conflict := &Conflict{
		Path:   path,
		Reason: fmt.Sprintf("deleted on %s but %s on %s, keeping the changed copy", changedSide.Other(), changed.Kind, changedSide),
	}

	op := OpCopyToBeta
	if changedSide == SideAlpha {
		conflict.AlphaChange = changed.Kind
		conflict.BetaChange = ChangeDeleted
		conflict.Alpha = changed.New
		conflict.Resolution = ResolvedAlpha
	} else {
		op = OpCopyToAlpha
		conflict.AlphaChange = ChangeDeleted
		conflict.BetaChange = changed.Kind
		conflict.Beta = changed.New
		conflict.Resolution = ResolvedBeta
	}
	plan.Conflicts = append(plan.Conflicts, conflict)

	plan.Actions = append(plan.Actions, &Action{
		Op:     op,
		Path:   path,
		Source: changed.New,
		Reason: conflict.Reason,
	})
}

// resolve applies the prefer policy to a both-changed conflict.
func (r *Reconciler) resolve(alphaEntry, betaEntry *Entry) (Resolution, string) {
	if root, ok := r.profile.PreferRoot(); ok {
		if root == r.profile.Alpha() {
			return ResolvedAlpha, "preferred root " + root
		}
		return ResolvedBeta, "preferred root " + root
	}

	switch r.profile.Prefer {
	case config.PreferNewer:
		if alphaEntry.ModTime.After(betaEntry.ModTime) {
			return ResolvedAlpha, "alpha is newer"
		}
		if betaEntry.ModTime.After(alphaEntry.ModTime) {
			return ResolvedBeta, "beta is newer"
		}
		return ResolvedKeepBoth, "modification times equal, keeping both"
	case config.PreferOlder:
		if alphaEntry.ModTime.Before(betaEntry.ModTime) {
			return ResolvedAlpha, "alpha is older"
		}
		if betaEntry.ModTime.Before(alphaEntry.ModTime) {
			return ResolvedBeta, "beta is older"
		}
		return ResolvedKeepBoth, "modification times equal, keeping both"
	default:
		return ResolvedKeepBoth, "no preference policy, keeping both"
	}
}

// metaDrift plans a metadata-only action when content matches but mode or
// mtime moved on one side and the profile propagates that attribute.
func (r *Reconciler) metaDrift(plan *Plan, path string, a, b *ChangeRecord) bool {
	modeDrift := r.profile.Perms && a.New.Mode != b.New.Mode
	timeDrift := r.profile.Times && !a.New.ModTime.Equal(b.New.ModTime)
	if !modeDrift && !timeDrift {
		return false
	}

	// attribute the drift to the side that moved relative to its baseline
	aMoved := a.Old != nil && (a.Old.Mode != a.New.Mode || !a.Old.ModTime.Equal(a.New.ModTime))
	bMoved := b.Old != nil && (b.Old.Mode != b.New.Mode || !b.Old.ModTime.Equal(b.New.ModTime))

	switch {
	case aMoved && !bMoved:
		plan.Actions = append(plan.Actions, &Action{
			Op: OpCopyToBeta, Path: path,
			Source: a.New, Target: b.New,
			MetaOnly: true,
			Reason:   "attributes changed on alpha",
		})
	case bMoved && !aMoved:
		plan.Actions = append(plan.Actions, &Action{
			Op: OpCopyToAlpha, Path: path,
			Source: b.New, Target: a.New,
			MetaOnly: true,
			Reason:   "attributes changed on beta",
		})
	default:
		// neither or both moved: attributes differ but no side to blame,
		// leave them alone rather than ping-pong
		return false
	}
	return true
}

// reconcileForced applies one-way mirror semantics: every difference is
// settled in favor of the forced side, conflicts included.
func (r *Reconciler) reconcileForced(plan *Plan, path string, a, b *ChangeRecord, winner Side) {
	wRec, lRec := a, b
	copyOp, deleteOp := OpCopyToBeta, OpDeleteBeta
	if winner == SideBeta {
		wRec, lRec = b, a
		copyOp, deleteOp = OpCopyToAlpha, OpDeleteAlpha
	}

	wEntry := currentEntry(wRec)
	lEntry := currentEntry(lRec)
	reason := fmt.Sprintf("forced from %s", winner)

	switch {
	case wEntry == nil && lEntry == nil:
		if wRec != nil || lRec != nil {
			plan.Cleanups = append(plan.Cleanups, path)
		}
	case wEntry == nil:
		plan.Actions = append(plan.Actions, &Action{
			Op:     deleteOp,
			Path:   path,
			Target: lEntry,
			Backup: r.wantBackup(path),
			Reason: reason,
		})
	case lEntry == nil:
		plan.Actions = append(plan.Actions, &Action{
			Op:     copyOp,
			Path:   path,
			Source: wEntry,
			Reason: reason,
		})
	case wEntry.SameContent(lEntry):
		plan.InSync[path] = &EntryPair{Alpha: currentEntry(a), Beta: currentEntry(b)}
		if wRec.Kind == ChangeUnchanged && lRec.Kind == ChangeUnchanged {
			plan.Unchanged++
		}
	default:
		plan.Actions = append(plan.Actions, &Action{
			Op:     copyOp,
			Path:   path,
			Source: wEntry,
			Target: lEntry,
			Backup: r.wantBackup(path),
			Reason: reason,
		})
	}
}

// wantBackup honors the backup flag and the backup_not exemptions.
func (r *Reconciler) wantBackup(path string) bool {
	if !r.profile.Backup {
		return false
	}
	return !config.MatchAny(r.profile.BackupNotRules(), path)
}

func currentEntry(c *ChangeRecord) *Entry {
	if c == nil {
		return nil
	}
	return c.New
}
