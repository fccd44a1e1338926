package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/pair"
	"github.com/tandemsync/tandem/internal/utils"
)

const (
	fullSyncInterval     = 5 * time.Minute
	watchSettleDelay     = 500 * time.Millisecond
	bigDeleteMinBaseline = 10
)

// ConfirmFunc decides interactively whether a guarded operation may
// proceed. Returning false aborts the run.
type ConfirmFunc func(prompt string) bool

type Option func(*Engine)

// WithStateRoot overrides where pair state (baseline, backups, lock)
// lives.
func WithStateRoot(dir string) Option {
	return func(e *Engine) { e.stateRoot = dir }
}

// WithDryRun plans without touching either root or the baseline.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

// WithConfirm installs the interactive gate for big deletes.
func WithConfirm(confirm ConfirmFunc) Option {
	return func(e *Engine) { e.confirm = confirm }
}

// Engine drives one sync pair end to end: scan, diff, reconcile,
// execute, commit.
type Engine struct {
	profile   *config.Profile
	stateRoot string
	dryRun    bool
	confirm   ConfirmFunc

	pair      *pair.Pair
	baseline  *BaselineStore
	backups   *BackupStore
	watcher   *RootWatcher
	scanAlpha *Scanner
	scanBeta  *Scanner

	muSync sync.Mutex
	opened bool
}

func New(profile *config.Profile, opts ...Option) *Engine {
	e := &Engine{
		profile:   profile,
		stateRoot: config.DefaultStateDir,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open claims the pair lock and opens the baseline database. It must be
// called before Sync or Watch.
func (e *Engine) Open() error {
	if e.opened {
		return nil
	}

	p, err := pair.New(e.stateRoot, e.profile.Alpha(), e.profile.Beta())
	if err != nil {
		return fatal("pair state", err)
	}
	if err := p.Lock(); err != nil {
		if errors.Is(err, pair.ErrPairLocked) {
			return fmt.Errorf("pair %s: %w", p.ID, ErrSyncInProgress)
		}
		return fatal("pair lock", err)
	}

	store, err := OpenBaseline(p.BaselinePath)
	if err != nil {
		_ = p.Unlock()
		return fatal("baseline", err)
	}

	e.pair = p
	e.baseline = store
	e.backups = NewBackupStore(p.BackupsDir, e.profile.MaxBackups)
	// scanners persist across runs so the digest cache pays off in watch mode
	e.scanAlpha = NewScanner(e.profile.Alpha())
	e.scanBeta = NewScanner(e.profile.Beta())
	e.opened = true

	slog.Debug("engine open", "pair", p.ID, "state", p.StateDir)
	return nil
}

// Close releases the baseline database and the pair lock.
func (e *Engine) Close() error {
	if !e.opened {
		return nil
	}
	e.opened = false
	return errors.Join(e.baseline.Close(), e.pair.Unlock())
}

// Baseline exposes the store for the history command.
func (e *Engine) Baseline() *BaselineStore {
	return e.baseline
}

// Backups exposes the backup store.
func (e *Engine) Backups() *BackupStore {
	return e.backups
}

// Sync runs one full reconciliation pass. Only one pass runs at a time;
// a second concurrent call fails with ErrSyncInProgress. The baseline is
// committed after execution so interrupted runs are re-planned, never
// half-remembered.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.muSync.Unlock()

	if !e.opened {
		return nil, fatal("sync", errors.New("engine not open"))
	}

	report := newReport(e.profile.Name, e.profile.Alpha(), e.profile.Beta(), e.dryRun)
	slog.Info("sync start", "run", report.RunID, "profile", e.profile.Name, "dry_run", e.dryRun)

	matcher := NewIgnoreMatcher(e.profile.IgnoreRules(), e.profile.Alpha(), e.profile.Beta())

	baseAlpha, err := e.baseline.State(ctx, SideAlpha)
	if err != nil {
		return nil, fatal("baseline load", err)
	}
	baseBeta, err := e.baseline.State(ctx, SideBeta)
	if err != nil {
		return nil, fatal("baseline load", err)
	}

	var alphaSnap, betaSnap *Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := e.scanAlpha.Scan(gctx, matcher)
		alphaSnap = s
		return err
	})
	g.Go(func() error {
		s, err := e.scanBeta.Scan(gctx, matcher)
		betaSnap = s
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fatal("scan", err)
	}

	report.AlphaScanned = len(alphaSnap.Entries)
	report.BetaScanned = len(betaSnap.Entries)
	report.addScanErrors(alphaSnap.Errors)
	report.addScanErrors(betaSnap.Errors)

	alphaChanges := DiffSnapshot(alphaSnap, filterIgnored(baseAlpha, matcher))
	betaChanges := DiffSnapshot(betaSnap, filterIgnored(baseBeta, matcher))

	plan := NewReconciler(e.profile).Reconcile(alphaChanges, betaChanges)
	report.Conflicts = plan.Conflicts
	report.Unchanged = plan.Unchanged

	if side, count, tripped := e.bigDeleteTripped(plan, alphaSnap, betaSnap, baseAlpha, baseBeta); tripped {
		prompt := fmt.Sprintf("about to delete %d entries on %s (%s), continue?", count, side, e.rootOf(side))
		if e.confirm == nil || !e.confirm(prompt) {
			report.Status = StatusAborted
			report.finish()
			slog.Warn("sync aborted", "run", report.RunID, "reason", "big delete guard", "side", side, "deletes", count)
			return report, fmt.Errorf("%w: %d deletions on %s", ErrBigDelete, count, side)
		}
	}

	if e.dryRun {
		report.addPlanned(plan)
		report.finish()
		slog.Info("sync planned", "run", report.RunID, "summary", report.Summary())
		return report, nil
	}

	if !e.profile.Auto && plan.HasChanges() {
		prompt := fmt.Sprintf("apply %d changes (%d copies, %d deletes)?",
			len(plan.Actions),
			plan.CopyCount(SideAlpha)+plan.CopyCount(SideBeta),
			plan.DeleteCount(SideAlpha)+plan.DeleteCount(SideBeta))
		if e.confirm == nil || !e.confirm(prompt) {
			report.Status = StatusAborted
			report.finish()
			return report, ErrAborted
		}
	}

	results := NewExecutor(e.profile, e.backups, e.markOwnWrite).Execute(ctx, plan)
	for _, res := range results {
		report.addResult(res)
	}

	nextAlpha, nextBeta := nextBaseline(plan, results, baseAlpha, baseBeta)
	if err := e.baseline.Commit(ctx, nextAlpha, nextBeta); err != nil {
		report.finish()
		return report, fatal("baseline commit", err)
	}

	report.finish()
	if err := e.baseline.AppendRun(ctx, report.runRecord()); err != nil {
		slog.Warn("run history write failed", "error", err)
	}

	slog.Info("sync done", "run", report.RunID, "status", report.Status, "summary", report.Summary())
	return report, nil
}

// Watch performs an initial sync, then re-syncs on filesystem events and
// on a periodic full-sync tick until the context is cancelled.
func (e *Engine) Watch(ctx context.Context) error {
	if !e.opened {
		return fatal("watch", errors.New("engine not open"))
	}

	matcher := NewIgnoreMatcher(e.profile.IgnoreRules(), e.profile.Alpha(), e.profile.Beta())

	watcher := NewRootWatcher(e.profile.Alpha(), e.profile.Beta())
	watcher.FilterPaths(func(abs string) bool {
		rel, ok := e.relFor(abs)
		if !ok {
			return true
		}
		return matcher.ShouldIgnore(rel)
	})
	if err := watcher.Start(ctx); err != nil {
		return fatal("watcher", err)
	}
	defer watcher.Stop()

	e.watcher = watcher
	defer func() { e.watcher = nil }()

	e.syncAndLog(ctx)

	ticker := time.NewTicker(fullSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			// a multi-file save lands as several events; let the burst
			// settle and drain it before syncing once
			timer := time.NewTimer(watchSettleDelay)
		drain:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case _, ok := <-watcher.Events():
					if !ok {
						break drain
					}
				case <-timer.C:
					break drain
				}
			}
			e.syncAndLog(ctx)
		case <-ticker.C:
			e.syncAndLog(ctx)
		}
	}
}

func (e *Engine) syncAndLog(ctx context.Context) {
	report, err := e.Sync(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
	case err != nil:
		slog.Error("sync failed", "error", err)
	case report.ExitCode() != 0:
		slog.Warn("sync finished with issues", "summary", report.Summary())
	}
}

// markOwnWrite keeps the engine's own writes from waking the watch loop.
func (e *Engine) markOwnWrite(abs string) {
	if w := e.watcher; w != nil {
		w.IgnoreOnce(abs)
	}
}

func (e *Engine) rootOf(side Side) string {
	if side == SideAlpha {
		return e.profile.Alpha()
	}
	return e.profile.Beta()
}

func (e *Engine) relFor(abs string) (string, bool) {
	for _, root := range []string{e.profile.Alpha(), e.profile.Beta()} {
		if rel, err := utils.NormalizeRel(root, abs); err == nil {
			return rel, true
		}
	}
	return "", false
}

// bigDeleteTripped guards against a missing mount looking like a mass
// delete. It trips when a run would remove everything a root currently
// holds, or more than half of a root that has at least
// bigDeleteMinBaseline baseline entries.
func (e *Engine) bigDeleteTripped(plan *Plan, alphaSnap, betaSnap *Snapshot, baseAlpha, baseBeta map[string]*Entry) (Side, int, bool) {
	if !e.profile.ConfirmBigDel {
		return "", 0, false
	}
	for _, side := range []Side{SideAlpha, SideBeta} {
		deletes := plan.DeleteCount(side)
		if deletes == 0 {
			continue
		}
		current := len(alphaSnap.Entries)
		baseCount := len(baseAlpha)
		if side == SideBeta {
			current = len(betaSnap.Entries)
			baseCount = len(baseBeta)
		}
		if (current > 0 && deletes >= current) || (baseCount >= bigDeleteMinBaseline && deletes*2 > baseCount) {
			return side, deletes, true
		}
	}
	return "", 0, false
}

// filterIgnored hides baseline rows under currently ignored paths so a
// newly added ignore pattern never turns into a phantom delete.
func filterIgnored(baseline map[string]*Entry, matcher *IgnoreMatcher) map[string]*Entry {
	visible := make(map[string]*Entry, len(baseline))
	for path, entry := range baseline {
		if matcher.ShouldIgnore(path) {
			continue
		}
		visible[path] = entry
	}
	return visible
}

// nextBaseline folds the plan and execution results into the new
// per-side states. Paths the run did not settle keep their old rows, so
// a failed or deferred action is re-planned next run instead of being
// forgotten.
func nextBaseline(plan *Plan, results []*ActionResult, oldAlpha, oldBeta map[string]*Entry) (map[string]*Entry, map[string]*Entry) {
	nextAlpha := make(map[string]*Entry, len(plan.InSync)+len(results))
	nextBeta := make(map[string]*Entry, len(plan.InSync)+len(results))
	settled := make(map[string]bool, len(plan.InSync)+len(results)+len(plan.Cleanups))

	for path, pair := range plan.InSync {
		settled[path] = true
		if pair.Alpha != nil {
			nextAlpha[path] = pair.Alpha
		}
		if pair.Beta != nil {
			nextBeta[path] = pair.Beta
		}
	}
	for _, path := range plan.Cleanups {
		settled[path] = true
	}
	for _, res := range results {
		if !res.OK() {
			continue
		}
		settled[res.Action.Path] = true
		if res.Alpha != nil {
			nextAlpha[res.Action.Path] = res.Alpha
		}
		if res.Beta != nil {
			nextBeta[res.Action.Path] = res.Beta
		}
	}
	for path, entry := range oldAlpha {
		if !settled[path] {
			nextAlpha[path] = entry
		}
	}
	for path, entry := range oldBeta {
		if !settled[path] {
			nextBeta[path] = entry
		}
	}
	return nextAlpha, nextBeta
}
