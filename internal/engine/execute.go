package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/queue"
	"github.com/tandemsync/tandem/internal/utils"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Priority bands keep structural ordering: parent directories exist
// before the files inside them, and directories empty out before they
// are removed. Within a band, shallower copies and deeper deletes run
// first.
const (
	bandDirCreate  = 0
	bandFileWrite  = 1_000_000
	bandFileDelete = 2_000_000
	bandDirDelete  = 3_000_000
)

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	Action     *Action
	Skipped    bool
	Err        error
	Attempts   int
	Bytes      int64
	Duration   time.Duration
	BackupPath string
	MarkerPath string
	// Post-run entries for the baseline; nil means the path is absent
	// on that side.
	Alpha *Entry
	Beta  *Entry
}

func (r *ActionResult) OK() bool {
	return r.Err == nil && !r.Skipped
}

// Executor applies a plan to the two roots.
type Executor struct {
	profile   *config.Profile
	alphaRoot string
	betaRoot  string
	backups   *BackupStore
	onWrite   func(absPath string)
	now       func() time.Time
}

// NewExecutor builds an executor for the profile's roots. onWrite is
// invoked for every path the executor touches, before watchers can see
// the event; it may be nil.
func NewExecutor(profile *config.Profile, backups *BackupStore, onWrite func(string)) *Executor {
	return &Executor{
		profile:   profile,
		alphaRoot: profile.Alpha(),
		betaRoot:  profile.Beta(),
		backups:   backups,
		onWrite:   onWrite,
		now:       time.Now,
	}
}

func (e *Executor) rootFor(side Side) string {
	if side == SideAlpha {
		return e.alphaRoot
	}
	return e.betaRoot
}

func actionPriority(a *Action) int {
	depth := strings.Count(a.Path, "/")
	switch {
	case a.IsCopy() && a.Source.IsDir():
		return bandDirCreate + depth
	case a.IsDelete() && a.Target != nil && a.Target.IsDir():
		return bandDirDelete - depth
	case a.IsDelete():
		return bandFileDelete + depth
	default:
		return bandFileWrite + depth
	}
}

// Execute runs the plan in three phases: directory creations (shallow to
// deep, sequential), file and symlink work (parallel, bounded by
// max_threads), then directory removals (deep to shallow, sequential).
// Per-action failures land in the results; only the context stops the
// run early.
func (e *Executor) Execute(ctx context.Context, plan *Plan) []*ActionResult {
	pq := queue.NewPriorityQueue[*Action]()
	for _, a := range plan.Actions {
		pq.Enqueue(a, actionPriority(a))
	}
	ordered := pq.DequeueAll()

	var dirCreates, fileWork, dirDeletes []*Action
	for _, a := range ordered {
		switch {
		case a.IsCopy() && a.Source.IsDir():
			dirCreates = append(dirCreates, a)
		case a.IsDelete() && a.Target != nil && a.Target.IsDir():
			dirDeletes = append(dirDeletes, a)
		default:
			fileWork = append(fileWork, a)
		}
	}

	results := make([]*ActionResult, 0, len(ordered))
	for _, a := range dirCreates {
		results = append(results, e.runWithRetry(ctx, a))
	}

	limit := e.profile.MaxThreads
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	fileResults := make([]*ActionResult, len(fileWork))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, a := range fileWork {
		i, a := i, a
		g.Go(func() error {
			fileResults[i] = e.runWithRetry(gctx, a)
			return nil
		})
	}
	_ = g.Wait() // workers report through their results
	results = append(results, fileResults...)

	for _, a := range dirDeletes {
		results = append(results, e.runWithRetry(ctx, a))
	}

	return results
}

// runWithRetry retries transient failures with doubling backoff, up to
// the profile's retry count.
func (e *Executor) runWithRetry(ctx context.Context, a *Action) *ActionResult {
	res := &ActionResult{Action: a}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		res.Skipped = true
		res.Err = err
		return res
	}

	attempts := e.profile.Retry + 1
	delay := retryBaseDelay
	for i := 1; i <= attempts; i++ {
		res.Attempts = i
		res.Err = e.runOnce(ctx, a, res)
		if res.Err == nil {
			return res
		}
		if ctx.Err() != nil || !isTransient(res.Err) || i == attempts {
			break
		}
		slog.Warn("action retry", "op", a.Op, "path", a.Path, "attempt", i, "error", res.Err)
		select {
		case <-ctx.Done():
			return res
		case <-time.After(delay):
		}
		delay = min(delay*2, retryMaxDelay)
	}
	return res
}

// runOnce performs one attempt under the per-attempt io timeout.
func (e *Executor) runOnce(ctx context.Context, a *Action, res *ActionResult) error {
	if e.profile.IOTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.profile.IOTimeout)
		defer cancel()
	}

	abs := utils.DenormalizeRel(e.rootFor(a.Dest()), a.Path)
	switch {
	case a.IsDelete():
		return e.applyDelete(ctx, a, res, abs)
	case a.MetaOnly:
		return e.applyMeta(a, res, abs)
	default:
		return e.applyCopy(ctx, a, res, abs)
	}
}

func (e *Executor) applyDelete(ctx context.Context, a *Action, res *ActionResult, abs string) error {
	if a.Backup {
		backupPath, err := e.backups.Preserve(ctx, abs, a.Path)
		if err != nil {
			return fmt.Errorf("backup before delete failed: %w", err)
		}
		res.BackupPath = backupPath
	}
	if err := removePath(abs); err != nil {
		return err
	}
	e.notifyWrite(abs)
	return nil
}

func (e *Executor) applyCopy(ctx context.Context, a *Action, res *ActionResult, abs string) error {
	src := a.Source
	dest := a.Dest()

	if a.Marker {
		markerRel := conflictMarkerPath(a.Path, e.now())
		markerAbs := utils.DenormalizeRel(e.rootFor(dest), markerRel)
		err := os.Rename(abs, markerAbs)
		switch {
		case err == nil:
			res.MarkerPath = markerRel
			e.notifyWrite(markerAbs)
		case !os.IsNotExist(err):
			return fmt.Errorf("failed to set aside conflicting copy: %w", err)
		}
	}

	if a.Backup {
		backupPath, err := e.backups.Preserve(ctx, abs, a.Path)
		if err != nil {
			return fmt.Errorf("backup before copy failed: %w", err)
		}
		res.BackupPath = backupPath
	}

	// a dir replacing a file (or the reverse) clears the old entry first
	if info, err := os.Lstat(abs); err == nil && info.IsDir() != src.IsDir() {
		if err := os.RemoveAll(abs); err != nil {
			return fmt.Errorf("failed to replace %s: %w", a.Path, err)
		}
	}

	switch src.Kind {
	case KindDir:
		perm := fs.FileMode(0o755)
		if e.profile.Perms {
			perm = src.Mode.Perm()
		}
		if err := os.MkdirAll(abs, perm); err != nil {
			return err
		}
		if e.profile.Perms {
			// MkdirAll only applies perm on create
			if err := os.Chmod(abs, src.Mode.Perm()); err != nil {
				return err
			}
		}
	case KindSymlink:
		if err := utils.EnsureParent(abs); err != nil {
			return err
		}
		if err := atomicSymlink(src.LinkTarget, abs); err != nil {
			return err
		}
	case KindFile:
		if err := utils.EnsureParent(abs); err != nil {
			return err
		}
		srcAbs := utils.DenormalizeRel(e.rootFor(dest.Other()), a.Path)
		n, err := atomicWriteFile(ctx, srcAbs, abs, src.Digest, e.destFilePerm(a, abs))
		res.Bytes = n
		if err != nil {
			return err
		}
		if e.profile.Times {
			if err := os.Chtimes(abs, src.ModTime, src.ModTime); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported entry kind %q for %s", src.Kind, a.Path)
	}

	if e.profile.BackupCurrent && src.Kind == KindFile && !config.MatchAny(e.profile.BackupNotRules(), a.Path) {
		if _, err := e.backups.Preserve(ctx, abs, a.Path); err != nil {
			slog.Warn("backup of incoming copy failed", "path", a.Path, "error", err)
		}
	}

	e.notifyWrite(abs)
	return e.recordPostState(a, res, abs)
}

func (e *Executor) applyMeta(a *Action, res *ActionResult, abs string) error {
	src := a.Source
	if e.profile.Perms {
		if err := os.Chmod(abs, src.Mode.Perm()); err != nil {
			return err
		}
	}
	if e.profile.Times && src.Kind != KindSymlink {
		if err := os.Chtimes(abs, src.ModTime, src.ModTime); err != nil {
			return err
		}
	}
	e.notifyWrite(abs)
	return e.recordPostState(a, res, abs)
}

// recordPostState captures both sides' entries after a copy so the
// baseline can be updated without rescanning.
func (e *Executor) recordPostState(a *Action, res *ActionResult, abs string) error {
	info, err := os.Lstat(abs)
	if err != nil {
		return fmt.Errorf("post-copy stat failed: %w", err)
	}
	destEntry := &Entry{
		Path:    a.Path,
		Kind:    a.Source.Kind,
		ModTime: info.ModTime(),
		Mode:    info.Mode().Perm(),
	}
	switch a.Source.Kind {
	case KindFile:
		destEntry.Size = info.Size()
		destEntry.Digest = a.Source.Digest
	case KindSymlink:
		destEntry.LinkTarget = a.Source.LinkTarget
		destEntry.Digest = a.Source.Digest
	}

	if a.Dest() == SideAlpha {
		res.Alpha, res.Beta = destEntry, a.Source
	} else {
		res.Alpha, res.Beta = a.Source, destEntry
	}
	return nil
}

// destFilePerm picks the mode for a written file: the source mode when
// perms propagate, the existing target mode otherwise, and the profile's
// perm_mask for brand new files.
func (e *Executor) destFilePerm(a *Action, abs string) fs.FileMode {
	if e.profile.Perms {
		return a.Source.Mode.Perm()
	}
	if info, err := os.Lstat(abs); err == nil && info.Mode().IsRegular() {
		return info.Mode().Perm()
	}
	return e.profile.PermMask
}

func (e *Executor) notifyWrite(abs string) {
	if e.onWrite != nil {
		e.onWrite(abs)
	}
}

// isTransient reports whether an error is worth retrying: per-attempt
// timeouts, busy files, fd pressure, and not-yet-empty directories.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.EAGAIN, syscall.EBUSY, syscall.ENOTEMPTY,
		syscall.EMFILE, syscall.ENFILE, syscall.EINTR,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
