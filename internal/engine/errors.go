package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress means a run is already active on this engine.
	ErrSyncInProgress = errors.New("sync already running")
	// ErrBigDelete means the plan tripped the big-delete guard and was refused.
	ErrBigDelete = errors.New("plan deletes most of a root, refusing without confirmation")
	// ErrAborted means the user declined the plan at the confirmation prompt.
	ErrAborted = errors.New("sync aborted")
)

// ScanError records one unreadable entry. The path is skipped and the
// scan continues; scan errors accumulate on the snapshot and the report.
type ScanError struct {
	Root string
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %s: %v", e.Root, e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// FatalError aborts the whole run with the baseline untouched: unreachable
// roots, a held pair lock, an unusable baseline store. Everything else is
// accumulated into the report instead.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err aborts a run rather than riding the report.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
