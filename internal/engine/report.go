package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	StatusClean     = "clean"
	StatusConflicts = "conflicts"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// ActionReport is the serializable outcome of one executed action.
type ActionReport struct {
	Op         Op     `json:"op"`
	Path       string `json:"path"`
	Reason     string `json:"reason"`
	Bytes      int64  `json:"bytes,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	BackupPath string `json:"backup_path,omitempty"`
	MarkerPath string `json:"marker_path,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report is the full record of one sync run.
type Report struct {
	RunID        string          `json:"run_id"`
	Profile      string          `json:"profile"`
	Alpha        string          `json:"alpha"`
	Beta         string          `json:"beta"`
	DryRun       bool            `json:"dry_run,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	AlphaScanned int             `json:"alpha_scanned"`
	BetaScanned  int             `json:"beta_scanned"`
	Unchanged    int             `json:"unchanged"`
	Copied       int             `json:"copied"`
	Deleted      int             `json:"deleted"`
	Skipped      int             `json:"skipped,omitempty"`
	BytesCopied  int64           `json:"bytes_copied"`
	Actions      []*ActionReport `json:"actions,omitempty"`
	Conflicts    []*Conflict     `json:"conflicts,omitempty"`
	ScanErrors   []string        `json:"scan_errors,omitempty"`
	Errors       int             `json:"errors"`
	Status       string          `json:"status"`
}

func newReport(profileName, alpha, beta string, dryRun bool) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Profile:   profileName,
		Alpha:     alpha,
		Beta:      beta,
		DryRun:    dryRun,
		StartedAt: time.Now(),
	}
}

func (r *Report) addResult(res *ActionResult) {
	ar := &ActionReport{
		Op:         res.Action.Op,
		Path:       res.Action.Path,
		Reason:     res.Action.Reason,
		Bytes:      res.Bytes,
		Attempts:   res.Attempts,
		DurationMS: res.Duration.Milliseconds(),
		BackupPath: res.BackupPath,
		MarkerPath: res.MarkerPath,
		Skipped:    res.Skipped,
	}
	if res.Err != nil {
		ar.Error = res.Err.Error()
	}
	r.Actions = append(r.Actions, ar)

	switch {
	case res.Skipped:
		r.Skipped++
	case res.Err != nil:
		r.Errors++
	case res.Action.IsDelete():
		r.Deleted++
	default:
		r.Copied++
		r.BytesCopied += res.Bytes
	}
}

// addPlanned records a dry run: the plan is listed but nothing executed.
func (r *Report) addPlanned(plan *Plan) {
	for _, a := range plan.Actions {
		r.Actions = append(r.Actions, &ActionReport{Op: a.Op, Path: a.Path, Reason: a.Reason})
		if a.IsDelete() {
			r.Deleted++
		} else {
			r.Copied++
		}
	}
}

func (r *Report) addScanErrors(errs []*ScanError) {
	for _, se := range errs {
		r.ScanErrors = append(r.ScanErrors, se.Error())
		r.Errors++
	}
}

// finish stamps the end time and derives the final status.
func (r *Report) finish() {
	r.FinishedAt = time.Now()
	switch {
	case r.Status == StatusAborted:
	case r.Errors > 0:
		r.Status = StatusFailed
	case len(r.Conflicts) > 0:
		r.Status = StatusConflicts
	default:
		r.Status = StatusClean
	}
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode maps the run outcome to the process exit code: 0 for a clean
// run, 2 when conflicts were found or any action failed.
func (r *Report) ExitCode() int {
	if r.Errors > 0 || len(r.Conflicts) > 0 {
		return 2
	}
	return 0
}

// Summary is the one-line human rendering of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d copied (%s), %d deleted, %d conflicts, %d unchanged",
		r.Copied, humanize.Bytes(uint64(r.BytesCopied)), r.Deleted, len(r.Conflicts), r.Unchanged)
	if r.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", r.Skipped)
	}
	if r.Errors > 0 {
		fmt.Fprintf(&b, ", %d errors", r.Errors)
	}
	fmt.Fprintf(&b, " in %s", r.Duration().Round(time.Millisecond))
	return b.String()
}

// JSON renders the report for --json output.
func (r *Report) JSON() ([]byte, error) {
	return jsonMarshalIndent(r, "", "  ")
}

// runRecord converts the report into its history row.
func (r *Report) runRecord() *RunRecord {
	return &RunRecord{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Copied:     r.Copied,
		Deleted:    r.Deleted,
		Conflicts:  len(r.Conflicts),
		Errors:     r.Errors,
		Status:     r.Status,
	}
}
