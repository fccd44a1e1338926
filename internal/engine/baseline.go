package engine

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tandemsync/tandem/internal/db"
	"github.com/tandemsync/tandem/internal/utils"
)

// runTimeFormat is fixed width, unlike RFC3339Nano, so the string sort
// in RecentRuns is chronological.
const runTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// baselineSchema holds the last-synced entry per (side, path) plus a
// short history of runs for the history command.
const baselineSchema = `
CREATE TABLE IF NOT EXISTS baseline (
    side        TEXT NOT NULL,
    path        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    size        INTEGER NOT NULL DEFAULT 0,
    mtime       TEXT NOT NULL,
    mode        INTEGER NOT NULL DEFAULT 0,
    digest      TEXT NOT NULL DEFAULT '',
    link_target TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (side, path)
);
CREATE INDEX IF NOT EXISTS idx_baseline_path ON baseline(path);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    copied      INTEGER NOT NULL DEFAULT 0,
    deleted     INTEGER NOT NULL DEFAULT 0,
    conflicts   INTEGER NOT NULL DEFAULT 0,
    errors      INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

type baselineRow struct {
	Side       string `db:"side"`
	Path       string `db:"path"`
	Kind       string `db:"kind"`
	Size       int64  `db:"size"`
	Mtime      string `db:"mtime"`
	Mode       uint32 `db:"mode"`
	Digest     string `db:"digest"`
	LinkTarget string `db:"link_target"`
}

type runRow struct {
	ID         string `db:"id"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
	Copied     int    `db:"copied"`
	Deleted    int    `db:"deleted"`
	Conflicts  int    `db:"conflicts"`
	Errors     int    `db:"errors"`
	Status     string `db:"status"`
}

// RunRecord summarizes one completed sync run.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Copied     int       `json:"copied"`
	Deleted    int       `json:"deleted"`
	Conflicts  int       `json:"conflicts"`
	Errors     int       `json:"errors"`
	Status     string    `json:"status"`
}

// BaselineStore persists what both sides looked like after the last
// successful reconciliation.
type BaselineStore struct {
	db *sqlx.DB
}

// OpenBaseline opens (creating if needed) the baseline database at path.
func OpenBaseline(path string) (*BaselineStore, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("failed to prepare baseline dir: %w", err)
	}
	sqldb, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline db: %w", err)
	}
	if _, err := sqldb.Exec(baselineSchema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to apply baseline schema: %w", err)
	}
	return &BaselineStore{db: sqldb}, nil
}

func (s *BaselineStore) Close() error {
	return s.db.Close()
}

// State loads the baseline entries for one side, keyed by relative path.
func (s *BaselineStore) State(ctx context.Context, side Side) (map[string]*Entry, error) {
	var rows []baselineRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT side, path, kind, size, mtime, mode, digest, link_target
		 FROM baseline WHERE side = ?`, string(side))
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline for %s: %w", side, err)
	}

	entries := make(map[string]*Entry, len(rows))
	for i := range rows {
		entry, err := rowToEntry(&rows[i])
		if err != nil {
			return nil, err
		}
		entries[entry.Path] = entry
	}
	return entries, nil
}

// Commit replaces the whole baseline with the given per-side states in a
// single transaction. Either every row lands or none do, so the two
// sides can never drift apart on disk.
func (s *BaselineStore) Commit(ctx context.Context, alpha, beta map[string]*Entry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin baseline commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM baseline`); err != nil {
		return fmt.Errorf("failed to clear baseline: %w", err)
	}

	insert := `INSERT INTO baseline (side, path, kind, size, mtime, mode, digest, link_target)
	           VALUES (:side, :path, :kind, :size, :mtime, :mode, :digest, :link_target)`
	for side, entries := range map[Side]map[string]*Entry{SideAlpha: alpha, SideBeta: beta} {
		for _, entry := range entries {
			if _, err := tx.NamedExecContext(ctx, insert, entryToRow(side, entry)); err != nil {
				return fmt.Errorf("failed to write baseline row %s:%s: %w", side, entry.Path, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit baseline: %w", err)
	}
	return nil
}

// AppendRun records a finished run in the history table.
func (s *BaselineStore) AppendRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, copied, deleted, conflicts, errors, status)
		 VALUES (:id, :started_at, :finished_at, :copied, :deleted, :conflicts, :errors, :status)`,
		runRow{
			ID:         run.ID,
			StartedAt:  run.StartedAt.UTC().Format(runTimeFormat),
			FinishedAt: run.FinishedAt.UTC().Format(runTimeFormat),
			Copied:     run.Copied,
			Deleted:    run.Deleted,
			Conflicts:  run.Conflicts,
			Errors:     run.Errors,
			Status:     run.Status,
		})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *BaselineStore) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, started_at, finished_at, copied, deleted, conflicts, errors, status
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}

	runs := make([]*RunRecord, 0, len(rows))
	for _, row := range rows {
		started, err := time.Parse(time.RFC3339Nano, row.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("bad started_at for run %s: %w", row.ID, err)
		}
		finished, err := time.Parse(time.RFC3339Nano, row.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("bad finished_at for run %s: %w", row.ID, err)
		}
		runs = append(runs, &RunRecord{
			ID:         row.ID,
			StartedAt:  started,
			FinishedAt: finished,
			Copied:     row.Copied,
			Deleted:    row.Deleted,
			Conflicts:  row.Conflicts,
			Errors:     row.Errors,
			Status:     row.Status,
		})
	}
	return runs, nil
}

func entryToRow(side Side, entry *Entry) baselineRow {
	return baselineRow{
		Side:       string(side),
		Path:       entry.Path,
		Kind:       string(entry.Kind),
		Size:       entry.Size,
		Mtime:      entry.ModTime.UTC().Format(time.RFC3339Nano),
		Mode:       uint32(entry.Mode),
		Digest:     entry.Digest,
		LinkTarget: entry.LinkTarget,
	}
}

func rowToEntry(row *baselineRow) (*Entry, error) {
	mtime, err := time.Parse(time.RFC3339Nano, row.Mtime)
	if err != nil {
		return nil, fmt.Errorf("bad mtime in baseline row %s: %w", row.Path, err)
	}
	return &Entry{
		Path:       row.Path,
		Kind:       EntryKind(row.Kind),
		Size:       row.Size,
		ModTime:    mtime,
		Mode:       fs.FileMode(row.Mode),
		Digest:     row.Digest,
		LinkTarget: row.LinkTarget,
	}, nil
}
