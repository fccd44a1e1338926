package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCounters(t *testing.T) {
	r := newReport("test", "/a", "/b", false)

	r.addResult(&ActionResult{
		Action: &Action{Op: OpCopyToBeta, Path: "a.txt", Reason: "created on alpha"},
		Bytes:  100,
	})
	r.addResult(&ActionResult{
		Action: &Action{Op: OpDeleteBeta, Path: "b.txt", Reason: "deleted on alpha"},
	})
	r.addResult(&ActionResult{
		Action:  &Action{Op: OpCopyToAlpha, Path: "c.txt"},
		Skipped: true,
	})
	r.addResult(&ActionResult{
		Action: &Action{Op: OpCopyToBeta, Path: "d.txt"},
		Err:    errors.New("device busy"),
	})

	assert.Equal(t, 1, r.Copied)
	assert.Equal(t, 1, r.Deleted)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Errors)
	assert.Equal(t, int64(100), r.BytesCopied)
	assert.Len(t, r.Actions, 4)
	assert.Equal(t, "device busy", r.Actions[3].Error)
}

func TestReportStatus(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *Report)
		status   string
		exitCode int
	}{
		{
			name:     "clean",
			mutate:   func(r *Report) { r.Copied = 3 },
			status:   StatusClean,
			exitCode: 0,
		},
		{
			name: "conflicts",
			mutate: func(r *Report) {
				r.Conflicts = append(r.Conflicts, &Conflict{Path: "x"})
			},
			status:   StatusConflicts,
			exitCode: 2,
		},
		{
			name:     "failed",
			mutate:   func(r *Report) { r.Errors = 1 },
			status:   StatusFailed,
			exitCode: 2,
		},
		{
			name: "failed beats conflicts",
			mutate: func(r *Report) {
				r.Errors = 1
				r.Conflicts = append(r.Conflicts, &Conflict{Path: "x"})
			},
			status:   StatusFailed,
			exitCode: 2,
		},
		{
			name:     "aborted sticks",
			mutate:   func(r *Report) { r.Status = StatusAborted },
			status:   StatusAborted,
			exitCode: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReport("test", "/a", "/b", false)
			tt.mutate(r)
			r.finish()
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.exitCode, r.ExitCode())
			assert.False(t, r.FinishedAt.IsZero())
		})
	}
}

func TestReportSummary(t *testing.T) {
	r := newReport("test", "/a", "/b", false)
	r.Copied = 3
	r.BytesCopied = 2048
	r.Deleted = 1
	r.Unchanged = 10
	r.FinishedAt = r.StartedAt.Add(1234 * time.Millisecond)

	s := r.Summary()
	assert.Contains(t, s, "3 copied")
	assert.Contains(t, s, "1 deleted")
	assert.Contains(t, s, "0 conflicts")
	assert.Contains(t, s, "10 unchanged")
	assert.Contains(t, s, "1.234s")
	assert.NotContains(t, s, "skipped")
	assert.NotContains(t, s, "errors")

	r.Skipped = 2
	r.Errors = 1
	s = r.Summary()
	assert.Contains(t, s, "2 skipped")
	assert.Contains(t, s, "1 errors")
}

func TestReportJSONRoundTrip(t *testing.T) {
	r := newReport("test", "/a", "/b", true)
	r.addResult(&ActionResult{
		Action: &Action{Op: OpCopyToBeta, Path: "x.txt", Reason: "created on alpha"},
		Bytes:  42,
	})
	r.finish()

	raw, err := r.JSON()
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, jsonUnmarshal(raw, &decoded))
	assert.Equal(t, r.RunID, decoded.RunID)
	assert.True(t, decoded.DryRun)
	assert.Equal(t, StatusClean, decoded.Status)
	require.Len(t, decoded.Actions, 1)
	assert.Equal(t, "x.txt", decoded.Actions[0].Path)
	assert.Equal(t, int64(42), decoded.Actions[0].Bytes)
}

func TestReportRunRecord(t *testing.T) {
	r := newReport("test", "/a", "/b", false)
	r.Copied = 2
	r.Deleted = 1
	r.Conflicts = append(r.Conflicts, &Conflict{Path: "x"})
	r.finish()

	rec := r.runRecord()
	assert.Equal(t, r.RunID, rec.ID)
	assert.Equal(t, 2, rec.Copied)
	assert.Equal(t, 1, rec.Deleted)
	assert.Equal(t, 1, rec.Conflicts)
	assert.Equal(t, StatusConflicts, rec.Status)
}
