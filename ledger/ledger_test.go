package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "data", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_RecordAndRecent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	runs := []Run{
		{ID: "a", Study: "PRJ1", StartedAt: base, FinishedAt: base.Add(time.Second), Status: StatusSucceeded, Annotated: 6, Copied: 6, Merged: 6},
		{ID: "b", Study: "PRJ2", StartedAt: base.Add(time.Minute), FinishedAt: base.Add(2 * time.Minute), Status: StatusFailed, Error: "boom"},
		{ID: "c", Study: "PRJ1", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + 1500*time.Millisecond), Status: StatusSucceeded, Skipped: 6},
	}
	for _, r := range runs {
		require.NoError(t, l.Record(ctx, r))
	}

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)
	assert.Equal(t, "boom", recent[1].Error)
	assert.Equal(t, 1500*time.Millisecond, recent[0].Duration())
	assert.True(t, runs[2].StartedAt.Equal(recent[0].StartedAt))

	forStudy, err := l.ForStudy(ctx, "PRJ1", 0)
	require.NoError(t, err)
	require.Len(t, forStudy, 2)
	assert.Equal(t, "c", forStudy[0].ID)
	assert.Equal(t, runs[0], forStudy[1])
}

func TestLedger_DuplicateID(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	run := Run{ID: "dup", Study: "PRJ", StartedAt: time.Now(), FinishedAt: time.Now(), Status: StatusSucceeded}

	require.NoError(t, l.Record(ctx, run))
	assert.Error(t, l.Record(ctx, run))
}

func TestLedger_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, Run{ID: "x", Study: "S", Status: StatusSucceeded}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	runs, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "S", runs[0].Study)
}

func TestLedger_Closed(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Record(context.Background(), Run{ID: "x"}), ErrClosed)
	_, err := l.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, l.Close())
}

func TestOpen_DriverFailure(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("driver unavailable")
	}

	_, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	assert.ErrorContains(t, err, "driver unavailable")
}
