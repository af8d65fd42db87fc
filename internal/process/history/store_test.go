package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/db"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	writer, err := db.OpenSQLite(path)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(path)
	require.NoError(t, err)
	pool := db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"))
	t.Cleanup(func() { _ = pool.Close() })

	store, cleanup, err := Provide(pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })
	return store
}

func intPtr(v int) *int { return &v }

func terminalRecord(id string, start time.Time) process.ProcessRecord {
	end := start.Add(time.Second)
	user := "alice"
	return process.ProcessRecord{
		ID:        id,
		Command:   "echo",
		Args:      []string{"hello"},
		Cwd:       "/tmp",
		User:      &user,
		PID:       intPtr(4242),
		Status:    process.StatusCompleted,
		StartTime: start,
		EndTime:   &end,
		ExitCode:  intPtr(0),
	}
}

func TestAppendAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	output := []process.OutputChunk{
		{Stream: process.StreamStdout, Data: "hello\n", Timestamp: start},
		{Stream: process.StreamStderr, Data: "warn\n", Timestamp: start.Add(time.Millisecond)},
	}
	require.NoError(t, store.Append(ctx, terminalRecord("p1", start), output))

	rec, out, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "echo", rec.Command)
	assert.Equal(t, []string{"hello"}, rec.Args)
	require.NotNil(t, rec.User)
	assert.Equal(t, "alice", *rec.User)
	require.NotNil(t, rec.PID)
	assert.Equal(t, 4242, *rec.PID)
	assert.Equal(t, process.StatusCompleted, rec.Status)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)
	assert.True(t, start.Equal(rec.StartTime))
	require.NotNil(t, rec.EndTime)

	require.Len(t, out, 2)
	assert.Equal(t, "hello\n", out[0].Data)
	assert.Equal(t, process.StreamStderr, out[1].Stream)
}

func TestGetUnknownIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAppendRejectsLiveRecord(t *testing.T) {
	store := newTestStore(t)
	rec := terminalRecord("p1", time.Now().UTC())
	rec.Status = process.StatusRunning
	err := store.Append(context.Background(), rec, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestAppendSpawnFailureWithNulls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	rec := process.ProcessRecord{
		ID:        "p2",
		Command:   "does-not-exist",
		Status:    process.StatusFailed,
		StartTime: now,
		EndTime:   &now,
		Error:     "executable file not found",
	}
	require.NoError(t, store.Append(ctx, rec, nil))

	got, out, err := store.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Nil(t, got.PID)
	assert.Nil(t, got.ExitCode)
	assert.Nil(t, got.User)
	assert.Equal(t, []string{}, got.Args)
	assert.Equal(t, "executable file not found", got.Error)
	assert.Empty(t, out)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, terminalRecord(id, base.Add(time.Duration(i)*time.Minute)), nil))
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "c", limited[0].ID)
	assert.Equal(t, "b", limited[1].ID)
}

func TestHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	open := func() (*Store, *db.Pool) {
		writer, err := db.OpenSQLite(path)
		require.NoError(t, err)
		reader, err := db.OpenSQLiteReader(path)
		require.NoError(t, err)
		pool := db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"))
		store, err := NewStore(pool.Writer(), pool.Reader())
		require.NoError(t, err)
		return store, pool
	}

	store, pool := open()
	require.NoError(t, store.Append(context.Background(), terminalRecord("p1", time.Now().UTC()), nil))
	require.NoError(t, pool.Close())

	store, pool = open()
	t.Cleanup(func() { _ = pool.Close() })
	rec, _, err := store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID)
}
