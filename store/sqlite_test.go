package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	steward "github.com/goliatone/go-steward"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteUpsertRunningThenTerminalTransitionsInPlace(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	ctx := context.Background()

	running, err := s.Upsert(ctx, runningRecord("s-1"))
	require.NoError(t, err)
	require.NotZero(t, running.ID)

	final, err := s.Upsert(ctx, terminalRecord("s-1", steward.StatusComplete))
	require.NoError(t, err)
	assert.Equal(t, running.ID, final.ID, "terminal upsert must transition the running row")
	assert.Equal(t, steward.StatusComplete, final.Status)
	require.NotNil(t, final.CompletedAt)

	all, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteUpsertRejectsSecondRunningRecord(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	ctx := context.Background()

	_, err := s.Upsert(ctx, runningRecord("s-1"))
	require.NoError(t, err)

	_, err = s.Upsert(ctx, runningRecord("s-1"))
	require.Error(t, err)
	assert.Equal(t, steward.ErrCodeRecordConflict, steward.ErrorCode(err))
}

func TestSQLiteUpsertTerminalTwiceIsIdempotent(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	ctx := context.Background()

	_, err := s.Upsert(ctx, runningRecord("s-1"))
	require.NoError(t, err)

	payload := terminalRecord("s-1", steward.StatusPartial)
	first, err := s.Upsert(ctx, payload)
	require.NoError(t, err)

	second, err := s.Upsert(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1, "repeated identical finalization must not add rows")
}

func TestSQLiteUpsertTerminalWithoutRunningFallsBackToInsert(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	ctx := context.Background()

	final, err := s.Upsert(ctx, terminalRecord("s-9", steward.StatusFailed))
	require.NoError(t, err)
	assert.NotZero(t, final.ID)
	assert.Equal(t, steward.StatusFailed, final.Status)
}

func TestSQLiteResupervisionProducesNewRecord(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	ctx := context.Background()

	_, err := s.Upsert(ctx, runningRecord("s-1"))
	require.NoError(t, err)
	first, err := s.Upsert(ctx, terminalRecord("s-1", steward.StatusCollapsed))
	require.NoError(t, err)

	second, err := s.Upsert(ctx, runningRecord("s-1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	latest, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, steward.StatusRunning, latest.Status)

	all, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteListNewestFirstHonorsLimit(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Upsert(ctx, terminalRecord(id, steward.StatusComplete))
		require.NoError(t, err)
	}

	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].SagaID)
	assert.Equal(t, "b", got[1].SagaID)
}

func TestSQLiteRecordRoundTripsDecisionsAndTimestamps(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	ctx := context.Background()

	decidedAt := time.Now().UTC()
	rec := terminalRecord("s-rt", steward.StatusComplete)
	rec.Decisions = []steward.DecisionEntry{
		{Decision: steward.DecisionRetryCollapsed, Reasoning: "first review", Timestamp: decidedAt},
		{Decision: steward.DecisionSkipAndUnblock, Reasoning: "second review", Timestamp: decidedAt.Add(time.Minute)},
	}
	stored, err := s.Upsert(ctx, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, "s-rt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, rec.DurationMs, got.DurationMs)
	assert.True(t, got.StartedAt.Equal(rec.StartedAt))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(*rec.CompletedAt))

	require.Len(t, got.Decisions, 2)
	for i, entry := range got.Decisions {
		assert.Equal(t, rec.Decisions[i].Decision, entry.Decision)
		assert.Equal(t, rec.Decisions[i].Reasoning, entry.Reasoning)
		assert.True(t, entry.Timestamp.Equal(rec.Decisions[i].Timestamp))
	}
}

func TestSQLiteGetUnknownSagaReturnsNil(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteUpsertRequiresSagaID(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t), "")
	_, err := s.Upsert(context.Background(), steward.SagaOversightRecord{Status: steward.StatusRunning})
	require.Error(t, err)
	assert.Equal(t, steward.ErrCodeMissingSagaID, steward.ErrorCode(err))
}
