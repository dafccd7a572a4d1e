package activity_test

import (
	"context"
	"testing"

	"caseload/api/internal/activity"
	"caseload/api/internal/ownership"
	"caseload/api/internal/store"
	"caseload/api/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRecorder(t *testing.T, s *store.Store, logger *zap.Logger) *activity.Recorder {
	t.Helper()
	schema := store.NewSchemaRegistry(s)
	return activity.NewRecorder(s, schema, store.NewWriter(s, schema), activity.DefaultCap, logger)
}

func countRows(t *testing.T, s *store.Store, where string, args ...any) int64 {
	t.Helper()
	n, err := s.Count(context.Background(), `SELECT COUNT(*) FROM activity_log WHERE `+where, args...)
	require.NoError(t, err)
	return n
}

func TestRecordPrunesToCapPerOwner(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewMigratedStore(t)
	rec := newRecorder(t, s, nil)
	alice := ownership.Principal{UserID: 1}
	bob := ownership.Principal{UserID: 2}

	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(ctx, bob, "goal_created", 0, "bob goal", nil))
	}
	for i := 0; i < 25; i++ {
		require.NoError(t, rec.Record(ctx, alice, "goal_created", 5, "alice goal", map[string]any{"n": i}))
	}

	assert.Equal(t, int64(10), countRows(t, s, `user_id = ?`, alice.UserID))
	assert.Equal(t, int64(3), countRows(t, s, `user_id = ?`, bob.UserID), "other owners are untouched")
}

func TestRecordCountsOwnerlessRowsAgainstEveryCap(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewMigratedStore(t)
	rec := newRecorder(t, s, nil)
	alice := ownership.Principal{UserID: 1}

	for i := 0; i < 4; i++ {
		require.NoError(t, rec.Record(ctx, ownership.Principal{}, "student_created", 0, "system import", nil))
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, rec.Record(ctx, alice, "session_created", 3, "session", nil))
	}

	assert.Equal(t, int64(10), countRows(t, s, `user_id = ? OR user_id IS NULL`, alice.UserID))
	assert.Equal(t, int64(8), countRows(t, s, `user_id = ?`, alice.UserID))
	assert.Equal(t, int64(2), countRows(t, s, `user_id IS NULL`))
}

func TestRecordFailureIsReportedNotRaised(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	core, logs := observer.New(zapcore.WarnLevel)
	rec := newRecorder(t, s, zap.New(core))

	err := rec.Record(ctx, ownership.Principal{UserID: 1}, "goal_created", 1, "x", nil)
	require.ErrorIs(t, err, store.ErrTableNotFound)
	require.Equal(t, 1, logs.FilterMessage("activity not recorded").Len())
}

func TestRecordLegacyLogSchema(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.MustExec(t, s, `CREATE TABLE activity_log (id INTEGER PRIMARY KEY AUTOINCREMENT, type TEXT, student_id INTEGER, description TEXT, created_at DATETIME)`)
	rec := newRecorder(t, s, nil)

	for i := 0; i < 12; i++ {
		require.NoError(t, rec.Record(ctx, ownership.Principal{UserID: 1}, "add_goal", 2, "legacy", nil))
	}
	rows, err := s.Query(ctx, `SELECT type FROM activity_log`)
	require.NoError(t, err)
	require.Len(t, rows, 10, "without an owner column the whole log is capped")
	assert.Equal(t, "add_goal", rows[0]["type"])
}
