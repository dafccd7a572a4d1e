package store_test

import (
	"context"
	"sync"
	"testing"

	"caseload/api/internal/store"
	"caseload/api/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnsReflectsLiveSchema(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	registry := store.NewSchemaRegistry(s)

	cols, err := registry.Columns(ctx, "discharge_reports")
	require.NoError(t, err)
	assert.Empty(t, cols, "missing table yields an empty set")

	testutil.MustExec(t, s, `CREATE TABLE discharge_reports (id INTEGER PRIMARY KEY, student_id INTEGER, Reason_for_discharge TEXT)`)
	cols, err = registry.Columns(ctx, "discharge_reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"Reason_for_discharge", "id", "student_id"}, cols.Sorted())

	testutil.MustExec(t, s, `ALTER TABLE discharge_reports ADD COLUMN discharge_reason TEXT`)
	cols, err = registry.Columns(ctx, "discharge_reports")
	require.NoError(t, err)
	assert.True(t, cols.Has("discharge_reason"), "columns are never cached")

	cols, err = registry.Columns(ctx, "students; DROP TABLE x")
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestWriterInsertDropsUnknownColumns(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.MustExec(t, s, `CREATE TABLE goals (id INTEGER PRIMARY KEY AUTOINCREMENT, student_id INTEGER, description TEXT)`)
	registry := store.NewSchemaRegistry(s)
	writer := store.NewWriter(s, registry)

	id, err := writer.Insert(ctx, "goals", store.Candidate{
		"student_id":   int64(4),
		"description":  "Produce /s/ in initial position",
		"goal_area":    "articulation",
		"not a column": "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rows, err := s.Query(ctx, `SELECT * FROM goals`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Produce /s/ in initial position", rows[0]["description"])
	assert.Len(t, rows[0], 3)
}

func TestWriterFailuresWriteNothing(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.MustExec(t, s, `CREATE TABLE goals (id INTEGER PRIMARY KEY AUTOINCREMENT, student_id INTEGER)`)
	writer := store.NewWriter(s, store.NewSchemaRegistry(s))

	_, err := writer.Insert(ctx, "goals", store.Candidate{"description": "x"})
	assert.ErrorIs(t, err, store.ErrNoCompatibleColumns)

	_, err = writer.Insert(ctx, "missing_table", store.Candidate{"student_id": 1})
	assert.ErrorIs(t, err, store.ErrTableNotFound)

	count, err := s.Count(ctx, `SELECT COUNT(*) FROM goals`)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWriterUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.MustExec(t, s, `CREATE TABLE goals (id INTEGER PRIMARY KEY AUTOINCREMENT, student_id INTEGER, description TEXT)`)
	writer := store.NewWriter(s, store.NewSchemaRegistry(s))

	id, err := writer.Insert(ctx, "goals", store.Candidate{"student_id": 1, "description": "old"})
	require.NoError(t, err)

	ok, err := writer.Update(ctx, "goals", id, store.Candidate{"description": "new", "status": "met"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = writer.Update(ctx, "goals", id+100, store.Candidate{"description": "none"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = writer.Update(ctx, "goals", id, store.Candidate{"status": "met"})
	assert.ErrorIs(t, err, store.ErrNoCompatibleColumns)

	rows, err := s.Query(ctx, `SELECT description FROM goals WHERE id = ?`, id)
	require.NoError(t, err)
	assert.Equal(t, "new", rows[0]["description"])

	ok, err = writer.Delete(ctx, "goals", id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = writer.Delete(ctx, "nope", id)
	assert.ErrorIs(t, err, store.ErrTableNotFound)
}

func TestWriterConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.MustExec(t, s, `CREATE TABLE progress_skills (id INTEGER PRIMARY KEY AUTOINCREMENT, student_id INTEGER, skill_name TEXT)`)
	writer := store.NewWriter(s, store.NewSchemaRegistry(s))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := writer.Insert(ctx, "progress_skills", store.Candidate{"student_id": 1, "skill_name": "turn taking"}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent insert: %v", err)
	}

	count, err := s.Count(ctx, `SELECT COUNT(*) FROM progress_skills`)
	require.NoError(t, err)
	assert.Equal(t, int64(40), count)
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)

	require.NoError(t, store.ApplyMigrations(ctx, s))
	require.NoError(t, store.ApplyMigrations(ctx, s))

	count, err := s.Count(ctx, `SELECT COUNT(*) FROM schema_migrations`)
	require.NoError(t, err)
	files, err := store.MigrationFiles(store.SQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(len(files)), count)

	registry := store.NewSchemaRegistry(s)
	for _, table := range []string{"users", "students", "goals", "initial_evaluations", "session_reports",
		"discharge_reports", "other_documents", "progress_skills", store.CatchAllTable, store.ActivityLogTable} {
		ok, err := registry.Exists(ctx, table)
		require.NoError(t, err)
		assert.True(t, ok, "table %s", table)
	}
}

func TestBootstrapCreatesCatchAllOnly(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	require.NoError(t, store.Bootstrap(ctx, s))
	require.NoError(t, store.Bootstrap(ctx, s))

	registry := store.NewSchemaRegistry(s)
	cols, err := registry.Columns(ctx, store.CatchAllTable)
	require.NoError(t, err)
	assert.True(t, cols.HasAny("form_data"))
	assert.True(t, cols.Has("form_type"))

	ok, err := registry.Exists(ctx, "students")
	require.NoError(t, err)
	assert.False(t, ok)
}
