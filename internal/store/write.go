package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Candidate maps column names to values for a write. Keys that are not live
// columns of the target table are dropped before any SQL is built.
type Candidate map[string]any

// Set stores value under every key, so whichever column variant exists receives it.
func (c Candidate) Set(value any, keys ...string) {
	for _, key := range keys {
		c[key] = value
	}
}

// Usable returns the sorted intersection of the candidate keys and cols.
func (c Candidate) Usable(cols ColumnSet) []string {
	out := make([]string, 0, len(c))
	for key := range c {
		if cols.Has(key) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Writer performs schema-tolerant single-statement writes.
type Writer struct {
	store  *Store
	schema *SchemaRegistry
}

func NewWriter(store *Store, schema *SchemaRegistry) *Writer {
	return &Writer{store: store, schema: schema}
}

// Insert writes one row using only the columns table has. It returns the new
// row id, or 0 when the table has no id column.
func (w *Writer) Insert(ctx context.Context, table string, candidate Candidate) (int64, error) {
	cols, err := w.schema.Columns(ctx, table)
	if err != nil {
		return 0, err
	}
	query, args, err := buildInsert(w.store.dialect, table, cols, candidate)
	if err != nil {
		return 0, err
	}

	if w.store.dialect.ReturningID() && cols.Has("id") {
		var id int64
		query = w.store.dialect.Rebind(query + " RETURNING " + w.store.dialect.Quote("id"))
		err := w.store.withRetry(ctx, "insert", func() error {
			return w.store.db.QueryRowContext(ctx, query, args...).Scan(&id)
		})
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		return id, nil
	}

	result, err := w.store.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	if !cols.Has("id") {
		return 0, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: read id: %w", table, err)
	}
	return id, nil
}

// Update rewrites the usable columns of the row with the given id. The id column
// itself is never part of the SET list.
func (w *Writer) Update(ctx context.Context, table string, id int64, candidate Candidate) (bool, error) {
	cols, err := w.schema.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	query, args, err := buildUpdate(w.store.dialect, table, cols, id, candidate)
	if err != nil {
		return false, err
	}
	result, err := w.store.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update %s: rows affected: %w", table, err)
	}
	return affected > 0, nil
}

// Delete removes the row with the given id.
func (w *Writer) Delete(ctx context.Context, table string, id int64) (bool, error) {
	cols, err := w.schema.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	if len(cols) == 0 {
		return false, fmt.Errorf("delete %s: %w", table, ErrTableNotFound)
	}
	if !cols.Has("id") {
		return false, fmt.Errorf("delete %s: id: %w", table, ErrNoCompatibleColumns)
	}
	d := w.store.dialect
	result, err := w.store.Exec(ctx, "DELETE FROM "+d.Quote(table)+" WHERE "+d.Quote("id")+" = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: rows affected: %w", table, err)
	}
	return affected > 0, nil
}

func buildInsert(d Dialect, table string, cols ColumnSet, candidate Candidate) (string, []any, error) {
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("insert %s: %w", table, ErrTableNotFound)
	}
	usable := candidate.Usable(cols)
	if len(usable) == 0 {
		return "", nil, fmt.Errorf("insert %s: %w", table, ErrNoCompatibleColumns)
	}
	quoted := make([]string, len(usable))
	marks := make([]string, len(usable))
	args := make([]any, len(usable))
	for i, col := range usable {
		quoted[i] = d.Quote(col)
		marks[i] = "?"
		args[i] = bindValue(d, candidate[col])
	}
	query := "INSERT INTO " + d.Quote(table) + " (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	return query, args, nil
}

func buildUpdate(d Dialect, table string, cols ColumnSet, id int64, candidate Candidate) (string, []any, error) {
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("update %s: %w", table, ErrTableNotFound)
	}
	if !cols.Has("id") {
		return "", nil, fmt.Errorf("update %s: id: %w", table, ErrNoCompatibleColumns)
	}
	usable := candidate.Usable(cols)
	sets := make([]string, 0, len(usable))
	args := make([]any, 0, len(usable)+1)
	for _, col := range usable {
		if col == "id" {
			continue
		}
		sets = append(sets, d.Quote(col)+" = ?")
		args = append(args, bindValue(d, candidate[col]))
	}
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("update %s: %w", table, ErrNoCompatibleColumns)
	}
	args = append(args, id)
	query := "UPDATE " + d.Quote(table) + " SET " + strings.Join(sets, ", ") + " WHERE " + d.Quote("id") + " = ?"
	return query, args, nil
}

func bindValue(d Dialect, value any) any {
	switch v := value.(type) {
	case time.Time:
		return d.TimeValue(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return d.TimeValue(*v)
	default:
		return value
	}
}
