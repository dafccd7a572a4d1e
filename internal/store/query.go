package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Clause is a SQL boolean fragment written with `?` placeholders plus its arguments.
type Clause struct {
	SQL  string
	Args []any
}

func Where(sql string, args ...any) Clause {
	return Clause{SQL: sql, Args: args}
}

// Deny matches no rows.
func Deny() Clause {
	return Clause{SQL: "1 = 0"}
}

func (c Clause) IsZero() bool {
	return strings.TrimSpace(c.SQL) == ""
}

// And joins two clauses; a zero clause is neutral.
func (c Clause) And(other Clause) Clause {
	switch {
	case c.IsZero():
		return other
	case other.IsZero():
		return c
	}
	args := make([]any, 0, len(c.Args)+len(other.Args))
	args = append(args, c.Args...)
	args = append(args, other.Args...)
	return Clause{SQL: "(" + c.SQL + ") AND (" + other.SQL + ")", Args: args}
}

type Order struct {
	Column string
	Desc   bool
}

type SelectQuery struct {
	Table   string
	Columns []string
	Where   Clause
	OrderBy []Order
	Limit   int
}

// Select reads rows from a table. Columns and order keys must come from a
// ColumnSet; they are quoted, never validated against the catalog here.
func (s *Store) Select(ctx context.Context, q SelectQuery) ([]Row, error) {
	query, args, err := buildSelect(s.dialect, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	return rows, nil
}

func buildSelect(d Dialect, q SelectQuery) (string, []any, error) {
	if !ValidIdent(q.Table) {
		return "", nil, fmt.Errorf("select %q: %w", q.Table, ErrTableNotFound)
	}
	if len(q.Columns) == 0 {
		return "", nil, fmt.Errorf("select %s: %w", q.Table, ErrNoCompatibleColumns)
	}
	quoted := make([]string, len(q.Columns))
	for i, col := range q.Columns {
		quoted[i] = d.Quote(col)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(" FROM ")
	b.WriteString(d.Quote(q.Table))
	if !q.Where.IsZero() {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where.SQL)
	}
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			parts[i] = d.Quote(o.Column)
			if o.Desc {
				parts[i] += " DESC"
			}
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return b.String(), q.Where.Args, nil
}
