package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name can be used as a table or column name.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// ColumnSet is the set of columns a table has right now.
type ColumnSet map[string]struct{}

func NewColumnSet(names ...string) ColumnSet {
	set := make(ColumnSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (c ColumnSet) Has(name string) bool {
	_, ok := c[name]
	return ok
}

func (c ColumnSet) HasAny(names ...string) bool {
	for _, name := range names {
		if c.Has(name) {
			return true
		}
	}
	return false
}

// First returns the first of names present in the set.
func (c ColumnSet) First(names ...string) (string, bool) {
	for _, name := range names {
		if c.Has(name) {
			return name, true
		}
	}
	return "", false
}

// Filter keeps names that exist, preserving order and dropping duplicates.
func (c ColumnSet) Filter(names ...string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup || !c.Has(name) {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (c ColumnSet) Sorted() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SchemaRegistry answers "which columns does this table have". Results are never
// cached: a migration may run between two calls.
type SchemaRegistry struct {
	store *Store
}

func NewSchemaRegistry(store *Store) *SchemaRegistry {
	return &SchemaRegistry{store: store}
}

// Columns returns the live column set of table. A missing table, or a name that
// is not a plain identifier, yields an empty set and no error.
func (r *SchemaRegistry) Columns(ctx context.Context, table string) (ColumnSet, error) {
	if !ValidIdent(table) {
		return ColumnSet{}, nil
	}
	query, args := r.store.dialect.ColumnsQuery(table)
	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	set := make(ColumnSet, len(rows))
	for _, row := range rows {
		if name, ok := row["name"].(string); ok && name != "" {
			set[name] = struct{}{}
		}
	}
	return set, nil
}

// Exists reports whether table has any columns.
func (r *SchemaRegistry) Exists(ctx context.Context, table string) (bool, error) {
	cols, err := r.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}
