package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect hides the differences between the embedded SQLite store and Postgres.
// Queries inside this module are written with `?` placeholders and rebound.
type Dialect interface {
	Name() string
	DriverName() string
	Rebind(query string) string
	Quote(ident string) string
	ColumnsQuery(table string) (string, []any)
	TimeValue(t time.Time) any
	ReturningID() bool
	MigrationsTableDDL() string
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", name)
	}
}

var (
	SQLite   Dialect = sqliteDialect{}
	Postgres Dialect = postgresDialect{}
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return "sqlite" }
func (sqliteDialect) DriverName() string         { return "sqlite" }
func (sqliteDialect) Rebind(query string) string { return query }
func (sqliteDialect) Quote(ident string) string  { return quoteIdent(ident) }
func (sqliteDialect) ReturningID() bool          { return false }

func (sqliteDialect) ColumnsQuery(table string) (string, []any) {
	return "PRAGMA table_info(" + quoteIdent(table) + ")", nil
}

// TimeValue stores SQLite timestamps in the same text form CURRENT_TIMESTAMP produces,
// so lexical ordering matches chronological ordering.
func (sqliteDialect) TimeValue(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

func (sqliteDialect) MigrationsTableDDL() string {
	return `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
}

type postgresDialect struct{}

func (postgresDialect) Name() string              { return "postgres" }
func (postgresDialect) DriverName() string        { return "pgx" }
func (postgresDialect) Quote(ident string) string { return quoteIdent(ident) }
func (postgresDialect) ReturningID() bool         { return true }

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func (postgresDialect) ColumnsQuery(table string) (string, []any) {
	return `
		SELECT column_name AS name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ?
		ORDER BY ordinal_position
	`, []any{table}
}

func (postgresDialect) TimeValue(t time.Time) any {
	return t.UTC()
}

func (postgresDialect) MigrationsTableDDL() string {
	return `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
