package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Row is one result row keyed by column name. Driver byte slices are
// converted to strings while scanning.
type Row = map[string]any

type Options struct {
	Driver      string
	URL         string
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

// Store wraps the shared database handle. It is safe for concurrent use.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	busyTimeout time.Duration
	log         *zap.Logger
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	dsn := opts.URL
	if dialect == SQLite {
		dsn = sqliteDSN(dsn, opts.BusyTimeout)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	if dialect == SQLite {
		db.SetMaxIdleConns(4)
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return New(db, dialect, opts.BusyTimeout, opts.Logger), nil
}

// New wraps an already opened handle.
func New(db *sql.DB, dialect Dialect, busyTimeout time.Duration, logger *zap.Logger) *Store {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, dialect: dialect, busyTimeout: busyTimeout, log: logger}
}

// sqliteDSN appends the pragmas every connection needs. The busy_timeout pragma
// handles lock waits inside the driver; withRetry covers what it gives up on.
func sqliteDSN(dsn string, busy time.Duration) string {
	if dsn == "" {
		dsn = "file:./data/caseload.db"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		dsn, sep, busy.Milliseconds())
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Logger() *zap.Logger {
	return s.log
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Exec runs one statement written with `?` placeholders.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = s.dialect.Rebind(query)
	var result sql.Result
	err := s.withRetry(ctx, "exec", func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// Query runs a read and returns every row as a map.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	query = s.dialect.Rebind(query)
	var out []Row
	err := s.withRetry(ctx, "query", func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanRows(rows)
		return err
	})
	return out, err
}

// Count runs a query returning a single integer.
func (s *Store) Count(ctx context.Context, query string, args ...any) (int64, error) {
	query = s.dialect.Rebind(query)
	var count int64
	err := s.withRetry(ctx, "count", func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	})
	return count, err
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[name] = string(raw)
				continue
			}
			row[name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
