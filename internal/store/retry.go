package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	retryInitialDelay = 25 * time.Millisecond
	retryMaxDelay     = 250 * time.Millisecond
)

// withRetry re-runs fn while the database reports lock contention, until the
// store's busy timeout elapses.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	deadline := time.Now().Add(s.busyTimeout)
	delay := retryInitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		if time.Now().Add(delay).After(deadline) {
			s.log.Warn("database busy, abandoning statement",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return fmt.Errorf("%s: %w: %w", op, ErrBusy, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

// IsBusy reports whether err is a transient lock conflict worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
