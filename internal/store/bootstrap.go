package store

import (
	"context"
	"fmt"
)

// Table names whose shape this package owns. Every other table may drift.
const (
	CatchAllTable    = "documents"
	ActivityLogTable = "activity_log"
)

var bootstrapDDL = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			student_id INTEGER NOT NULL,
			form_type TEXT NOT NULL,
			title TEXT,
			form_data TEXT,
			user_id INTEGER,
			therapist_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_student ON documents(student_id)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			activity_type TEXT NOT NULL,
			student_id INTEGER,
			description TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_owner_created ON activity_log(user_id, created_at)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			student_id BIGINT NOT NULL,
			form_type TEXT NOT NULL,
			title TEXT,
			form_data TEXT,
			user_id BIGINT,
			therapist_id BIGINT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_student ON documents(student_id)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT,
			activity_type TEXT NOT NULL,
			student_id BIGINT,
			description TEXT,
			metadata TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_owner_created ON activity_log(user_id, created_at)`,
	},
}

// Bootstrap creates the catch-all document table and the activity log if they
// are missing. It is idempotent and runs on every start.
func Bootstrap(ctx context.Context, s *Store) error {
	for _, stmt := range bootstrapDDL[s.dialect.Name()] {
		if _, err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return nil
}
