package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caseload/api/internal/ownership"
	"caseload/api/internal/store"

	"go.uber.org/zap"
)

const DefaultCap = 10

// Type column spellings across log schema versions.
var typeColumns = []string{"activity_type", "type", "action"}

// Recorder appends events to the activity log and keeps it bounded per owner.
type Recorder struct {
	store  *store.Store
	schema *store.SchemaRegistry
	writer *store.Writer
	cap    int
	log    *zap.Logger
	now    func() time.Time
}

func NewRecorder(s *store.Store, schema *store.SchemaRegistry, writer *store.Writer, cap int, logger *zap.Logger) *Recorder {
	if cap <= 0 {
		cap = DefaultCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: s, schema: schema, writer: writer, cap: cap, log: logger, now: time.Now}
}

// Record appends one event and prunes the owner's log to the newest cap rows.
// Callers treat failures as non-fatal and discard the returned error.
func (r *Recorder) Record(ctx context.Context, p ownership.Principal, eventType string, studentID int64, description string, metadata map[string]any) error {
	err := r.record(ctx, p, eventType, studentID, description, metadata)
	if err != nil {
		r.log.Warn("activity not recorded",
			zap.String("type", eventType),
			zap.Int64("student_id", studentID),
			zap.Int64("user_id", p.UserID),
			zap.Error(err),
		)
	}
	return err
}

func (r *Recorder) record(ctx context.Context, p ownership.Principal, eventType string, studentID int64, description string, metadata map[string]any) error {
	candidate := store.Candidate{
		"description": description,
		"created_at":  r.now(),
	}
	candidate.Set(eventType, typeColumns...)
	if p.Valid() {
		candidate["user_id"] = p.UserID
	} else {
		candidate["user_id"] = nil
	}
	if studentID > 0 {
		candidate["student_id"] = studentID
	}
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
		candidate["metadata"] = string(encoded)
	}

	if _, err := r.writer.Insert(ctx, store.ActivityLogTable, candidate); err != nil {
		return err
	}
	return r.prune(ctx, p)
}

// prune keeps the newest cap rows visible to p (its own plus ownerless ones) in
// a single statement, so concurrent recorders cannot act on a stale ranking.
func (r *Recorder) prune(ctx context.Context, p ownership.Principal) error {
	cols, err := r.schema.Columns(ctx, store.ActivityLogTable)
	if err != nil {
		return err
	}
	if !cols.Has("id") {
		return nil
	}

	scope := store.Clause{}
	if cols.Has("user_id") {
		if p.Valid() {
			scope = store.Where(`("user_id" = ? OR "user_id" IS NULL)`, p.UserID)
		} else {
			scope = store.Where(`"user_id" IS NULL`)
		}
	}
	order := `"id" DESC`
	if cols.Has("created_at") {
		order = `"created_at" DESC, "id" DESC`
	}

	keep := `SELECT "id" FROM "activity_log"`
	if !scope.IsZero() {
		keep += ` WHERE ` + scope.SQL
	}
	keep += ` ORDER BY ` + order + ` LIMIT ?`

	where := store.Where(`"id" NOT IN (`+keep+`)`, append(append([]any{}, scope.Args...), r.cap)...)
	where = scope.And(where)

	if _, err := r.store.Exec(ctx, `DELETE FROM "activity_log" WHERE `+where.SQL, where.Args...); err != nil {
		return fmt.Errorf("prune activity log: %w", err)
	}
	return nil
}
