package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"caseload/api/internal/fields"
	"caseload/api/internal/ownership"
	"caseload/api/internal/store"

	"go.uber.org/zap"
)

// Source is a table whose row timestamps produce synthesized events.
type Source struct {
	Table   string
	Subject string
	// SubjectColumn, when set, holds a per-row subject (the catch-all form_type),
	// mapped through SubjectOf.
	SubjectColumn string
	SubjectOf     func(raw string) string
}

type student struct {
	name      string
	createdAt time.Time
}

// Reconciler merges synthesized and persisted events into one feed.
type Reconciler struct {
	store   *store.Store
	schema  *store.SchemaRegistry
	scoper  *ownership.Scoper
	sources []Source
	log     *zap.Logger
}

func NewReconciler(s *store.Store, schema *store.SchemaRegistry, scoper *ownership.Scoper, sources []Source, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: s, schema: schema, scoper: scoper, sources: sources, log: logger}
}

// RecentActivity returns at most limit events visible to p, newest first.
func (r *Reconciler) RecentActivity(ctx context.Context, p ownership.Principal, limit int) ([]Event, error) {
	limit = ClampLimit(limit)
	if !p.Valid() {
		return []Event{}, nil
	}

	students, err := r.visibleStudents(ctx, p)
	if err != nil {
		return nil, err
	}

	synthesized := make([]Event, 0, len(students))
	for id, st := range students {
		if st.createdAt.IsZero() {
			continue
		}
		synthesized = append(synthesized, r.synthesize(Type(SubjectStudent, VerbCreated), id, st.name, st.createdAt))
	}
	for _, src := range r.sources {
		events, err := r.synthesizeSource(ctx, p, src, students, limit)
		if err != nil {
			return nil, err
		}
		synthesized = append(synthesized, events...)
	}

	persisted, err := r.persisted(ctx, p, students, limit)
	if err != nil {
		return nil, err
	}

	return Merge(synthesized, persisted, limit), nil
}

func (r *Reconciler) synthesize(eventType string, studentID int64, name string, at time.Time) Event {
	title, description := Describe(eventType, name)
	return Event{
		Type:        eventType,
		StudentID:   studentID,
		StudentName: name,
		Title:       title,
		Description: description,
		CreatedAt:   at,
		Origin:      OriginSynthesized,
	}
}

func (r *Reconciler) visibleStudents(ctx context.Context, p ownership.Principal) (map[int64]student, error) {
	cols, err := r.schema.Columns(ctx, ownership.StudentsTable)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]student)
	if !cols.Has("id") {
		return out, nil
	}
	where := ownership.Filter(p, cols, r.scoper.Mode(), "").And(ownership.ActiveClause(cols))
	rows, err := r.store.Select(ctx, store.SelectQuery{
		Table:   ownership.StudentsTable,
		Columns: cols.Filter("id", "first_name", "last_name", "name", "student_name", "created_at"),
		Where:   where,
	})
	if err != nil {
		return nil, fmt.Errorf("load visible students: %w", err)
	}
	for _, row := range rows {
		id, ok := fields.Int64(row["id"])
		if !ok {
			continue
		}
		createdAt, _ := fields.Time(row["created_at"])
		out[id] = student{name: StudentName(row), createdAt: createdAt}
	}
	return out, nil
}

// StudentName builds a display name from whichever name columns a row has.
func StudentName(row map[string]any) string {
	first, _ := fields.PickString(row, "first_name", "firstname")
	last, _ := fields.PickString(row, "last_name", "lastname")
	if name := strings.TrimSpace(first + " " + last); name != "" {
		return name
	}
	name, _ := fields.PickString(row, "name", "student_name", "full_name")
	return strings.TrimSpace(name)
}

func (r *Reconciler) synthesizeSource(ctx context.Context, p ownership.Principal, src Source, students map[int64]student, limit int) ([]Event, error) {
	cols, err := r.schema.Columns(ctx, src.Table)
	if err != nil {
		return nil, err
	}
	if !cols.Has("student_id") || !cols.Has("created_at") {
		r.log.Debug("activity source skipped",
			zap.String("table", src.Table),
			zap.Bool("table_exists", len(cols) > 0),
		)
		return nil, nil
	}
	scope, err := r.scoper.StudentSubquery(ctx, p, false)
	if err != nil {
		return nil, err
	}
	selected := cols.Filter("id", "student_id", "created_at", "updated_at", src.SubjectColumn)

	var out []Event
	emit := func(rows []store.Row, verb, column string) {
		for _, row := range rows {
			studentID, ok := fields.Int64(row["student_id"])
			if !ok {
				continue
			}
			st, visible := students[studentID]
			if !visible {
				continue
			}
			at, ok := fields.Time(row[column])
			if !ok {
				continue
			}
			subject := src.Subject
			if src.SubjectColumn != "" && src.SubjectOf != nil {
				subject = src.SubjectOf(fields.String(row[src.SubjectColumn]))
			}
			out = append(out, r.synthesize(Type(subject, verb), studentID, st.name, at))
		}
	}

	created, err := r.store.Select(ctx, store.SelectQuery{
		Table:   src.Table,
		Columns: selected,
		Where:   scope,
		OrderBy: orderBy(cols, "created_at"),
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	emit(created, VerbCreated, "created_at")

	if cols.Has("updated_at") {
		updated, err := r.store.Select(ctx, store.SelectQuery{
			Table:   src.Table,
			Columns: selected,
			Where:   scope.And(store.Where(`"updated_at" > "created_at"`)),
			OrderBy: orderBy(cols, "updated_at"),
			Limit:   limit,
		})
		if err != nil {
			return nil, err
		}
		emit(updated, VerbUpdated, "updated_at")
	}
	return out, nil
}

func orderBy(cols store.ColumnSet, column string) []store.Order {
	order := []store.Order{{Column: column, Desc: true}}
	if cols.Has("id") {
		order = append(order, store.Order{Column: "id", Desc: true})
	}
	return order
}

func (r *Reconciler) persisted(ctx context.Context, p ownership.Principal, students map[int64]student, limit int) ([]Event, error) {
	cols, err := r.schema.Columns(ctx, store.ActivityLogTable)
	if err != nil {
		return nil, err
	}
	typeColumn, ok := cols.First(typeColumns...)
	if !ok || !cols.Has("created_at") {
		r.log.Debug("activity log unreadable, using synthesized events only",
			zap.Bool("table_exists", len(cols) > 0),
		)
		return nil, nil
	}

	where := store.Clause{}
	if cols.Has("user_id") {
		where = store.Where(`("user_id" = ? OR "user_id" IS NULL)`, p.UserID)
	}
	rows, err := r.store.Select(ctx, store.SelectQuery{
		Table:   store.ActivityLogTable,
		Columns: cols.Filter("id", typeColumn, "student_id", "description", "user_id", "created_at"),
		Where:   where,
		OrderBy: orderBy(cols, "created_at"),
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("load activity log: %w", err)
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		at, ok := fields.Time(row["created_at"])
		if !ok {
			continue
		}
		studentID, _ := fields.Int64(row["student_id"])
		name := ""
		if studentID > 0 {
			st, visible := students[studentID]
			if !visible {
				continue
			}
			name = st.name
		}
		eventType, _, _ := Canonicalize(fields.String(row[typeColumn]))
		if eventType == "" {
			continue
		}
		title, description := Describe(eventType, name)
		if stored := strings.TrimSpace(fields.String(row["description"])); stored != "" {
			description = stored
		}
		var owner *int64
		if id, ok := fields.Int64(row["user_id"]); ok {
			owner = &id
		}
		out = append(out, Event{
			Type:        eventType,
			StudentID:   studentID,
			StudentName: name,
			Title:       title,
			Description: description,
			CreatedAt:   at,
			OwnerID:     owner,
			Origin:      OriginPersisted,
		})
	}
	return out, nil
}
