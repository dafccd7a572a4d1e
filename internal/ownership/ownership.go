package ownership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"caseload/api/internal/store"
)

const StudentsTable = "students"

// Ownership columns in precedence order.
const (
	ColumnUserID            = "user_id"
	ColumnAssignedTherapist = "assigned_therapist"
)

var ErrForbidden = errors.New("forbidden")

// Principal is the acting user for one request.
type Principal struct {
	UserID int64
	Name   string
}

func (p Principal) Valid() bool {
	return p.UserID > 0
}

type Mode string

const (
	// ModeLenient treats students with a null owner as unclaimed and visible.
	ModeLenient Mode = "lenient"
	// ModeStrict hides null-owner students until ClaimOrphans assigns them.
	ModeStrict Mode = "strict"
)

func NormalizeMode(mode string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(mode))) {
	case ModeStrict, "true", "1", "yes":
		return ModeStrict
	default:
		return ModeLenient
	}
}

// OwnerColumn picks the ownership column a students schema exposes.
func OwnerColumn(cols store.ColumnSet) (string, bool) {
	return cols.First(ColumnUserID, ColumnAssignedTherapist)
}

// Filter returns the condition restricting a students query to rows p may see.
// alias qualifies the column when the students table is aliased in the query.
func Filter(p Principal, cols store.ColumnSet, mode Mode, alias string) store.Clause {
	column, ok := OwnerColumn(cols)
	if !ok || !p.Valid() {
		return store.Deny()
	}
	ref := `"` + column + `"`
	if alias != "" {
		ref = alias + "." + ref
	}
	if mode == ModeStrict {
		return store.Where(ref+" = ?", p.UserID)
	}
	return store.Where("("+ref+" = ? OR "+ref+" IS NULL)", p.UserID)
}

// Scoper applies Filter against the live students schema.
type Scoper struct {
	store  *store.Store
	schema *store.SchemaRegistry
	mode   Mode
}

func NewScoper(s *store.Store, schema *store.SchemaRegistry, mode Mode) *Scoper {
	return &Scoper{store: s, schema: schema, mode: mode}
}

func (s *Scoper) Mode() Mode {
	return s.mode
}

// ScopeFilter introspects the students table and returns the filter for p.
func (s *Scoper) ScopeFilter(ctx context.Context, p Principal) (store.Clause, error) {
	cols, err := s.schema.Columns(ctx, StudentsTable)
	if err != nil {
		return store.Clause{}, err
	}
	return Filter(p, cols, s.mode, ""), nil
}

// CheckOwns reports whether p may act on the student. Archived students are
// still owned.
func (s *Scoper) CheckOwns(ctx context.Context, p Principal, studentID int64) (bool, error) {
	if studentID <= 0 || !p.Valid() {
		return false, nil
	}
	cols, err := s.schema.Columns(ctx, StudentsTable)
	if err != nil {
		return false, err
	}
	if !cols.Has("id") {
		return false, nil
	}
	filter := Filter(p, cols, s.mode, "")
	where := store.Where(`"id" = ?`, studentID).And(filter)
	count, err := s.store.Count(ctx, `SELECT COUNT(*) FROM "students" WHERE `+where.SQL, where.Args...)
	if err != nil {
		return false, fmt.Errorf("check student ownership: %w", err)
	}
	return count > 0, nil
}

// Require is CheckOwns returning ErrForbidden instead of false.
func (s *Scoper) Require(ctx context.Context, p Principal, studentID int64) error {
	ok, err := s.CheckOwns(ctx, p, studentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("student %d: %w", studentID, ErrForbidden)
	}
	return nil
}

// ActiveClause hides soft-deleted students when the schema tracks them. The
// archived flag may be an integer or a boolean column; the cast reads both.
func ActiveClause(cols store.ColumnSet) store.Clause {
	clause := store.Clause{}
	if cols.Has("archived") {
		clause = clause.And(store.Where(`("archived" IS NULL OR CAST("archived" AS INTEGER) = 0)`))
	}
	if cols.Has("deleted_at") {
		clause = clause.And(store.Where(`"deleted_at" IS NULL`))
	}
	return clause
}

// StudentSubquery returns `"student_id" IN (SELECT id FROM students WHERE ...)`
// restricted to students p may see.
func (s *Scoper) StudentSubquery(ctx context.Context, p Principal, includeArchived bool) (store.Clause, error) {
	cols, err := s.schema.Columns(ctx, StudentsTable)
	if err != nil {
		return store.Clause{}, err
	}
	if !cols.Has("id") {
		return store.Deny(), nil
	}
	filter := Filter(p, cols, s.mode, "")
	if !includeArchived {
		filter = filter.And(ActiveClause(cols))
	}
	return store.Clause{
		SQL:  `"student_id" IN (SELECT "id" FROM "students" WHERE ` + filter.SQL + `)`,
		Args: filter.Args,
	}, nil
}

// Stamp writes p into every ownership column a new student row can carry.
func (s *Scoper) Stamp(p Principal, candidate store.Candidate) {
	candidate.Set(p.UserID, ColumnUserID, ColumnAssignedTherapist)
}

// ClaimOrphans assigns every student without an owner to userID. This is the
// migration step strict deployments run once.
func (s *Scoper) ClaimOrphans(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("claim orphans: invalid user id %d", userID)
	}
	cols, err := s.schema.Columns(ctx, StudentsTable)
	if err != nil {
		return 0, err
	}
	column, ok := OwnerColumn(cols)
	if !ok {
		return 0, fmt.Errorf("claim orphans: %w", store.ErrNoCompatibleColumns)
	}
	result, err := s.store.Exec(ctx, `UPDATE "students" SET "`+column+`" = ? WHERE "`+column+`" IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("claim orphans: %w", err)
	}
	return result.RowsAffected()
}
